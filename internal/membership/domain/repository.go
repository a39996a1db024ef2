package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Insert(ctx context.Context, member Member) error
	Get(ctx context.Context, id snowflake.ID) (*Member, error)
	GetActiveByOrgUser(ctx context.Context, orgID, userID snowflake.ID) (*Member, error)
	Update(ctx context.Context, member *Member) error
	Delete(ctx context.Context, id snowflake.ID) error

	// ListActiveByOrg returns active members ordered by id, starting
	// after the cursor. Callers overfetch by one to detect more pages.
	ListActiveByOrg(ctx context.Context, orgID snowflake.ID, afterID snowflake.ID, limit int) ([]Member, error)
}
