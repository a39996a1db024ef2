// Package orglock serializes mutating operations per organization so
// quota checks stay atomic with the writes they gate.
package orglock

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// ErrLockTimeout is returned when the per-organization lock cannot be
// acquired within the configured bound. Callers surface it as a
// conflict rather than queueing indefinitely.
var ErrLockTimeout = errors.New("org_lock_timeout")

// Locker serializes writers per organization. Acquire blocks up to the
// configured timeout and returns a release func on success.
type Locker interface {
	Acquire(ctx context.Context, orgID snowflake.ID) (release func(), err error)
}
