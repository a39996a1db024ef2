package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsdash/internal/authorization"
	orgdomain "github.com/smallbiznis/opsdash/internal/organization/domain"
	"go.uber.org/zap"
)

var (
	ErrInvalidSession = errors.New("invalid_session")
	ErrNoSelection    = errors.New("no_current_organization")
)

type Service interface {
	// SetCurrentOrganization validates that the user holds an active
	// membership before recording the selection.
	SetCurrentOrganization(ctx context.Context, sessionID string, userID snowflake.ID, orgID string) error

	// CurrentOrganization returns the recorded selection, dropping it
	// when the membership has gone away since it was set.
	CurrentOrganization(ctx context.Context, sessionID string, userID snowflake.ID) (string, error)

	ClearCurrentOrganization(ctx context.Context, sessionID string) error
}

type service struct {
	store Store
	authz authorization.Service
	ttl   time.Duration
	log   *zap.Logger
}

func NewService(store Store, authz authorization.Service, ttl time.Duration, log *zap.Logger) Service {
	return &service{
		store: store,
		authz: authz,
		ttl:   ttl,
		log:   log.Named("session.service"),
	}
}

func (s *service) SetCurrentOrganization(ctx context.Context, sessionID string, userID snowflake.ID, orgID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidSession
	}
	parsed, err := snowflake.ParseString(strings.TrimSpace(orgID))
	if err != nil || parsed == 0 {
		return orgdomain.ErrInvalidOrganization
	}

	_, ok, err := s.authz.GetUserRole(ctx, userID, parsed)
	if err != nil {
		return err
	}
	if !ok {
		return orgdomain.ErrNotMember
	}

	return s.store.Set(ctx, sessionID, parsed.String(), s.ttl)
}

func (s *service) CurrentOrganization(ctx context.Context, sessionID string, userID snowflake.ID) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", ErrInvalidSession
	}

	orgID, ok, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoSelection
	}

	parsed, err := snowflake.ParseString(orgID)
	if err != nil {
		return "", ErrNoSelection
	}

	// Membership may have been revoked since the selection was stored.
	_, member, err := s.authz.GetUserRole(ctx, userID, parsed)
	if err != nil {
		return "", err
	}
	if !member {
		if err := s.store.Clear(ctx, sessionID); err != nil {
			s.log.Warn("failed to clear stale session selection", zap.Error(err))
		}
		return "", ErrNoSelection
	}
	return orgID, nil
}

func (s *service) ClearCurrentOrganization(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidSession
	}
	return s.store.Clear(ctx, sessionID)
}
