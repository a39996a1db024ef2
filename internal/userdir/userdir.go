// Package userdir resolves invitee email addresses to user records.
// The in-memory resolver auto-provisions unknown addresses, which is
// enough for single-node deployments; production installs point the
// interface at the identity provider.
package userdir

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var ErrInvalidEmail = errors.New("invalid_email")

type User struct {
	ID    snowflake.ID
	Email string
}

type Resolver interface {
	// ResolveByEmail returns the user for an address, provisioning a
	// record when none exists.
	ResolveByEmail(ctx context.Context, email string) (User, error)
}

type MemoryResolver struct {
	mu    sync.Mutex
	node  *snowflake.Node
	users map[string]User
}

func NewMemoryResolver(node *snowflake.Node) *MemoryResolver {
	return &MemoryResolver{
		node:  node,
		users: make(map[string]User),
	}
}

func (r *MemoryResolver) ResolveByEmail(ctx context.Context, email string) (User, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[normalized]; ok {
		return user, nil
	}
	user := User{ID: r.node.Generate(), Email: normalized}
	r.users[normalized] = user
	return user, nil
}

// NormalizeEmail lowercases and validates an address.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", ErrInvalidEmail
	}
	return addr.Address, nil
}
