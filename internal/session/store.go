// Package session provides the connection session store: it maps an
// opaque session token to a resolved identity. The store is shared
// across processes when scaled out (Redis), so a channel admitted on
// any instance is gated by the same identity resolution.
package session

import (
	"context"
	"errors"
	"time"

	"retroloop/api/internal/board"
)

// ErrNotFound means the token resolves to no identity: unknown,
// expired, or revoked.
var ErrNotFound = errors.New("session not found")

// Identity is the resolved owner of a session token.
type Identity struct {
	UserID      string            `json:"userId"`
	Name        string            `json:"name"`
	AccountKind board.AccountKind `json:"accountKind"`
}

type Store interface {
	// Save associates the token hash with the identity until expiry.
	Save(ctx context.Context, tokenHash string, identity Identity, expiresAt time.Time) error
	// Resolve returns the identity for a token hash, or ErrNotFound.
	Resolve(ctx context.Context, tokenHash string) (Identity, error)
	Revoke(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
	Close() error
}
