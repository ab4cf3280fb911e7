// Package store persists board documents and user records. It is the
// single source of truth: every other component holds at most copies
// of change events and can recover a consistent view with GetBoard.
//
// Commits for one board are strictly serialized. The memory backend
// holds a per-board mutex; the Postgres backend relies on an optimistic
// version check and reports ErrConflict on a stale write.
package store

import (
	"context"
	"errors"
	"time"

	"retroloop/api/internal/board"
)

var (
	ErrNotFound = errors.New("board not found")
	// ErrConflict is an optimistic-concurrency mismatch: the document
	// changed between read and write. Callers retry once with a fresh
	// read before surfacing it.
	ErrConflict    = errors.New("board version conflict")
	ErrNoTemplate  = errors.New("no default template")
	ErrUserMissing = errors.New("user not found")
)

// BoardSummary is the lightweight listing entry for previous sessions.
type BoardSummary struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Posts     int       `json:"posts"`
	CreatedAt time.Time `json:"createdAt"`
}

type Store interface {
	CreateBoard(ctx context.Context, b *board.Board) error
	GetBoard(ctx context.Context, id string) (*board.Board, error)
	// ApplyMutation commits one mutation against the current document
	// and returns the committed document and the resulting delta.
	ApplyMutation(ctx context.Context, boardID string, m board.Mutation) (*board.Board, board.Delta, error)
	// RegisterParticipant adds the user to the board's participant set
	// and records the board in the user's history.
	RegisterParticipant(ctx context.Context, boardID string, u board.User) error
	PreviousBoards(ctx context.Context, userID string) ([]BoardSummary, error)

	UpsertUser(ctx context.Context, u board.User) error
	GetUser(ctx context.Context, id string) (board.User, error)
	SetUserLanguage(ctx context.Context, id, language string) (board.User, error)

	DefaultTemplate(ctx context.Context, userID string) ([]board.ColumnSpec, error)
	SetDefaultTemplate(ctx context.Context, userID string, specs []board.ColumnSpec) error

	Ping(ctx context.Context) error
}
