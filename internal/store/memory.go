package store

import (
	"context"
	"sync"

	"retroloop/api/internal/board"
)

// Memory is the in-process backend used when no DATABASE_URL is
// configured, and by tests. Each board entry carries its own mutex so
// commits on one board never stall another board's.
type Memory struct {
	mu        sync.RWMutex
	boards    map[string]*memoryEntry
	users     map[string]board.User
	history   map[string][]string // userID -> board ids, oldest first
	templates map[string][]board.ColumnSpec
}

type memoryEntry struct {
	mu  sync.Mutex
	doc *board.Board
}

func NewMemory() *Memory {
	return &Memory{
		boards:    make(map[string]*memoryEntry),
		users:     make(map[string]board.User),
		history:   make(map[string][]string),
		templates: make(map[string][]board.ColumnSpec),
	}
}

func (s *Memory) entry(id string) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.boards[id]
	return e, ok
}

func (s *Memory) CreateBoard(ctx context.Context, b *board.Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := b.Clone()
	doc.Version = 1
	s.boards[doc.ID] = &memoryEntry{doc: doc}
	for _, u := range doc.Participants {
		s.appendHistoryLocked(u.ID, doc.ID)
	}
	b.Version = doc.Version
	return nil
}

func (s *Memory) GetBoard(ctx context.Context, id string) (*board.Board, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Clone(), nil
}

func (s *Memory) ApplyMutation(ctx context.Context, boardID string, m board.Mutation) (*board.Board, board.Delta, error) {
	e, ok := s.entry(boardID)
	if !ok {
		return nil, board.Delta{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	// Apply against a clone so a rejected mutation cannot leave a
	// half-applied document behind.
	next := e.doc.Clone()
	delta, err := board.Apply(next, m)
	if err != nil {
		return nil, board.Delta{}, err
	}
	next.Version = e.doc.Version + 1
	e.doc = next
	return next.Clone(), delta, nil
}

func (s *Memory) RegisterParticipant(ctx context.Context, boardID string, u board.User) error {
	e, ok := s.entry(boardID)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	e.doc.AddParticipant(u)
	e.mu.Unlock()

	s.mu.Lock()
	s.appendHistoryLocked(u.ID, boardID)
	s.mu.Unlock()
	return nil
}

func (s *Memory) appendHistoryLocked(userID, boardID string) {
	for _, id := range s.history[userID] {
		if id == boardID {
			return
		}
	}
	s.history[userID] = append(s.history[userID], boardID)
}

func (s *Memory) PreviousBoards(ctx context.Context, userID string) ([]BoardSummary, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.history[userID]...)
	s.mu.RUnlock()

	summaries := make([]BoardSummary, 0, len(ids))
	for _, id := range ids {
		e, ok := s.entry(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		summaries = append(summaries, BoardSummary{
			ID:        e.doc.ID,
			OwnerID:   e.doc.OwnerID,
			Posts:     len(e.doc.Posts),
			CreatedAt: e.doc.CreatedAt,
		})
		e.mu.Unlock()
	}
	return summaries, nil
}

func (s *Memory) UpsertUser(ctx context.Context, u board.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Memory) GetUser(ctx context.Context, id string) (board.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return board.User{}, ErrUserMissing
	}
	return u, nil
}

func (s *Memory) SetUserLanguage(ctx context.Context, id, language string) (board.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return board.User{}, ErrUserMissing
	}
	u.Language = language
	s.users[id] = u
	return u, nil
}

func (s *Memory) DefaultTemplate(ctx context.Context, userID string) ([]board.ColumnSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	specs, ok := s.templates[userID]
	if !ok {
		return nil, ErrNoTemplate
	}
	return append([]board.ColumnSpec(nil), specs...), nil
}

func (s *Memory) SetDefaultTemplate(ctx context.Context, userID string, specs []board.ColumnSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[userID] = append([]board.ColumnSpec(nil), specs...)
	return nil
}

func (s *Memory) Ping(ctx context.Context) error {
	return nil
}
