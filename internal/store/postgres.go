package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"retroloop/api/internal/board"
)

// Postgres keeps each board document as a versioned JSONB row. The
// version column is the serialization discipline: a commit only lands
// when the version it read is still current, otherwise ErrConflict.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) DB() *sql.DB {
	return s.db
}

func (s *Postgres) CreateBoard(ctx context.Context, b *board.Board) error {
	doc := b.Clone()
	doc.Version = 1
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal board: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO boards (id, owner_id, doc, version, created_at)
		VALUES ($1, $2, $3, 1, $4)
	`, doc.ID, doc.OwnerID, payload, doc.CreatedAt); err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	for _, u := range doc.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO board_participants (board_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (board_id, user_id) DO NOTHING
		`, doc.ID, u.ID); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	b.Version = doc.Version
	return nil
}

func (s *Postgres) GetBoard(ctx context.Context, id string) (*board.Board, error) {
	return s.readBoard(ctx, id)
}

func (s *Postgres) readBoard(ctx context.Context, id string) (*board.Board, error) {
	var payload []byte
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT doc, version FROM boards WHERE id=$1`, id).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read board: %w", err)
	}
	var doc board.Board
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal board: %w", err)
	}
	doc.Version = version
	return &doc, nil
}

func (s *Postgres) ApplyMutation(ctx context.Context, boardID string, m board.Mutation) (*board.Board, board.Delta, error) {
	doc, err := s.readBoard(ctx, boardID)
	if err != nil {
		return nil, board.Delta{}, err
	}
	readVersion := doc.Version
	delta, err := board.Apply(doc, m)
	if err != nil {
		return nil, board.Delta{}, err
	}
	doc.Version = readVersion + 1

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, board.Delta{}, fmt.Errorf("marshal board: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE boards SET doc=$1, version=$2 WHERE id=$3 AND version=$4
	`, payload, doc.Version, boardID, readVersion)
	if err != nil {
		return nil, board.Delta{}, fmt.Errorf("update board: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, board.Delta{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, board.Delta{}, ErrConflict
	}
	return doc, delta, nil
}

func (s *Postgres) RegisterParticipant(ctx context.Context, boardID string, u board.User) error {
	// Participant membership lives both in the document (for clients)
	// and in the join table (for history queries). The document update
	// goes through the same versioned path as any commit; losing the
	// race to a concurrent mutation is fine because joins are
	// idempotent and re-run by the next admission.
	doc, err := s.readBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if !doc.HasParticipant(u.ID) {
		readVersion := doc.Version
		doc.AddParticipant(u)
		doc.Version = readVersion + 1
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal board: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `
			UPDATE boards SET doc=$1, version=$2 WHERE id=$3 AND version=$4
		`, payload, doc.Version, boardID, readVersion); err != nil {
			return fmt.Errorf("update board: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO board_participants (board_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (board_id, user_id) DO NOTHING
	`, boardID, u.ID); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (s *Postgres) PreviousBoards(ctx context.Context, userID string) ([]BoardSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.owner_id, jsonb_array_length(b.doc->'posts'), b.created_at
		FROM board_participants bp
		JOIN boards b ON b.id = bp.board_id
		WHERE bp.user_id = $1
		ORDER BY bp.joined_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list previous boards: %w", err)
	}
	defer rows.Close()

	summaries := []BoardSummary{}
	for rows.Next() {
		var s BoardSummary
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Posts, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (s *Postgres) UpsertUser(ctx context.Context, u board.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, account_kind, language)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET display_name=EXCLUDED.display_name, account_kind=EXCLUDED.account_kind, language=EXCLUDED.language
	`, u.ID, u.Name, string(u.AccountKind), u.Language)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Postgres) GetUser(ctx context.Context, id string) (board.User, error) {
	var u board.User
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, account_kind, language FROM users WHERE id=$1
	`, id).Scan(&u.ID, &u.Name, &kind, &u.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return board.User{}, ErrUserMissing
	}
	if err != nil {
		return board.User{}, fmt.Errorf("read user: %w", err)
	}
	u.AccountKind = board.AccountKind(kind)
	return u, nil
}

func (s *Postgres) SetUserLanguage(ctx context.Context, id, language string) (board.User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET language=$1 WHERE id=$2`, language, id)
	if err != nil {
		return board.User{}, fmt.Errorf("update language: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return board.User{}, ErrUserMissing
	}
	return s.GetUser(ctx, id)
}

func (s *Postgres) DefaultTemplate(ctx context.Context, userID string) ([]board.ColumnSpec, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT columns FROM user_templates WHERE user_id=$1`, userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoTemplate
	}
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	var specs []board.ColumnSpec
	if err := json.Unmarshal(payload, &specs); err != nil {
		return nil, fmt.Errorf("unmarshal template: %w", err)
	}
	return specs, nil
}

func (s *Postgres) SetDefaultTemplate(ctx context.Context, userID string, specs []board.ColumnSpec) error {
	payload, err := json.Marshal(specs)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO user_templates (user_id, columns)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET columns=EXCLUDED.columns
	`, userID, payload); err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
