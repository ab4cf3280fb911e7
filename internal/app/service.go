package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"retroloop/api/internal/auth"
	"retroloop/api/internal/board"
	"retroloop/api/internal/config"
	"retroloop/api/internal/permissions"
	"retroloop/api/internal/realtime"
	"retroloop/api/internal/session"
	"retroloop/api/internal/store"
	"retroloop/api/internal/tracker"
)

// Session is the pair of credentials handed out at login: a short
// JWT for the REST boundary and an opaque token resolved against the
// shared session store for channel admission.
type Session struct {
	Token        string     `json:"token"`
	SessionToken string     `json:"sessionToken"`
	User         board.User `json:"user"`
}

// CreateBoardInput mirrors the create-custom request body.
type CreateBoardInput struct {
	Settings   board.Settings     `json:"options"`
	Columns    []board.ColumnSpec `json:"columns"`
	SetDefault bool               `json:"setDefault"`
}

// Service orchestrates the mutation pipeline: resolve identity,
// evaluate permissions, translate the intent, commit through the
// store, then fan the change event out locally and over the backplane.
type Service struct {
	cfg       config.Config
	store     store.Store
	sessions  session.Store
	hub       *realtime.Hub
	backplane *realtime.Backplane
	tracker   *tracker.Service
	logger    *slog.Logger
}

// New wires the service. backplane may be nil, which keeps every
// broadcast process-local.
func New(cfg config.Config, dataStore store.Store, sessions session.Store, hub *realtime.Hub, backplane *realtime.Backplane, trackerSvc *tracker.Service, logger *slog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		hub:       hub,
		backplane: backplane,
		tracker:   trackerSvc,
		logger:    logger,
	}
}

func (s *Service) Hub() *realtime.Hub {
	return s.hub
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	return nil
}

// LoginAnonymous is the one identity-creation path that requires no
// prior identity. Provider-backed logins are external to this core and
// would call establishSession with a registered user.
func (s *Service) LoginAnonymous(ctx context.Context, name string) (Session, error) {
	if name == "" {
		return Session{}, errValidation("name is required")
	}
	user := board.User{
		ID:          uuid.NewString(),
		Name:        name,
		AccountKind: board.AccountAnonymous,
		Language:    "en",
	}
	return s.establishSession(ctx, user)
}

func (s *Service) establishSession(ctx context.Context, user board.User) (Session, error) {
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return Session{}, fmt.Errorf("save user: %w", err)
	}
	sessionToken := auth.NewSessionToken()
	identity := session.Identity{UserID: user.ID, Name: user.Name, AccountKind: user.AccountKind}
	expiresAt := time.Now().Add(s.cfg.SessionTTL)
	if err := s.sessions.Save(ctx, auth.HashToken(sessionToken), identity, expiresAt); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	access, err := auth.IssueAccessToken([]byte(s.cfg.JWTSecret), user.ID, user.Name, string(user.AccountKind), s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: access, SessionToken: sessionToken, User: user}, nil
}

// IdentityFromAccessToken authenticates a REST request.
func (s *Service) IdentityFromAccessToken(ctx context.Context, token string) (session.Identity, error) {
	claims, err := auth.ParseAccessToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return session.Identity{}, err
	}
	return session.Identity{
		UserID:      claims.Subject,
		Name:        claims.Name,
		AccountKind: board.AccountKind(claims.AccountKind),
	}, nil
}

// ResolveSessionToken authenticates a persistent channel against the
// shared session store before room admission.
func (s *Service) ResolveSessionToken(ctx context.Context, token string) (session.Identity, error) {
	if token == "" {
		return session.Identity{}, session.ErrNotFound
	}
	return s.sessions.Resolve(ctx, auth.HashToken(token))
}

func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, auth.HashToken(sessionToken))
}

func (s *Service) CreateBoard(ctx context.Context, identity session.Identity) (*board.Board, error) {
	return s.createBoard(ctx, identity, CreateBoardInput{
		Columns:  board.DefaultTemplate(),
		Settings: board.Settings{AllowActions: true},
	})
}

func (s *Service) CreateCustomBoard(ctx context.Context, identity session.Identity, input CreateBoardInput) (*board.Board, error) {
	b, err := s.createBoard(ctx, identity, input)
	if err != nil {
		return nil, err
	}
	if input.SetDefault {
		specs := make([]board.ColumnSpec, len(input.Columns))
		for i, spec := range input.Columns {
			specs[i] = board.NormalizeSpec(spec)
		}
		if err := s.store.SetDefaultTemplate(ctx, identity.UserID, specs); err != nil {
			s.logger.Warn("saving default template failed", "user", identity.UserID, "error", err)
		}
	}
	return b, nil
}

func (s *Service) createBoard(ctx context.Context, identity session.Identity, input CreateBoardInput) (*board.Board, error) {
	owner := board.User{ID: identity.UserID, Name: identity.Name, AccountKind: identity.AccountKind}
	b, err := board.NewBoard(owner, input.Columns, input.Settings)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateBoard(ctx, b); err != nil {
		return nil, fmt.Errorf("create board: %w", err)
	}
	s.logger.Info("board created", "board", b.ID, "owner", owner.ID, "columns", len(b.Columns))
	return b, nil
}

// GetBoard is the full resync read; clients fall back to it whenever
// they cannot reconcile an incremental delta.
func (s *Service) GetBoard(ctx context.Context, id string) (*board.Board, error) {
	return s.store.GetBoard(ctx, id)
}

// JoinBoard registers the user as a participant ahead of room
// admission.
func (s *Service) JoinBoard(ctx context.Context, identity session.Identity, boardID string) (*board.Board, error) {
	user := board.User{ID: identity.UserID, Name: identity.Name, AccountKind: identity.AccountKind}
	if err := s.store.RegisterParticipant(ctx, boardID, user); err != nil {
		return nil, err
	}
	return s.store.GetBoard(ctx, boardID)
}

func (s *Service) Me(ctx context.Context, identity session.Identity) (board.User, error) {
	user, err := s.store.GetUser(ctx, identity.UserID)
	if errors.Is(err, store.ErrUserMissing) {
		return board.User{ID: identity.UserID, Name: identity.Name, AccountKind: identity.AccountKind}, nil
	}
	return user, err
}

// PreviousBoards lists boards the user took part in. Anonymous
// accounts have no durable history: they get an empty list, never an
// error.
func (s *Service) PreviousBoards(ctx context.Context, identity session.Identity) ([]store.BoardSummary, error) {
	if identity.AccountKind == board.AccountAnonymous {
		return []store.BoardSummary{}, nil
	}
	return s.store.PreviousBoards(ctx, identity.UserID)
}

func (s *Service) SetLanguage(ctx context.Context, identity session.Identity, language string) (board.User, error) {
	if language == "" {
		return board.User{}, errValidation("language is required")
	}
	return s.store.SetUserLanguage(ctx, identity.UserID, language)
}

func (s *Service) DefaultTemplate(ctx context.Context, identity session.Identity) ([]board.ColumnSpec, error) {
	return s.store.DefaultTemplate(ctx, identity.UserID)
}

// Apply runs one client intent through the pipeline. A version
// conflict is retried exactly once against a fresh read, permissions
// re-evaluated; a second conflict surfaces to the sender.
func (s *Service) Apply(ctx context.Context, identity session.Identity, boardID string, kind board.Kind, payload json.RawMessage) (realtime.Event, error) {
	// Assigned up front so a conflict retry commits the same post id.
	newPostID := uuid.NewString()

	ev, err := s.applyOnce(ctx, identity, boardID, kind, payload, newPostID)
	if errors.Is(err, store.ErrConflict) {
		s.logger.Info("mutation conflicted, retrying once", "board", boardID, "kind", kind, "user", identity.UserID)
		ev, err = s.applyOnce(ctx, identity, boardID, kind, payload, newPostID)
		if errors.Is(err, store.ErrConflict) {
			return realtime.Event{}, errConflict()
		}
	}
	if err != nil {
		return realtime.Event{}, err
	}

	s.broadcast(ctx, ev)
	return ev, nil
}

func (s *Service) applyOnce(ctx context.Context, identity session.Identity, boardID string, kind board.Kind, payload json.RawMessage, newPostID string) (realtime.Event, error) {
	b, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return realtime.Event{}, err
	}
	m, err := s.translate(identity, b, kind, payload, newPostID)
	if err != nil {
		return realtime.Event{}, err
	}
	_, delta, err := s.store.ApplyMutation(ctx, boardID, m)
	if err != nil {
		return realtime.Event{}, err
	}
	return realtime.Event{
		BoardID:      boardID,
		Kind:         kind,
		Delta:        delta,
		OriginUserID: identity.UserID,
	}, nil
}

// translate authorizes and converts a wire intent into a store
// mutation. Capabilities come from a fresh evaluation against the
// board just read; they are never cached across mutations.
func (s *Service) translate(identity session.Identity, b *board.Board, kind board.Kind, payload json.RawMessage, newPostID string) (board.Mutation, error) {
	switch kind {
	case board.KindAddPost:
		var p struct {
			ColumnID string `json:"columnId"`
			Content  string `json:"content"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		return board.AddPost{
			PostID:     newPostID,
			ColumnID:   p.ColumnID,
			AuthorID:   identity.UserID,
			AuthorName: identity.Name,
			Content:    p.Content,
			CreatedAt:  time.Now().UTC(),
		}, nil

	case board.KindEditContent:
		var p struct {
			PostID  string `json:"postId"`
			Content string `json:"content"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		caps, err := s.capsFor(identity, b, p.PostID)
		if err != nil {
			return nil, err
		}
		if !caps.CanEdit {
			return nil, errForbidden()
		}
		return board.EditContent{PostID: p.PostID, Content: p.Content}, nil

	case board.KindEditAction:
		var p struct {
			PostID string `json:"postId"`
			Action string `json:"action"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		caps, err := s.capsFor(identity, b, p.PostID)
		if err != nil {
			return nil, err
		}
		if !caps.CanCreateAction {
			return nil, errForbidden()
		}
		return board.EditAction{PostID: p.PostID, Action: p.Action}, nil

	case board.KindSetMedia:
		var p struct {
			PostID  string `json:"postId"`
			MediaID string `json:"mediaId"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		caps, err := s.capsFor(identity, b, p.PostID)
		if err != nil {
			return nil, err
		}
		if !caps.CanEdit || !caps.CanUseMedia {
			return nil, errForbidden()
		}
		return board.SetMedia{PostID: p.PostID, MediaID: p.MediaID}, nil

	case board.KindDeletePost:
		var p struct {
			PostID string `json:"postId"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		caps, err := s.capsFor(identity, b, p.PostID)
		if err != nil {
			return nil, err
		}
		if !caps.CanDelete {
			return nil, errForbidden()
		}
		return board.DeletePost{PostID: p.PostID}, nil

	case board.KindToggleVote:
		var p struct {
			PostID string         `json:"postId"`
			Vote   board.VoteKind `json:"vote"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		caps, err := s.capsFor(identity, b, p.PostID)
		if err != nil {
			return nil, err
		}
		switch p.Vote {
		case board.VoteUp:
			if !caps.CanUpVote {
				return nil, errForbidden()
			}
		case board.VoteDown:
			if !caps.CanDownVote {
				return nil, errForbidden()
			}
		default:
			return nil, errValidation("unknown vote kind")
		}
		return board.ToggleVote{PostID: p.PostID, UserID: identity.UserID, VoteKind: p.Vote}, nil

	case board.KindReorderPost:
		var p struct {
			PostID   string `json:"postId"`
			ColumnID string `json:"columnId"`
			Index    int    `json:"index"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		caps, err := s.capsFor(identity, b, p.PostID)
		if err != nil {
			return nil, err
		}
		if !caps.CanReorder {
			return nil, errForbidden()
		}
		return board.ReorderPost{PostID: p.PostID, ColumnID: p.ColumnID, Index: p.Index}, nil

	case board.KindEditColumn:
		var p struct {
			ColumnID string `json:"columnId"`
			Label    string `json:"label"`
			Color    string `json:"color"`
			Icon     string `json:"icon"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if identity.UserID != b.OwnerID || b.Revealed {
			return nil, errForbidden()
		}
		return board.EditColumn{ColumnID: p.ColumnID, Label: p.Label, Color: p.Color, Icon: p.Icon}, nil

	case board.KindSetPhase:
		var p struct {
			Revealed bool `json:"revealed"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if identity.UserID != b.OwnerID {
			return nil, errForbidden()
		}
		return board.SetPhase{Revealed: p.Revealed}, nil

	default:
		return nil, errValidation(fmt.Sprintf("unknown mutation kind %q", kind))
	}
}

func (s *Service) capsFor(identity session.Identity, b *board.Board, postID string) (permissions.Capabilities, error) {
	post := b.FindPost(postID)
	if post == nil {
		return permissions.Capabilities{}, errNotFound("post not found")
	}
	return permissions.Evaluate(identity.UserID, b, post), nil
}

// broadcast fans a committed event out to the local room and the
// backplane. A backplane failure degrades to local-only delivery; the
// commit already happened and the store stays the source of truth.
func (s *Service) broadcast(ctx context.Context, ev realtime.Event) {
	s.hub.Broadcast(ev)
	if s.backplane != nil {
		if err := s.backplane.Publish(ctx, ev); err != nil {
			s.logger.Warn("backplane publish failed, local-only delivery", "board", ev.BoardID, "kind", ev.Kind, "error", err)
		}
	}
	if ev.Kind == board.KindDeletePost && ev.Delta.PostID != "" && s.tracker != nil {
		s.tracker.ForgetPost(ev.Delta.PostID)
	}
}

// CreateTicket files a tracker issue from the post's action text. The
// outcome is isolated to the requesting client: it is never broadcast
// and never affects the board.
func (s *Service) CreateTicket(ctx context.Context, identity session.Identity, boardID, postID string) (string, error) {
	if s.tracker == nil || !s.tracker.Enabled() {
		return "", errUnavailable("issue tracker is not configured")
	}
	b, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return "", err
	}
	post := b.FindPost(postID)
	if post == nil {
		return "", errNotFound("post not found")
	}
	if post.Action == "" {
		return "", errValidation("post has no action text")
	}
	key, err := s.tracker.CreateTicket(ctx, postID, post.Action)
	if err != nil {
		s.logger.Warn("ticket creation failed", "board", boardID, "post", postID, "error", err)
		return "", errExternal("ticket creation failed")
	}
	return key, nil
}

func (s *Service) TicketStatus(postID string) tracker.Status {
	if s.tracker == nil {
		return tracker.StatusNone
	}
	return s.tracker.Status(postID)
}

func decodePayload(payload json.RawMessage, target any) error {
	if len(payload) == 0 {
		return errValidation("missing payload")
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return errValidation("malformed payload")
	}
	return nil
}
