package board

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrValidation marks a malformed or internally inconsistent
	// mutation, rejected before any partial effect.
	ErrValidation = errors.New("validation error")
	// ErrPostNotFound means the targeted post is gone; the client
	// should resync.
	ErrPostNotFound = errors.New("post not found")
	// ErrColumnNotFound means the referenced column does not belong to
	// the board.
	ErrColumnNotFound = errors.New("column not found")
)

// Kind names a mutation variant on the wire.
type Kind string

const (
	KindAddPost     Kind = "addPost"
	KindEditContent Kind = "editContent"
	KindEditAction  Kind = "editAction"
	KindSetMedia    Kind = "setMedia"
	KindDeletePost  Kind = "deletePost"
	KindToggleVote  Kind = "toggleVote"
	KindReorderPost Kind = "reorderPost"
	KindEditColumn  Kind = "editColumn"
	KindSetPhase    Kind = "setPhase"
)

// Mutation is a closed set of state-changing intents. Apply dispatches
// over it exhaustively; adding a variant without teaching Apply about
// it is a programming error and fails loudly.
type Mutation interface {
	Kind() Kind
}

type AddPost struct {
	PostID     string
	ColumnID   string
	AuthorID   string
	AuthorName string
	Content    string
	CreatedAt  time.Time
}

type EditContent struct {
	PostID  string
	Content string
}

type EditAction struct {
	PostID string
	Action string
}

type SetMedia struct {
	PostID  string
	MediaID string
}

type DeletePost struct {
	PostID string
}

type ToggleVote struct {
	PostID   string
	UserID   string
	VoteKind VoteKind
}

type ReorderPost struct {
	PostID   string
	ColumnID string
	Index    int
}

type EditColumn struct {
	ColumnID string
	Label    string
	Color    string
	Icon     string
}

type SetPhase struct {
	Revealed bool
}

func (AddPost) Kind() Kind     { return KindAddPost }
func (EditContent) Kind() Kind { return KindEditContent }
func (EditAction) Kind() Kind  { return KindEditAction }
func (SetMedia) Kind() Kind    { return KindSetMedia }
func (DeletePost) Kind() Kind  { return KindDeletePost }
func (ToggleVote) Kind() Kind  { return KindToggleVote }
func (ReorderPost) Kind() Kind { return KindReorderPost }
func (EditColumn) Kind() Kind  { return KindEditColumn }
func (SetPhase) Kind() Kind    { return KindSetPhase }

// Delta is the minimal change carried by a broadcast after a committed
// mutation. Exactly one of the entity fields is populated; a full board
// snapshot is never broadcast.
type Delta struct {
	Post     *Post   `json:"post,omitempty"`
	PostID   string  `json:"postId,omitempty"`
	Column   *Column `json:"column,omitempty"`
	Revealed *bool   `json:"revealed,omitempty"`
}

// Apply transitions the document under a single mutation. It either
// returns the delta of a fully applied mutation or leaves the document
// untouched and reports why. Callers own serialization; Apply assumes
// it is the only writer.
func Apply(b *Board, m Mutation) (Delta, error) {
	switch mut := m.(type) {
	case AddPost:
		return applyAddPost(b, mut)
	case EditContent:
		return applyEditContent(b, mut)
	case EditAction:
		return applyEditAction(b, mut)
	case SetMedia:
		return applySetMedia(b, mut)
	case DeletePost:
		return applyDeletePost(b, mut)
	case ToggleVote:
		return applyToggleVote(b, mut)
	case ReorderPost:
		return applyReorderPost(b, mut)
	case EditColumn:
		return applyEditColumn(b, mut)
	case SetPhase:
		return applySetPhase(b, mut)
	default:
		return Delta{}, fmt.Errorf("%w: unknown mutation kind %q", ErrValidation, m.Kind())
	}
}

func applyAddPost(b *Board, m AddPost) (Delta, error) {
	if strings.TrimSpace(m.Content) == "" {
		return Delta{}, fmt.Errorf("%w: post content is empty", ErrValidation)
	}
	if b.FindColumn(m.ColumnID) == nil {
		return Delta{}, fmt.Errorf("%w: %s", ErrColumnNotFound, m.ColumnID)
	}
	if b.FindPost(m.PostID) != nil {
		return Delta{}, fmt.Errorf("%w: post %s already exists", ErrValidation, m.PostID)
	}
	post := Post{
		ID:         m.PostID,
		ColumnID:   m.ColumnID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		Votes:      []Vote{},
	}
	b.Posts = append(b.Posts, post)
	return Delta{Post: &post}, nil
}

func applyEditContent(b *Board, m EditContent) (Delta, error) {
	if strings.TrimSpace(m.Content) == "" {
		return Delta{}, fmt.Errorf("%w: post content is empty", ErrValidation)
	}
	post := b.FindPost(m.PostID)
	if post == nil {
		return Delta{}, fmt.Errorf("%w: %s", ErrPostNotFound, m.PostID)
	}
	post.Content = m.Content
	return Delta{Post: snapshot(post)}, nil
}

func applyEditAction(b *Board, m EditAction) (Delta, error) {
	post := b.FindPost(m.PostID)
	if post == nil {
		return Delta{}, fmt.Errorf("%w: %s", ErrPostNotFound, m.PostID)
	}
	post.Action = m.Action
	return Delta{Post: snapshot(post)}, nil
}

func applySetMedia(b *Board, m SetMedia) (Delta, error) {
	post := b.FindPost(m.PostID)
	if post == nil {
		return Delta{}, fmt.Errorf("%w: %s", ErrPostNotFound, m.PostID)
	}
	post.MediaID = m.MediaID
	return Delta{Post: snapshot(post)}, nil
}

func applyDeletePost(b *Board, m DeletePost) (Delta, error) {
	for i := range b.Posts {
		if b.Posts[i].ID == m.PostID {
			b.Posts = append(b.Posts[:i], b.Posts[i+1:]...)
			return Delta{PostID: m.PostID}, nil
		}
	}
	return Delta{}, fmt.Errorf("%w: %s", ErrPostNotFound, m.PostID)
}

func applyToggleVote(b *Board, m ToggleVote) (Delta, error) {
	if m.VoteKind != VoteUp && m.VoteKind != VoteDown {
		return Delta{}, fmt.Errorf("%w: unknown vote kind %q", ErrValidation, m.VoteKind)
	}
	post := b.FindPost(m.PostID)
	if post == nil {
		return Delta{}, fmt.Errorf("%w: %s", ErrPostNotFound, m.PostID)
	}
	// Toggle semantics: a second vote of the same kind removes the
	// first; the opposite kind coexists.
	for i, v := range post.Votes {
		if v.UserID == m.UserID && v.Kind == m.VoteKind {
			post.Votes = append(post.Votes[:i], post.Votes[i+1:]...)
			return Delta{Post: snapshot(post)}, nil
		}
	}
	post.Votes = append(post.Votes, Vote{UserID: m.UserID, Kind: m.VoteKind})
	return Delta{Post: snapshot(post)}, nil
}

// applyReorderPost moves a post to a target position within a column,
// possibly across columns. The moved post takes the target per-column
// index; remaining posts keep their relative order so ties resolve by
// prior position.
func applyReorderPost(b *Board, m ReorderPost) (Delta, error) {
	if m.Index < 0 {
		return Delta{}, fmt.Errorf("%w: negative target index", ErrValidation)
	}
	if b.FindColumn(m.ColumnID) == nil {
		return Delta{}, fmt.Errorf("%w: %s", ErrColumnNotFound, m.ColumnID)
	}
	from := -1
	for i := range b.Posts {
		if b.Posts[i].ID == m.PostID {
			from = i
			break
		}
	}
	if from == -1 {
		return Delta{}, fmt.Errorf("%w: %s", ErrPostNotFound, m.PostID)
	}

	moved := b.Posts[from]
	moved.ColumnID = m.ColumnID
	rest := append(append([]Post{}, b.Posts[:from]...), b.Posts[from+1:]...)

	// Find the slice position of the target per-column index among the
	// remaining posts of the destination column.
	insertAt := len(rest)
	seen := 0
	for i := range rest {
		if rest[i].ColumnID != m.ColumnID {
			continue
		}
		if seen == m.Index {
			insertAt = i
			break
		}
		seen++
	}

	b.Posts = append(rest[:insertAt], append([]Post{moved}, rest[insertAt:]...)...)
	return Delta{Post: snapshot(&moved)}, nil
}

func applyEditColumn(b *Board, m EditColumn) (Delta, error) {
	if b.Revealed {
		return Delta{}, fmt.Errorf("%w: columns are locked after reveal", ErrValidation)
	}
	col := b.FindColumn(m.ColumnID)
	if col == nil {
		return Delta{}, fmt.Errorf("%w: %s", ErrColumnNotFound, m.ColumnID)
	}
	if m.Label != "" {
		col.Label = m.Label
	}
	if m.Color != "" {
		col.Color = m.Color
	}
	if m.Icon != "" {
		col.Icon = m.Icon
	}
	updated := *col
	return Delta{Column: &updated}, nil
}

func applySetPhase(b *Board, m SetPhase) (Delta, error) {
	b.Revealed = m.Revealed
	revealed := m.Revealed
	return Delta{Revealed: &revealed}, nil
}

// snapshot copies the post out of the document so a delta stays stable
// after later mutations.
func snapshot(p *Post) *Post {
	copied := *p
	copied.Votes = append([]Vote(nil), p.Votes...)
	return &copied
}
