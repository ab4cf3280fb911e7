// Package board holds the retrospective board document model and the
// pure mutation transition function applied to it. Persistence and
// serialization of commits belong to internal/store; nothing in this
// package locks or does I/O.
package board

import (
	"time"
)

type AccountKind string

const (
	AccountRegistered AccountKind = "registered"
	AccountAnonymous  AccountKind = "anonymous"
)

type User struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	AccountKind AccountKind `json:"accountKind"`
	Language    string      `json:"language"`
}

type VoteKind string

const (
	VoteUp   VoteKind = "up"
	VoteDown VoteKind = "down"
)

// Vote records one direction of approval by one user. A user holds at
// most one vote of a given kind per post.
type Vote struct {
	UserID string   `json:"userId"`
	Kind   VoteKind `json:"kind"`
}

type Post struct {
	ID         string    `json:"id"`
	ColumnID   string    `json:"columnId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	Action     string    `json:"action,omitempty"`
	MediaID    string    `json:"mediaId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	Votes      []Vote    `json:"votes"`
}

// CountVotes returns the number of votes of the given kind on the post.
func (p *Post) CountVotes(kind VoteKind) int {
	count := 0
	for _, v := range p.Votes {
		if v.Kind == kind {
			count++
		}
	}
	return count
}

// HasVote reports whether the user currently holds a vote of the given
// kind on the post.
func (p *Post) HasVote(userID string, kind VoteKind) bool {
	for _, v := range p.Votes {
		if v.UserID == userID && v.Kind == kind {
			return true
		}
	}
	return false
}

type Column struct {
	ID    string     `json:"id"`
	Index int        `json:"index"`
	Type  ColumnType `json:"type"`
	Label string     `json:"label"`
	Color string     `json:"color"`
	Icon  string     `json:"icon"`
}

type Settings struct {
	Anonymous       bool `json:"anonymous"`
	AllowActions    bool `json:"allowActions"`
	AllowSelfVoting bool `json:"allowSelfVoting"`
}

// Board is the authoritative document for one retrospective session.
// Version is bumped by the store on every committed mutation and backs
// optimistic concurrency control.
type Board struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	Columns      []Column  `json:"columns"`
	Posts        []Post    `json:"posts"`
	Participants []User    `json:"participants"`
	Settings     Settings  `json:"settings"`
	Revealed     bool      `json:"revealed"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
}

// FindPost returns a pointer into b.Posts, or nil.
func (b *Board) FindPost(id string) *Post {
	for i := range b.Posts {
		if b.Posts[i].ID == id {
			return &b.Posts[i]
		}
	}
	return nil
}

// FindColumn returns a pointer into b.Columns, or nil.
func (b *Board) FindColumn(id string) *Column {
	for i := range b.Columns {
		if b.Columns[i].ID == id {
			return &b.Columns[i]
		}
	}
	return nil
}

// HasParticipant reports whether the user has joined the board.
func (b *Board) HasParticipant(userID string) bool {
	for _, u := range b.Participants {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// AddParticipant records a user in the participant set. Re-joining
// refreshes the stored display name and is otherwise a no-op.
func (b *Board) AddParticipant(u User) {
	for i := range b.Participants {
		if b.Participants[i].ID == u.ID {
			b.Participants[i] = u
			return
		}
	}
	b.Participants = append(b.Participants, u)
}

// Clone deep-copies the document so callers can hand out snapshots
// without exposing the store's canonical copy to mutation.
func (b *Board) Clone() *Board {
	clone := *b
	clone.Columns = append([]Column(nil), b.Columns...)
	clone.Participants = append([]User(nil), b.Participants...)
	clone.Posts = make([]Post, len(b.Posts))
	for i, p := range b.Posts {
		clone.Posts[i] = p
		clone.Posts[i].Votes = append([]Vote(nil), p.Votes...)
	}
	return &clone
}
