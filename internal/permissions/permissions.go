// Package permissions computes the capability set a user holds over a
// post in the context of one board. Evaluation is a pure function of
// its inputs and is recomputed on every request: board settings and
// phase change under the user's feet, so capabilities are never cached
// across mutations.
package permissions

import "retroloop/api/internal/board"

// Capabilities is the full set of flags the realtime pipeline and the
// clients dispatch on.
type Capabilities struct {
	CanEdit         bool `json:"canEdit"`
	CanDelete       bool `json:"canDelete"`
	CanCreateAction bool `json:"canCreateAction"`
	CanUpVote       bool `json:"canUpVote"`
	CanDownVote     bool `json:"canDownVote"`
	CanShowAuthor   bool `json:"canShowAuthor"`
	CanReorder      bool `json:"canReorder"`
	CanUseMedia     bool `json:"canUseMedia"`
}

// Evaluate computes the capabilities of userID over post on b. post
// may be nil for board-scoped checks; post-scoped flags are then
// withheld.
func Evaluate(userID string, b *board.Board, post *board.Post) Capabilities {
	isOwner := userID == b.OwnerID
	isAuthor := post != nil && post.AuthorID == userID

	// Voting over your own post is gated by the self-voting setting;
	// everyone else always may vote.
	selfVoteBlocked := isAuthor && !b.Settings.AllowSelfVoting

	return Capabilities{
		CanEdit:         isAuthor,
		CanDelete:       isAuthor || isOwner,
		CanCreateAction: b.Settings.AllowActions && b.Revealed,
		CanUpVote:       post != nil && !selfVoteBlocked,
		CanDownVote:     post != nil && !selfVoteBlocked,
		CanShowAuthor:   !b.Settings.Anonymous || isOwner,
		CanReorder:      isOwner && !b.Revealed,
		CanUseMedia:     isAuthor,
	}
}
