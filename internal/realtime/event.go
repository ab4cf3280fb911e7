// Package realtime fans committed change events out to connected
// channels: the Hub covers channels on this process, the Backplane
// replays events to and from other processes over Redis pub/sub.
package realtime

import (
	"retroloop/api/internal/board"
)

// Event is the minimal broadcast after a committed mutation. It
// carries a delta, never a board snapshot; clients that cannot
// reconcile a delta resync with a full board read.
type Event struct {
	BoardID      string      `json:"boardId"`
	Kind         board.Kind  `json:"mutationKind"`
	Delta        board.Delta `json:"delta"`
	OriginUserID string      `json:"originUserId"`
}
