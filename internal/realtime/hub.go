package realtime

import (
	"log/slog"
	"sync"
)

// Subscriber receives events for the board room it joined. Deliver
// must not block; slow consumers drop events and resync.
type Subscriber interface {
	Deliver(ev Event)
}

// Hub is the process-local room broadcaster: a map from board id to
// the set of channels currently viewing that board. It is mutated only
// by this process's own connect/disconnect handlers and is never
// shared across processes.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[Subscriber]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[Subscriber]struct{}),
		logger: logger,
	}
}

// Join admits a channel to a board room. Admission is gated upstream:
// callers must have resolved the channel's identity first.
func (h *Hub) Join(boardID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[boardID]
	if !ok {
		room = make(map[Subscriber]struct{})
		h.rooms[boardID] = room
	}
	room[sub] = struct{}{}
}

// Leave removes a channel from its room; empty rooms are deleted so
// memory does not grow with abandoned boards.
func (h *Hub) Leave(boardID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[boardID]
	if !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, boardID)
	}
}

// Broadcast delivers the event to every channel in the board's room,
// including the originator; renders are idempotent so echoing back is
// safe and keeps client logic simple.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.rooms[ev.BoardID]))
	for sub := range h.rooms[ev.BoardID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Deliver(ev)
	}
}

// RoomSize reports how many channels currently view the board.
func (h *Hub) RoomSize(boardID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[boardID])
}

// Close drops all room state at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms = make(map[string]map[Subscriber]struct{})
}
