package realtime

import (
	"log/slog"
	"testing"

	"retroloop/api/internal/board"
)

type captureSub struct {
	events []Event
}

func (c *captureSub) Deliver(ev Event) {
	c.events = append(c.events, ev)
}

func testEvent(boardID string) Event {
	return Event{
		BoardID:      boardID,
		Kind:         board.KindAddPost,
		Delta:        board.Delta{Post: &board.Post{ID: "p1"}},
		OriginUserID: "user-1",
	}
}

func TestHubBroadcastReachesRoomMembersOnly(t *testing.T) {
	hub := NewHub(slog.Default())
	inRoom1, inRoom2 := &captureSub{}, &captureSub{}
	elsewhere := &captureSub{}

	hub.Join("board-x", inRoom1)
	hub.Join("board-x", inRoom2)
	hub.Join("board-y", elsewhere)

	hub.Broadcast(testEvent("board-x"))

	if len(inRoom1.events) != 1 || len(inRoom2.events) != 1 {
		t.Errorf("room members got %d/%d events, want 1/1", len(inRoom1.events), len(inRoom2.events))
	}
	if len(elsewhere.events) != 0 {
		t.Errorf("other room got %d events, want 0", len(elsewhere.events))
	}
}

func TestHubIncludesOriginatingChannel(t *testing.T) {
	hub := NewHub(slog.Default())
	origin := &captureSub{}
	hub.Join("board-x", origin)

	hub.Broadcast(testEvent("board-x"))

	if len(origin.events) != 1 {
		t.Errorf("originating channel should receive its own event, got %d", len(origin.events))
	}
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	hub := NewHub(slog.Default())
	sub := &captureSub{}
	hub.Join("board-x", sub)
	hub.Leave("board-x", sub)

	hub.Broadcast(testEvent("board-x"))

	if len(sub.events) != 0 {
		t.Errorf("left channel still received %d events", len(sub.events))
	}
	if hub.RoomSize("board-x") != 0 {
		t.Errorf("empty room not cleaned up")
	}
}

func TestHubLeaveUnknownRoomIsNoop(t *testing.T) {
	hub := NewHub(slog.Default())
	hub.Leave("never-joined", &captureSub{})
}

func TestHubBroadcastToEmptyRoom(t *testing.T) {
	hub := NewHub(slog.Default())
	hub.Broadcast(testEvent("board-x"))
}

func TestHubCloseDropsAllRooms(t *testing.T) {
	hub := NewHub(slog.Default())
	sub := &captureSub{}
	hub.Join("board-x", sub)
	hub.Close()
	if hub.RoomSize("board-x") != 0 {
		t.Errorf("rooms survived Close")
	}
}
