package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"retroloop/api/internal/board"
	"retroloop/api/internal/realtime"
	"retroloop/api/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser origins are vetted by the session token, not the
	// Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is what a connected participant sends over the channel.
type clientFrame struct {
	Kind    string          `json:"kind"`
	BoardID string          `json:"boardId"`
	Payload json.RawMessage `json:"payload"`
}

// rejection is sent back to the offending sender only. Successful
// mutations are observed through the room broadcast instead.
type rejection struct {
	OK   bool   `json:"ok"`
	Code string `json:"code"`
	Kind string `json:"kind,omitempty"`
}

func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	identity, err := s.service.ResolveSessionToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}

	boardID := r.URL.Query().Get("board")
	if boardID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Missing board parameter")
		return
	}
	b, err := s.service.JoinBoard(r.Context(), identity, boardID)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:     conn,
		server:   s,
		identity: identity,
		boardID:  b.ID,
		outbound: make(chan []byte, 64),
		done:     make(chan struct{}),
		logger:   s.logger.With("board_id", b.ID, "user_id", identity.UserID),
	}

	s.service.Hub().Join(b.ID, client)

	// The welcome frame carries the full board so the client does not
	// need a second fetch after the handshake.
	client.sendJSON(map[string]any{"kind": "welcome", "board": b})

	go client.writePump()
	client.readPump()
}

// wsClient is one admitted connection. It implements
// realtime.Subscriber: change events flow in through Deliver, client
// frames flow out through readPump into the mutation pipeline.
type wsClient struct {
	conn     *websocket.Conn
	server   *HTTPServer
	identity session.Identity
	boardID  string
	outbound chan []byte
	done     chan struct{}
	logger   *slog.Logger
}

// Deliver must never block the broadcasting goroutine. A client whose
// buffer is full is behind enough that dropping the frame is safer
// than stalling the room.
func (c *wsClient) Deliver(ev realtime.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("encode event", "error", err)
		return
	}
	select {
	case c.outbound <- payload:
	case <-c.done:
	default:
		c.logger.Warn("dropping event for slow client", "kind", ev.Kind)
	}
}

func (c *wsClient) sendJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("encode frame", "error", err)
		return
	}
	select {
	case c.outbound <- payload:
	case <-c.done:
	}
}

func (c *wsClient) readPump() {
	cfg := c.server.service.cfg
	defer func() {
		c.server.service.Hub().Leave(c.boardID, c)
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.ClientIdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.ClientIdleTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("websocket closed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.ClientIdleTimeout))

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendJSON(rejection{Code: "ValidationError"})
			continue
		}
		// A connection speaks for exactly one board, the one it was
		// admitted to.
		if frame.BoardID != "" && frame.BoardID != c.boardID {
			c.sendJSON(rejection{Code: "Forbidden", Kind: frame.Kind})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err = c.server.service.Apply(ctx, c.identity, c.boardID, board.Kind(frame.Kind), frame.Payload)
		cancel()
		if err != nil {
			c.sendJSON(rejection{Code: wsCode(err), Kind: frame.Kind})
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.server.service.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.outbound:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
