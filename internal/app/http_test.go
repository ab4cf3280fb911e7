package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"retroloop/api/internal/board"
	"retroloop/api/internal/realtime"
	"retroloop/api/internal/session"
	"retroloop/api/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	svc := New(testConfig(), store.NewMemory(), session.NewMemoryStore(), realtime.NewHub(discardLogger()), nil, nil, discardLogger())
	server := httptest.NewServer(NewHTTPServer(svc, "*", discardLogger()).Handler())
	t.Cleanup(server.Close)
	return server, svc
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, raw
}

func loginHTTP(t *testing.T, server *httptest.Server, name string) Session {
	t.Helper()
	resp, raw := doJSON(t, http.MethodPost, server.URL+"/api/auth/anonymous", "", map[string]string{"name": name})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d: %s", resp.StatusCode, raw)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return sess
}

func TestPing(t *testing.T) {
	server, _ := newTestServer(t)
	resp, raw := doJSON(t, http.MethodGet, server.URL+"/api/ping", "", nil)
	if resp.StatusCode != http.StatusOK || string(raw) != "pong" {
		t.Fatalf("ping = %d %q", resp.StatusCode, raw)
	}
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	server, _ := newTestServer(t)
	for _, path := range []string{"/api/me", "/api/previous", "/api/me/default-template"} {
		resp, _ := doJSON(t, http.MethodGet, server.URL+path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d, want 401", path, resp.StatusCode)
		}
	}
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/create", "garbage-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("create with bad token = %d, want 401", resp.StatusCode)
	}
}

func TestAnonymousLoginAndBoardFlow(t *testing.T) {
	server, _ := newTestServer(t)
	sess := loginHTTP(t, server, "alice")
	if sess.Token == "" || sess.SessionToken == "" || sess.User.ID == "" {
		t.Fatalf("incomplete session: %+v", sess)
	}

	resp, raw := doJSON(t, http.MethodPost, server.URL+"/api/create", sess.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create = %d: %s", resp.StatusCode, raw)
	}
	var created board.Board
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if len(created.Columns) != 5 || created.OwnerID != sess.User.ID {
		t.Fatalf("created board = %+v", created)
	}

	resp, raw = doJSON(t, http.MethodGet, server.URL+"/api/board/"+created.ID, sess.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get board = %d: %s", resp.StatusCode, raw)
	}

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/board/does-not-exist", sess.Token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing board = %d, want 404", resp.StatusCode)
	}

	resp, raw = doJSON(t, http.MethodGet, server.URL+"/api/me", sess.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me = %d: %s", resp.StatusCode, raw)
	}
	var me board.User
	_ = json.Unmarshal(raw, &me)
	if me.ID != sess.User.ID || me.AccountKind != board.AccountAnonymous {
		t.Fatalf("me = %+v", me)
	}

	// Anonymous accounts get an empty history, not an error.
	resp, raw = doJSON(t, http.MethodGet, server.URL+"/api/previous", sess.Token, nil)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(raw)) != "[]" {
		t.Fatalf("previous = %d %q, want 200 []", resp.StatusCode, raw)
	}
}

func TestCustomBoardAndDefaultTemplate(t *testing.T) {
	server, _ := newTestServer(t)
	sess := loginHTTP(t, server, "alice")

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/me/default-template", sess.Token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("template before save = %d, want 404", resp.StatusCode)
	}

	resp, raw := doJSON(t, http.MethodPost, server.URL+"/api/create-custom", sess.Token, map[string]any{
		"options": map[string]bool{"allowActions": true},
		"columns": []map[string]string{
			{"type": "start"},
			{"type": "stop"},
			{"type": "continue"},
		},
		"setDefault": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create-custom = %d: %s", resp.StatusCode, raw)
	}
	var created board.Board
	_ = json.Unmarshal(raw, &created)
	if len(created.Columns) != 3 || created.Columns[0].Type != board.ColumnStart {
		t.Fatalf("custom board = %+v", created.Columns)
	}

	resp, raw = doJSON(t, http.MethodGet, server.URL+"/api/me/default-template", sess.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("template after save = %d: %s", resp.StatusCode, raw)
	}
	var specs []board.ColumnSpec
	_ = json.Unmarshal(raw, &specs)
	if len(specs) != 3 || specs[1].Type != board.ColumnStop {
		t.Fatalf("saved template = %+v", specs)
	}

	resp, raw = doJSON(t, http.MethodPost, server.URL+"/api/create-custom", sess.Token, map[string]any{
		"columns": []map[string]string{},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("zero columns = %d: %s", resp.StatusCode, raw)
	}
}

func TestSetLanguage(t *testing.T) {
	server, _ := newTestServer(t)
	sess := loginHTTP(t, server, "alice")

	resp, raw := doJSON(t, http.MethodPost, server.URL+"/api/me/language", sess.Token, map[string]string{"language": "fr"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set language = %d: %s", resp.StatusCode, raw)
	}
	var me board.User
	_ = json.Unmarshal(raw, &me)
	if me.Language != "fr" {
		t.Fatalf("language = %q, want fr", me.Language)
	}
}

func TestLogoutRevokesChannelAdmission(t *testing.T) {
	server, svc := newTestServer(t)
	sess := loginHTTP(t, server, "alice")

	if _, err := svc.ResolveSessionToken(context.Background(), sess.SessionToken); err != nil {
		t.Fatalf("resolve before logout: %v", err)
	}

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/logout", sess.Token, map[string]string{"sessionToken": sess.SessionToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout = %d", resp.StatusCode)
	}
	if _, err := svc.ResolveSessionToken(context.Background(), sess.SessionToken); err == nil {
		t.Fatal("session token survived logout")
	}
}

func wsURL(server *httptest.Server, sess Session, boardID string) string {
	return fmt.Sprintf("%s/ws?token=%s&board=%s", strings.Replace(server.URL, "http", "ws", 1), sess.SessionToken, boardID)
}

type wsFrame struct {
	Kind         string          `json:"kind"`
	Board        *board.Board    `json:"board"`
	MutationKind string          `json:"mutationKind"`
	Delta        board.Delta     `json:"delta"`
	OK           *bool           `json:"ok"`
	Code         string          `json:"code"`
	Raw          json.RawMessage `json:"-"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode frame %s: %v", raw, err)
	}
	frame.Raw = raw
	return frame
}

func TestChannelRejectsBadCredentials(t *testing.T) {
	server, _ := newTestServer(t)
	sess := loginHTTP(t, server, "alice")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, Session{SessionToken: "bogus"}, "any"), nil)
	if err == nil {
		t.Fatal("dial with bogus token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake status = %v, want 401", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(server, sess, "missing-board"), nil)
	if err == nil {
		t.Fatal("dial to missing board succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake status = %v, want 404", resp)
	}
}

func TestChannelMutationRoundTrip(t *testing.T) {
	server, svc := newTestServer(t)
	alice := loginHTTP(t, server, "alice")
	bob := loginHTTP(t, server, "bob")

	created, err := svc.CreateBoard(context.Background(), session.Identity{UserID: alice.User.ID, Name: alice.User.Name, AccountKind: alice.User.AccountKind})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}

	connA, _, err := websocket.DefaultDialer.Dial(wsURL(server, alice, created.ID), nil)
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer connA.Close()
	connB, _, err := websocket.DefaultDialer.Dial(wsURL(server, bob, created.ID), nil)
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer connB.Close()

	welcomeA := readFrame(t, connA)
	if welcomeA.Kind != "welcome" || welcomeA.Board == nil || welcomeA.Board.ID != created.ID {
		t.Fatalf("welcome = %s", welcomeA.Raw)
	}
	welcomeB := readFrame(t, connB)
	if !welcomeB.Board.HasParticipant(bob.User.ID) {
		t.Fatalf("bob not registered as participant: %s", welcomeB.Raw)
	}

	add := map[string]any{
		"kind":    "addPost",
		"boardId": created.ID,
		"payload": map[string]string{"columnId": created.Columns[0].ID, "content": "Standup is too long"},
	}
	if err := connA.WriteJSON(add); err != nil {
		t.Fatalf("write addPost: %v", err)
	}

	// Both rooms observe the committed delta, the originator included.
	for name, conn := range map[string]*websocket.Conn{"alice": connA, "bob": connB} {
		frame := readFrame(t, conn)
		if frame.MutationKind != "addPost" {
			t.Fatalf("%s frame = %s", name, frame.Raw)
		}
		if frame.Delta.Post == nil || frame.Delta.Post.Content != "Standup is too long" {
			t.Fatalf("%s delta = %s", name, frame.Raw)
		}
	}
}

func TestChannelRejectionIsSenderOnly(t *testing.T) {
	server, svc := newTestServer(t)
	alice := loginHTTP(t, server, "alice")
	bob := loginHTTP(t, server, "bob")

	created, err := svc.CreateBoard(context.Background(), session.Identity{UserID: alice.User.ID, Name: alice.User.Name, AccountKind: alice.User.AccountKind})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	seed, err := svc.Apply(context.Background(), session.Identity{UserID: alice.User.ID, Name: alice.User.Name, AccountKind: alice.User.AccountKind},
		created.ID, board.KindAddPost, payload(t, map[string]string{"columnId": created.Columns[0].ID, "content": "mine"}))
	if err != nil {
		t.Fatalf("seed post: %v", err)
	}

	connB, _, err := websocket.DefaultDialer.Dial(wsURL(server, bob, created.ID), nil)
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer connB.Close()
	readFrame(t, connB) // welcome

	edit := map[string]any{
		"kind":    "editContent",
		"boardId": created.ID,
		"payload": map[string]string{"postId": seed.Delta.Post.ID, "content": "defaced"},
	}
	if err := connB.WriteJSON(edit); err != nil {
		t.Fatalf("write edit: %v", err)
	}

	frame := readFrame(t, connB)
	if frame.OK == nil || *frame.OK || frame.Code != "Forbidden" {
		t.Fatalf("rejection frame = %s", frame.Raw)
	}

	got, _ := svc.GetBoard(context.Background(), created.ID)
	if got.Posts[0].Content != "mine" {
		t.Fatalf("rejected edit landed: %q", got.Posts[0].Content)
	}
}

// A client that stops answering pings is evicted from its room once
// the idle deadline passes.
func TestChannelIdleEviction(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.ClientIdleTimeout = 60 * time.Millisecond
	svc := New(cfg, store.NewMemory(), session.NewMemoryStore(), realtime.NewHub(discardLogger()), nil, nil, discardLogger())
	server := httptest.NewServer(NewHTTPServer(svc, "*", discardLogger()).Handler())
	defer server.Close()

	sess, err := svc.LoginAnonymous(context.Background(), "alice")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	identity := session.Identity{UserID: sess.User.ID, Name: sess.User.Name, AccountKind: sess.User.AccountKind}
	b, _ := svc.CreateBoard(context.Background(), identity)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, sess, b.ID), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for svc.Hub().RoomSize(b.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("channel never joined the room")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Never read from conn, so server pings go unanswered and the
	// read deadline fires.
	for svc.Hub().RoomSize(b.ID) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle channel was not evicted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChannelBoardMismatchForbidden(t *testing.T) {
	server, svc := newTestServer(t)
	alice := loginHTTP(t, server, "alice")
	identity := session.Identity{UserID: alice.User.ID, Name: alice.User.Name, AccountKind: alice.User.AccountKind}

	b1, _ := svc.CreateBoard(context.Background(), identity)
	b2, _ := svc.CreateBoard(context.Background(), identity)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, alice, b1.ID), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readFrame(t, conn) // welcome

	if err := conn.WriteJSON(map[string]any{
		"kind":    "addPost",
		"boardId": b2.ID,
		"payload": map[string]string{"columnId": b2.Columns[0].ID, "content": "smuggled"},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Code != "Forbidden" {
		t.Fatalf("frame = %s", frame.Raw)
	}
	got, _ := svc.GetBoard(context.Background(), b2.ID)
	if len(got.Posts) != 0 {
		t.Fatalf("cross-board mutation landed: %+v", got.Posts)
	}
}
