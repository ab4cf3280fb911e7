package tracker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testService(t *testing.T, handler http.HandlerFunc, clearAfter time.Duration) *Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	svc := New(Config{
		BaseURL:    server.URL,
		ProjectKey: "RETRO",
		EpicLink:   "EPIC-1",
		Key:        "c2VjcmV0",
		Timeout:    2 * time.Second,
		ClearAfter: clearAfter,
	}, slog.Default())
	t.Cleanup(svc.Close)
	return svc
}

func TestCreateTicketSuccess(t *testing.T) {
	var gotAuth string
	var gotFields issueRequest
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotFields); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(issueResponse{Key: "RETRO-42"})
	}, time.Hour)

	key, err := svc.CreateTicket(context.Background(), "p1", "Shorten the standup")
	if err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}
	if key != "RETRO-42" {
		t.Errorf("key = %q", key)
	}
	if gotAuth != "Basic c2VjcmV0" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotFields.Fields.Summary != "Shorten the standup" || gotFields.Fields.Project.Key != "RETRO" {
		t.Errorf("fields = %+v", gotFields.Fields)
	}
	if gotFields.Fields.IssueType.Name != "Story" || gotFields.Fields.EpicLink != "EPIC-1" {
		t.Errorf("fields = %+v", gotFields.Fields)
	}
	if got := svc.Status("p1"); got != StatusSuccess {
		t.Errorf("status = %v, want success", got)
	}
}

func TestCreateTicketFailure(t *testing.T) {
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, time.Hour)

	if _, err := svc.CreateTicket(context.Background(), "p1", "action"); err == nil {
		t.Fatal("expected error from tracker failure")
	}
	if got := svc.Status("p1"); got != StatusFailed {
		t.Errorf("status = %v, want failed", got)
	}
}

func TestStatusAutoClears(t *testing.T) {
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(issueResponse{Key: "RETRO-1"})
	}, 30*time.Millisecond)

	if _, err := svc.CreateTicket(context.Background(), "p1", "action"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for svc.Status("p1") != StatusCleared {
		if time.Now().After(deadline) {
			t.Fatalf("status never cleared, stuck at %v", svc.Status("p1"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClearedIsTerminalUntilFreshRun(t *testing.T) {
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(issueResponse{Key: "RETRO-1"})
	}, 10*time.Millisecond)

	if _, err := svc.CreateTicket(context.Background(), "p1", "action"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for svc.Status("p1") != StatusCleared {
		if time.Now().After(deadline) {
			t.Fatal("status never cleared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A new user action re-enters the machine through Pending.
	if _, err := svc.CreateTicket(context.Background(), "p1", "another action"); err != nil {
		t.Fatal(err)
	}
	if got := svc.Status("p1"); got != StatusSuccess {
		t.Errorf("status after fresh run = %v, want success", got)
	}
}

func TestForgetPostCancelsTimer(t *testing.T) {
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(issueResponse{Key: "RETRO-1"})
	}, 30*time.Millisecond)

	if _, err := svc.CreateTicket(context.Background(), "p1", "action"); err != nil {
		t.Fatal(err)
	}
	svc.ForgetPost("p1")
	if got := svc.Status("p1"); got != StatusNone {
		t.Errorf("status after forget = %v, want none", got)
	}
	// The cancelled timer must not resurrect state once it would have
	// fired.
	time.Sleep(60 * time.Millisecond)
	if got := svc.Status("p1"); got != StatusNone {
		t.Errorf("timer fired after forget: %v", got)
	}
}

func TestCreateTicketTimesOut(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(block) })
	svc := New(Config{
		BaseURL: server.URL,
		Timeout: 50 * time.Millisecond,
	}, slog.Default())
	t.Cleanup(svc.Close)

	start := time.Now()
	if _, err := svc.CreateTicket(context.Background(), "p1", "action"); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v, want bounded by configured timeout", elapsed)
	}
	if got := svc.Status("p1"); got != StatusFailed {
		t.Errorf("status = %v, want failed", got)
	}
}

func TestDisabledTracker(t *testing.T) {
	svc := New(Config{}, slog.Default())
	t.Cleanup(svc.Close)
	if svc.Enabled() {
		t.Fatal("tracker without a base URL should be disabled")
	}
	if _, err := svc.CreateTicket(context.Background(), "p1", "action"); err == nil {
		t.Fatal("disabled tracker should reject ticket creation")
	}
}
