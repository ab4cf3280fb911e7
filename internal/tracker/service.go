// Package tracker turns a post's action text into an issue in an
// external tracker (Jira v2 REST). Issuance is a side effect isolated
// from the board: it never mutates board state and its failures never
// fail or delay the mutation that produced the action text.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status is the issuance lifecycle for one post. Cleared is terminal;
// the only way back is a fresh CreateTicket which starts at Pending.
type Status string

const (
	StatusNone       Status = ""
	StatusPending    Status = "pending"
	StatusInProgress Status = "inProgress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusCleared    Status = "cleared"
)

type Config struct {
	BaseURL    string
	ProjectKey string
	EpicLink   string
	// Key is the pre-encoded Basic credential.
	Key     string
	Timeout time.Duration
	// ClearAfter is how long a terminal Success/Failed status stays
	// visible before auto-clearing.
	ClearAfter time.Duration
}

type Service struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	statuses map[string]Status
	timers   map[string]*time.Timer
}

func New(cfg Config, logger *slog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ClearAfter <= 0 {
		cfg.ClearAfter = 5 * time.Second
	}
	return &Service{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		statuses: make(map[string]Status),
		timers:   make(map[string]*time.Timer),
	}
}

// Enabled reports whether a tracker host is configured.
func (s *Service) Enabled() bool {
	return s.cfg.BaseURL != ""
}

// Status returns the current issuance status for a post.
func (s *Service) Status(postID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[postID]
}

type issueFields struct {
	Project struct {
		Key string `json:"key"`
	} `json:"project"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	IssueType   struct {
		Name string `json:"name"`
	} `json:"issuetype"`
	EpicLink string `json:"customfield_10001,omitempty"`
}

type issueRequest struct {
	Fields issueFields `json:"fields"`
}

type issueResponse struct {
	Key string `json:"key"`
}

// CreateTicket files an issue for the post's action text and returns
// the issue key. The call is bounded by the configured timeout; when it
// fires, the status transitions to Failed regardless of whether the
// remote call eventually lands.
func (s *Service) CreateTicket(ctx context.Context, postID, actionText string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("tracker is not configured")
	}

	s.transition(postID, StatusPending)
	s.transition(postID, StatusInProgress)

	key, err := s.fileIssue(ctx, actionText)
	if err != nil {
		s.settle(postID, StatusFailed)
		return "", err
	}
	s.settle(postID, StatusSuccess)
	return key, nil
}

func (s *Service) fileIssue(ctx context.Context, actionText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var req issueRequest
	req.Fields.Project.Key = s.cfg.ProjectKey
	req.Fields.Summary = actionText
	req.Fields.Description = actionText
	req.Fields.IssueType.Name = "Story"
	req.Fields.EpicLink = s.cfg.EpicLink

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal issue: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/rest/api/2/issue/", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+s.cfg.Key)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("create ticket: tracker returned %d", resp.StatusCode)
	}
	var parsed issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ticket response: %w", err)
	}
	if parsed.Key == "" {
		return "", fmt.Errorf("tracker response carried no issue key")
	}
	return parsed.Key, nil
}

func (s *Service) transition(postID string, next Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A fresh Pending supersedes any previous run, including Cleared.
	if next == StatusPending {
		s.stopTimerLocked(postID)
	}
	s.statuses[postID] = next
}

// settle records a terminal outcome and schedules the auto-clear. The
// timer is scoped to the post: deleting the post cancels it.
func (s *Service) settle(postID string, outcome Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[postID] = outcome
	s.stopTimerLocked(postID)
	s.timers[postID] = time.AfterFunc(s.cfg.ClearAfter, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Only clear if no fresh run replaced this outcome meanwhile.
		if s.statuses[postID] == outcome {
			s.statuses[postID] = StatusCleared
		}
		delete(s.timers, postID)
	})
}

// ForgetPost drops all issuance state for a deleted post, cancelling
// any pending auto-clear timer before it fires.
func (s *Service) ForgetPost(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked(postID)
	delete(s.statuses, postID)
}

func (s *Service) stopTimerLocked(postID string) {
	if timer, ok := s.timers[postID]; ok {
		timer.Stop()
		delete(s.timers, postID)
	}
}

// Close stops every outstanding timer at shutdown.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for postID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, postID)
	}
}
