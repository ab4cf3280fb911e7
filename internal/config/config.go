package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string
	JWTSecret   string
	AccessTTL   time.Duration
	SessionTTL  time.Duration
	CORSOrigin  string
	// Redis - session store and cross-instance backplane.
	// Empty disables both and the process runs local-only.
	RedisURL      string
	EventsChannel string
	// Realtime channel tuning
	HeartbeatInterval time.Duration
	ClientIdleTimeout time.Duration
	// Jira - empty host disables ticket creation
	JiraBaseURL     string
	JiraProjectKey  string
	JiraEpicLink    string
	JiraKey         string
	JiraTimeout     time.Duration
	TicketClearWait time.Duration
}

func Load() Config {
	return Config{
		Addr:              getenv("API_ADDR", ":8081"),
		DatabaseURL:       getenv("DATABASE_URL", ""),
		JWTSecret:         getenv("RETROLOOP_JWT_SECRET", "retroloop-dev-secret"),
		AccessTTL:         time.Duration(getenvInt("RETROLOOP_ACCESS_TTL_SECONDS", 900)) * time.Second,
		SessionTTL:        time.Duration(getenvInt("RETROLOOP_SESSION_TTL_SECONDS", 2592000)) * time.Second,
		CORSOrigin:        getenv("RETROLOOP_CORS_ORIGIN", "*"),
		RedisURL:          getenv("REDIS_URL", ""),
		EventsChannel:     getenv("RETROLOOP_EVENTS_CHANNEL", "retroloop:events"),
		HeartbeatInterval: time.Duration(getenvInt("RETROLOOP_HEARTBEAT_SECONDS", 25)) * time.Second,
		ClientIdleTimeout: time.Duration(getenvInt("RETROLOOP_CLIENT_IDLE_SECONDS", 60)) * time.Second,
		JiraBaseURL:       getenv("JIRA_SERVER", ""),
		JiraProjectKey:    getenv("JIRA_PROJECT_KEY", ""),
		JiraEpicLink:      getenv("JIRA_EPIC_LINK", ""),
		JiraKey:           getenv("JIRA_KEY", ""),
		JiraTimeout:       time.Duration(getenvInt("JIRA_TIMEOUT_SECONDS", 10)) * time.Second,
		TicketClearWait:   time.Duration(getenvInt("RETROLOOP_TICKET_CLEAR_SECONDS", 5)) * time.Second,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
