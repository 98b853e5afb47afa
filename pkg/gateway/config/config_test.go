package config

import (
	"testing"
	"time"
)

func clearConsultEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONSULT_ADDR", "CONSULT_AUTH_MODE", "CONSULT_API_KEYS",
		"CONSULT_TRUST_PROXY_HEADERS", "CONSULT_MAX_BODY_BYTES",
		"CONSULT_CORS_ORIGINS", "CONSULT_WORKFLOW_URL", "CONSULT_WORKFLOW_GRAPH",
		"CONSULT_WORKFLOW_API_KEY", "CONSULT_WORKFLOW_STREAM_TIMEOUT",
		"CONSULT_WORKFLOW_REQUEST_TIMEOUT", "CONSULT_ROOM_URL",
		"CONSULT_ROOM_API_KEY", "CONSULT_ROOM_API_SECRET",
		"CONSULT_ROOM_EMPTY_TIMEOUT", "CONSULT_ROOM_MAX_PARTICIPANTS",
		"CONSULT_ROOM_TOKEN_TTL", "CONSULT_ROOM_REUSE_WINDOW",
		"CONSULT_STORAGE_DSN", "CONSULT_TRANSCRIPT_DIR",
		"CONSULT_RPC_MAX_MESSAGE_BYTES", "CONSULT_RPC_PING_INTERVAL",
		"CONSULT_RPC_WRITE_TIMEOUT", "CONSULT_METRICS_NAMESPACE",
		"CONSULT_READ_HEADER_TIMEOUT", "CONSULT_READ_TIMEOUT",
		"CONSULT_TOTAL_REQUEST_TIMEOUT", "CONSULT_SHUTDOWN_GRACE_PERIOD",
		"CONSULT_CONNECT_TIMEOUT", "CONSULT_RESPONSE_HEADER_TIMEOUT",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearConsultEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeDisabled {
		t.Fatalf("auth_mode=%q", cfg.AuthMode)
	}
	if cfg.WorkflowBaseURL != "http://localhost:8123" {
		t.Fatalf("workflow url=%q", cfg.WorkflowBaseURL)
	}
	if cfg.WorkflowGraph != "designer_agent" {
		t.Fatalf("graph=%q", cfg.WorkflowGraph)
	}
	if cfg.RoomReuseWindow != 30*time.Second {
		t.Fatalf("reuse window=%v", cfg.RoomReuseWindow)
	}
	if cfg.StorageDSN != "" {
		t.Fatalf("dsn=%q, want empty (memory store)", cfg.StorageDSN)
	}
}

func TestLoadFromEnvAuthRequiredNeedsKeys(t *testing.T) {
	clearConsultEnv(t)
	t.Setenv("CONSULT_AUTH_MODE", "required")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error when required auth has no api keys")
	}

	t.Setenv("CONSULT_API_KEYS", "k1, k2")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("api keys=%d", len(cfg.APIKeys))
	}
	if _, ok := cfg.APIKeys["k2"]; !ok {
		t.Fatalf("k2 missing")
	}
}

func TestLoadFromEnvRejectsBadAuthMode(t *testing.T) {
	clearConsultEnv(t)
	t.Setenv("CONSULT_AUTH_MODE", "sometimes")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for invalid auth mode")
	}
}

func TestRoomHTTPURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"ws://localhost:7880", "http://localhost:7880"},
		{"wss://rooms.example.com", "https://rooms.example.com"},
		{"http://already-http", "http://already-http"},
	}
	for _, tc := range cases {
		cfg := Config{RoomServiceURL: tc.in}
		if got := cfg.RoomHTTPURL(); got != tc.want {
			t.Fatalf("%q -> %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoadFromEnvInvalidDurationFallsBack(t *testing.T) {
	clearConsultEnv(t)
	t.Setenv("CONSULT_ROOM_TOKEN_TTL", "not-a-duration")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.RoomTokenTTL != time.Hour {
		t.Fatalf("ttl=%v", cfg.RoomTokenTTL)
	}
}
