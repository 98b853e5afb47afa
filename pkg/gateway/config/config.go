package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the gateway is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Workflow service (thread creation, state, streaming runs).
	WorkflowBaseURL string
	WorkflowGraph   string
	WorkflowAPIKey  string

	WorkflowStreamTimeout  time.Duration
	WorkflowRequestTimeout time.Duration

	// Room service (real-time voice transport).
	RoomServiceURL      string // ws:// or wss://; the HTTP API URL is derived
	RoomAPIKey          string
	RoomAPISecret       string
	RoomEmptyTimeout    time.Duration
	RoomMaxParticipants int
	RoomTokenTTL        time.Duration
	RoomReuseWindow     time.Duration

	// Durable storage. Empty DSN selects the in-memory store.
	StorageDSN    string
	TranscriptDir string

	// Agent RPC WebSocket (/v1/rpc).
	RPCMaxMessageBytes int64
	RPCPingInterval    time.Duration
	RPCWriteTimeout    time.Duration

	MetricsNamespace string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("CONSULT_ADDR", ":8080"),
		AuthMode:                      AuthMode(envOr("CONSULT_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:                       make(map[string]struct{}),
		TrustProxyHeaders:             envBoolOr("CONSULT_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:                  envInt64Or("CONSULT_MAX_BODY_BYTES", 4<<20), // 4 MiB
		CORSAllowedOrigins:            make(map[string]struct{}),
		WorkflowBaseURL:               envOr("CONSULT_WORKFLOW_URL", "http://localhost:8123"),
		WorkflowGraph:                 envOr("CONSULT_WORKFLOW_GRAPH", "designer_agent"),
		WorkflowAPIKey:                strings.TrimSpace(os.Getenv("CONSULT_WORKFLOW_API_KEY")),
		WorkflowStreamTimeout:         envDurationOr("CONSULT_WORKFLOW_STREAM_TIMEOUT", 5*time.Minute),
		WorkflowRequestTimeout:        envDurationOr("CONSULT_WORKFLOW_REQUEST_TIMEOUT", 30*time.Second),
		RoomServiceURL:                envOr("CONSULT_ROOM_URL", "ws://localhost:7880"),
		RoomAPIKey:                    envOr("CONSULT_ROOM_API_KEY", "devkey"),
		RoomAPISecret:                 envOr("CONSULT_ROOM_API_SECRET", "devsecret"),
		RoomEmptyTimeout:              envDurationOr("CONSULT_ROOM_EMPTY_TIMEOUT", 10*time.Minute),
		RoomMaxParticipants:           envIntOr("CONSULT_ROOM_MAX_PARTICIPANTS", 2),
		RoomTokenTTL:                  envDurationOr("CONSULT_ROOM_TOKEN_TTL", time.Hour),
		RoomReuseWindow:               envDurationOr("CONSULT_ROOM_REUSE_WINDOW", 30*time.Second),
		StorageDSN:                    strings.TrimSpace(os.Getenv("CONSULT_STORAGE_DSN")),
		TranscriptDir:                 envOr("CONSULT_TRANSCRIPT_DIR", "data/transcriptions"),
		RPCMaxMessageBytes:            envInt64Or("CONSULT_RPC_MAX_MESSAGE_BYTES", 64*1024),
		RPCPingInterval:               envDurationOr("CONSULT_RPC_PING_INTERVAL", 20*time.Second),
		RPCWriteTimeout:               envDurationOr("CONSULT_RPC_WRITE_TIMEOUT", 5*time.Second),
		MetricsNamespace:              envOr("CONSULT_METRICS_NAMESPACE", "consult"),
		ReadHeaderTimeout:             envDurationOr("CONSULT_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("CONSULT_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:                envDurationOr("CONSULT_TOTAL_REQUEST_TIMEOUT", 10*time.Minute),
		ShutdownGracePeriod:           envDurationOr("CONSULT_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("CONSULT_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("CONSULT_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("CONSULT_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("CONSULT_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("CONSULT_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("CONSULT_MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.WorkflowBaseURL) == "" {
		return Config{}, fmt.Errorf("CONSULT_WORKFLOW_URL must not be empty")
	}
	if strings.TrimSpace(cfg.WorkflowGraph) == "" {
		return Config{}, fmt.Errorf("CONSULT_WORKFLOW_GRAPH must not be empty")
	}
	if cfg.WorkflowStreamTimeout <= 0 {
		return Config{}, fmt.Errorf("CONSULT_WORKFLOW_STREAM_TIMEOUT must be > 0")
	}
	if cfg.WorkflowRequestTimeout <= 0 {
		return Config{}, fmt.Errorf("CONSULT_WORKFLOW_REQUEST_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.RoomServiceURL) == "" {
		return Config{}, fmt.Errorf("CONSULT_ROOM_URL must not be empty")
	}
	if strings.TrimSpace(cfg.RoomAPIKey) == "" || strings.TrimSpace(cfg.RoomAPISecret) == "" {
		return Config{}, fmt.Errorf("CONSULT_ROOM_API_KEY and CONSULT_ROOM_API_SECRET must not be empty")
	}
	if cfg.RoomEmptyTimeout <= 0 {
		return Config{}, fmt.Errorf("CONSULT_ROOM_EMPTY_TIMEOUT must be > 0")
	}
	if cfg.RoomMaxParticipants <= 0 {
		return Config{}, fmt.Errorf("CONSULT_ROOM_MAX_PARTICIPANTS must be > 0")
	}
	if cfg.RoomTokenTTL <= 0 {
		return Config{}, fmt.Errorf("CONSULT_ROOM_TOKEN_TTL must be > 0")
	}
	if cfg.RoomReuseWindow < 0 {
		return Config{}, fmt.Errorf("CONSULT_ROOM_REUSE_WINDOW must be >= 0")
	}
	if strings.TrimSpace(cfg.TranscriptDir) == "" {
		return Config{}, fmt.Errorf("CONSULT_TRANSCRIPT_DIR must not be empty")
	}
	if cfg.RPCMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("CONSULT_RPC_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.RPCPingInterval <= 0 {
		return Config{}, fmt.Errorf("CONSULT_RPC_PING_INTERVAL must be > 0")
	}
	if cfg.RPCWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("CONSULT_RPC_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CONSULT_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("CONSULT_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("CONSULT_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CONSULT_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("CONSULT_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CONSULT_RESPONSE_HEADER_TIMEOUT must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("CONSULT_API_KEYS must be set when CONSULT_AUTH_MODE=required")
	}

	return cfg, nil
}

// RoomHTTPURL derives the HTTP API endpoint for the room service from its
// websocket URL, which is the form handed to browser clients.
func (c Config) RoomHTTPURL() string {
	u := strings.TrimSpace(c.RoomServiceURL)
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	default:
		return u
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
