package room

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vozerp/consult-gateway/pkg/core"
)

// Room is a real-time room as reported by the room service.
type Room struct {
	SID             string `json:"sid,omitempty"`
	Name            string `json:"name"`
	EmptyTimeout    int64  `json:"empty_timeout,omitempty"`
	MaxParticipants int64  `json:"max_participants,omitempty"`
}

// Client manages rooms through the room service's Twirp HTTP API.
type Client struct {
	baseURL         string
	apiKey          string
	apiSecret       string
	emptyTimeout    time.Duration
	maxParticipants int64
	httpClient      *http.Client
}

type ClientConfig struct {
	// BaseURL is the HTTP(S) endpoint of the room service, not the
	// websocket URL participants connect to.
	BaseURL         string
	APIKey          string
	APISecret       string
	EmptyTimeout    time.Duration
	MaxParticipants int64
	HTTPClient      *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	emptyTimeout := cfg.EmptyTimeout
	if emptyTimeout <= 0 {
		emptyTimeout = 10 * time.Minute
	}
	maxParticipants := cfg.MaxParticipants
	if maxParticipants <= 0 {
		maxParticipants = 2
	}
	return &Client{
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:          cfg.APIKey,
		apiSecret:       cfg.APISecret,
		emptyTimeout:    emptyTimeout,
		maxParticipants: maxParticipants,
		httpClient:      hc,
	}
}

// CreateRoom creates (or re-asserts) a named room. The call is idempotent
// on the room service side: creating an existing room returns it.
func (c *Client) CreateRoom(ctx context.Context, name string) (*Room, error) {
	if strings.TrimSpace(name) == "" {
		return nil, core.NewInvalidRequestError("room name is required")
	}

	adminToken, err := mintAdminToken(c.apiKey, c.apiSecret)
	if err != nil {
		return nil, fmt.Errorf("mint admin token: %w", err)
	}

	body := map[string]any{
		"name":             name,
		"empty_timeout":    int64(c.emptyTimeout.Seconds()),
		"max_participants": c.maxParticipants,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode create room request: %w", err)
	}

	reqURL := c.baseURL + "/twirp/livekit.RoomService/CreateRoom"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build create room request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.NewUpstreamError("room", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = resp.Status
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, core.NewAuthenticationError(fmt.Sprintf("room service rejected credentials: %s", msg))
		}
		return nil, core.NewUpstreamError("room", fmt.Errorf("create room: status %d: %s", resp.StatusCode, msg))
	}

	var room Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return nil, core.NewUpstreamError("room", fmt.Errorf("decode create room response: %w", err))
	}
	if room.Name == "" {
		room.Name = name
	}
	return &room, nil
}
