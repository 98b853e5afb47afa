package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vozerp/consult-gateway/pkg/core"
	"github.com/vozerp/consult-gateway/pkg/gateway/config"
	"github.com/vozerp/consult-gateway/pkg/gateway/metrics"
	"github.com/vozerp/consult-gateway/pkg/gateway/mw"
	"github.com/vozerp/consult-gateway/pkg/room"
)

// DefaultRoomName is used when a request does not name the room. One
// consultation process runs one room.
const DefaultRoomName = "consulta-erp"

type roomCreator interface {
	CreateRoom(ctx context.Context, name string) (*room.Room, error)
}

type RoomsHandler struct {
	Config  config.Config
	Rooms   roomCreator
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (h RoomsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid request body"), http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultRoomName
	}

	created, err := h.Rooms.CreateRoom(r.Context(), name)
	if err != nil {
		coreErr, status := coreErrorFrom(err, reqID)
		if h.Metrics != nil {
			h.Metrics.RecordError("rooms", string(coreErr.Type))
		}
		h.Logger.Error("create room failed", "request_id", reqID, "room", name, "error", err)
		writeCoreErrorJSON(w, reqID, coreErr, status)
		return
	}
	if h.Metrics != nil {
		h.Metrics.RoomsCreatedTotal.Inc()
	}

	writeJSON(w, http.StatusOK, created)
}

// TokenHandler mints participant access tokens. Rooms created through it
// are cached for a short reuse window so a page reload does not create a
// second room; the mutex doubles as the concurrent-creation guard.
type TokenHandler struct {
	Config  config.Config
	Rooms   roomCreator
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	mu         sync.Mutex
	cachedRoom string
	cachedAt   time.Time

	// now is swappable for tests.
	Now func() time.Time
}

type tokenResponse struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Token    string `json:"token"`
	URL      string `json:"url"`
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Room     string `json:"room"`
		Identity string `json:"identity"`
	}
	if err := decodeBody(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid request body"), http.StatusBadRequest)
		return
	}
	roomName := strings.TrimSpace(req.Room)
	if roomName == "" {
		roomName = DefaultRoomName
	}
	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		writeCoreErrorJSON(w, reqID,
			core.NewInvalidRequestErrorWithParam("identity is required", "identity"),
			http.StatusBadRequest)
		return
	}

	if err := h.ensureRoom(r.Context(), roomName); err != nil {
		coreErr, status := coreErrorFrom(err, reqID)
		if h.Metrics != nil {
			h.Metrics.RecordError("rooms", string(coreErr.Type))
		}
		h.Logger.Error("ensure room failed", "request_id", reqID, "room", roomName, "error", err)
		writeCoreErrorJSON(w, reqID, coreErr, status)
		return
	}

	token, err := room.MintAccessToken(h.Config.RoomAPIKey, h.Config.RoomAPISecret, roomName, identity, h.Config.RoomTokenTTL)
	if err != nil {
		coreErr, status := coreErrorFrom(err, reqID)
		writeCoreErrorJSON(w, reqID, coreErr, status)
		return
	}
	if h.Metrics != nil {
		h.Metrics.TokensMintedTotal.Inc()
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Room:     roomName,
		Identity: identity,
		Token:    token,
		URL:      h.Config.RoomServiceURL,
	})
}

// ensureRoom creates the room unless it was created within the reuse
// window. Held under the mutex so two concurrent token requests cannot
// both create the room.
func (h *TokenHandler) ensureRoom(ctx context.Context, roomName string) error {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cachedRoom == roomName && now().Sub(h.cachedAt) < h.Config.RoomReuseWindow {
		return nil
	}
	if _, err := h.Rooms.CreateRoom(ctx, roomName); err != nil {
		return err
	}
	if h.Metrics != nil {
		h.Metrics.RoomsCreatedTotal.Inc()
	}
	h.cachedRoom = roomName
	h.cachedAt = now()
	return nil
}

// decodeBody reads a small JSON body. An empty body decodes to the zero
// request.
func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
