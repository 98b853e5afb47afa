package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vozerp/consult-gateway/pkg/core"
	"github.com/vozerp/consult-gateway/pkg/gateway/config"
	"github.com/vozerp/consult-gateway/pkg/gateway/lifecycle"
	"github.com/vozerp/consult-gateway/pkg/gateway/metrics"
	"github.com/vozerp/consult-gateway/pkg/gateway/mw"
	"github.com/vozerp/consult-gateway/pkg/gateway/rpccall"
	"github.com/vozerp/consult-gateway/pkg/gateway/rpcconn"
	"github.com/vozerp/consult-gateway/pkg/gateway/session"
)

// FunctionFinishConversation is the one function the voice agent invokes
// over the data channel.
const FunctionFinishConversation = "finishConversation"

// IdentityStash holds the company/owner identity reported by the agent's
// finishConversation call until the transcript arrives on /v1/designs.
type IdentityStash struct {
	mu  sync.Mutex
	id  rpccall.Identity
	set bool
}

func (s *IdentityStash) Put(id rpccall.Identity) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.id = id
	s.set = true
	s.mu.Unlock()
}

func (s *IdentityStash) Peek() (rpccall.Identity, bool) {
	if s == nil {
		return rpccall.Identity{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.set
}

func (s *IdentityStash) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.id = rpccall.Identity{}
	s.set = false
	s.mu.Unlock()
}

type rpcRequest struct {
	ID        string          `json:"id"`
	Function  string          `json:"function"`
	Arguments json.RawMessage `json:"arguments"`
}

type rpcResponse struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RPCHandler handles /v1/rpc websocket connections: the server-side end
// of the room data channel over which the agent signals conversation
// completion. Every invocation is acknowledged with a structured
// {success, message|error} frame, malformed ones included.
type RPCHandler struct {
	Config    config.Config
	State     *session.State
	Identity  *IdentityStash
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Conns     *rpcconn.Tracker
	Metrics   *metrics.Metrics
}

func (h RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "method not allowed",
			Code:    "method_not_allowed",
		}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrOverloaded,
			Message: "gateway is draining",
			Code:    "draining",
		}, 529)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.RPCMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.RPCMaxMessageBytes)
	}

	connID := "rpc_" + randHex(8)
	logger := h.Logger.With("conn_id", connID, "request_id", reqID)

	var writeMu sync.Mutex
	writeJSONFrame := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(h.Config.RPCWriteTimeout))
		return conn.WriteJSON(v)
	}

	deregister := h.Conns.Register(connID, &trackedRPCConn{
		conn:  conn,
		write: writeJSONFrame,
	})
	defer deregister()

	if h.Metrics != nil {
		h.Metrics.RPCConnsActive.Inc()
		defer h.Metrics.RPCConnsActive.Dec()
	}
	logger.Info("rpc connection open")

	stopPing := h.startPingLoop(conn, &writeMu)
	defer stopPing()

	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			logger.Info("rpc connection closed", "error", err)
			return
		}
		if messageType != websocket.TextMessage {
			_ = writeJSONFrame(rpcResponse{Success: false, Error: "frames must be text"})
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			if h.Metrics != nil {
				h.Metrics.RecordRPCCall("unknown", "malformed")
				h.Metrics.RecordError("rpc", "invalid_frame")
			}
			_ = writeJSONFrame(rpcResponse{Success: false, Error: "invalid frame"})
			continue
		}

		resp := h.dispatch(r, logger, req)
		resp.ID = req.ID
		if err := writeJSONFrame(resp); err != nil {
			logger.Warn("rpc ack write failed", "error", err)
			return
		}
	}
}

func (h RPCHandler) dispatch(r *http.Request, logger *slog.Logger, req rpcRequest) rpcResponse {
	switch req.Function {
	case FunctionFinishConversation:
		result := rpccall.Parse(req.Arguments)
		if result.Malformed {
			logger.Warn("finishConversation arguments malformed, recovered by fallback",
				"raw", result.RawText)
		}
		h.Identity.Put(result.Identity)
		h.State.SetPhase(r.Context(), session.PhaseProcessing)
		if h.Metrics != nil {
			outcome := "parsed"
			if result.Malformed {
				outcome = "recovered"
			}
			h.Metrics.RecordRPCCall(req.Function, outcome)
		}
		logger.Info("conversation finished",
			"company", result.Identity.CompanyName, "owner", result.Identity.OwnerName)
		return rpcResponse{Success: true, Message: "conversación registrada, generando diseño"}

	default:
		if h.Metrics != nil {
			h.Metrics.RecordRPCCall(req.Function, "unknown")
		}
		return rpcResponse{Success: false, Error: "unknown function: " + req.Function}
	}
}

func (h RPCHandler) startPingLoop(conn *websocket.Conn, writeMu *sync.Mutex) (stop func()) {
	interval := h.Config.RPCPingInterval
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(h.Config.RPCWriteTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// trackedRPCConn is the tracker's view of one agent connection. Notices
// go out as failed acks so the agent's existing frame handling sees them.
type trackedRPCConn struct {
	conn  *websocket.Conn
	write func(v any) error
}

func (c *trackedRPCConn) Notify(n rpcconn.Notice) error {
	return c.write(rpcResponse{Success: false, Error: n.Code, Message: n.Message})
}

func (c *trackedRPCConn) Shutdown() {
	_ = c.conn.Close()
}

func randHex(nbytes int) string {
	buf := make([]byte, nbytes)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
