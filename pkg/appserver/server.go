package appserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/immateria/codex-mod-sub007/pkg/engine/api"
	"github.com/immateria/codex-mod-sub007/pkg/engine/dispatch/agentrun"
	"github.com/immateria/codex-mod-sub007/pkg/engine/session"
	"github.com/immateria/codex-mod-sub007/pkg/logger"
)

// ServerInfo reported back from initialize.
var serverInfo = ClientInfo{Name: "agent-engine", Version: "1.0.0"}

// Server handles one client connection's RPC traffic. Method dispatch is
// synchronous; the websocket pump in ServeConn feeds it one message at a
// time, so handlers never race each other on the same connection.
type Server struct {
	mu sync.Mutex

	Session *session.Session
	Config  *ConfigStore

	// Optional collaborators; methods touching them fail with a server
	// error when absent rather than panicking.
	Engine api.Engine
	Agents *agentrun.Manager
}

// NewServer builds a server for one connection.
func NewServer(sess *session.Session, config *ConfigStore) *Server {
	return &Server{Session: sess, Config: config}
}

// HandleMessage processes one raw JSON-RPC message and returns the
// serialized response, or nil for notifications and unanswerable input.
func (s *Server) HandleMessage(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshalResponse(respondError(nil, CodeParseError, "Parse error", nil))
	}
	if req.Method == "" {
		return marshalResponse(respondError(req.ID, CodeInvalidRequest, "Invalid request", nil))
	}

	resp := s.dispatch(ctx, req)
	if req.ID == nil {
		return nil
	}
	return marshalResponse(resp)
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	if req.Method != "initialize" {
		if err := s.Session.RequireInitialized(); err != nil {
			return respondError(req.ID, CodeInvalidRequest, "Not initialized", nil)
		}
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "config/read":
		return s.handleConfigRead(req)
	case "config/write":
		return s.handleConfigWrite(req)
	case "session/list":
		return s.handleSessionList(ctx, req)
	case "session/answerUserInput":
		return s.handleAnswerUserInput(req)
	case "session/rateLimits":
		return s.handleRateLimits(req)
	case "agent/list":
		return s.handleAgentList(req)
	case "agent/status":
		return s.handleAgentStatus(req)
	default:
		return respondError(req.ID, CodeMethodNotFound, "Method not found", map[string]any{"method": req.Method})
	}
}

func (s *Server) handleInitialize(req Request) Response {
	var p InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return respondError(req.ID, CodeInvalidParams, "Invalid params", map[string]any{"detail": err.Error()})
		}
	}
	s.Session.Initialize(p.Capabilities.OptOutNotificationMethods)
	logger.Info("appserver", "client initialized", map[string]interface{}{
		"client":  p.ClientInfo.Name,
		"version": p.ClientInfo.Version,
	})
	return respond(req.ID, InitializeResult{ServerInfo: serverInfo, SessionID: s.Session.ConnectionID})
}

func (s *Server) handleConfigRead(req Request) Response {
	var p ConfigReadParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return respondError(req.ID, CodeInvalidParams, "Invalid params", map[string]any{"detail": err.Error()})
		}
	}
	return respond(req.ID, s.Config.Read(p.IncludeLayers))
}

func (s *Server) handleConfigWrite(req Request) Response {
	var p ConfigValueWriteParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return respondError(req.ID, CodeInvalidParams, "Invalid params", map[string]any{"detail": err.Error()})
	}
	version, err := s.Config.Write(p)
	if err != nil {
		if werr, ok := err.(*configWriteError); ok {
			return respondError(req.ID, CodeServerError, werr.msg, map[string]any{
				"config_write_error_code": werr.code,
			})
		}
		return respondError(req.ID, CodeServerError, err.Error(), nil)
	}
	return respond(req.ID, map[string]any{"version": version})
}

func (s *Server) handleSessionList(ctx context.Context, req Request) Response {
	if s.Engine == nil {
		return respondError(req.ID, CodeServerError, "engine unavailable", nil)
	}
	infos, err := s.Engine.ListSessions(ctx)
	if err != nil {
		return respondError(req.ID, CodeServerError, err.Error(), nil)
	}
	return respond(req.ID, map[string]any{"sessions": infos})
}

func (s *Server) handleAnswerUserInput(req Request) Response {
	var p struct {
		TurnID string `json:"turn_id"`
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return respondError(req.ID, CodeInvalidParams, "Invalid params", map[string]any{"detail": err.Error()})
	}
	if err := s.Session.AnswerPendingInput(p.TurnID, p.Answer); err != nil {
		return respondError(req.ID, CodeServerError, err.Error(), nil)
	}
	return respond(req.ID, map[string]any{"delivered": true})
}

func (s *Server) handleRateLimits(req Request) Response {
	snap, ok := s.Session.RateLimits()
	if !ok {
		return respond(req.ID, map[string]any{"rateLimits": nil})
	}
	return respond(req.ID, map[string]any{"rateLimits": snap.Raw})
}

func (s *Server) handleAgentList(req Request) Response {
	if s.Agents == nil {
		return respondError(req.ID, CodeServerError, "agent manager unavailable", nil)
	}
	runs := s.Agents.List()
	out := make([]map[string]any, 0, len(runs))
	for _, r := range runs {
		out = append(out, map[string]any{
			"agent_id": r.ID,
			"status":   r.Status,
			"progress": r.Progress,
		})
	}
	return respond(req.ID, map[string]any{"agents": out})
}

func (s *Server) handleAgentStatus(req Request) Response {
	if s.Agents == nil {
		return respondError(req.ID, CodeServerError, "agent manager unavailable", nil)
	}
	var p struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return respondError(req.ID, CodeInvalidParams, "Invalid params", map[string]any{"detail": err.Error()})
	}
	status, progress, err := s.Agents.Status(p.AgentID)
	if err != nil {
		return respondError(req.ID, CodeServerError, err.Error(), nil)
	}
	return respond(req.ID, map[string]any{"status": status, "progress": progress})
}

func marshalResponse(resp Response) []byte {
	raw, err := json.Marshal(resp)
	if err != nil {
		// A response we built ourselves should always marshal; fall back
		// to a bare server error if it somehow does not.
		raw, _ = json.Marshal(respondError(nil, CodeServerError, "response marshal failed", nil))
	}
	return raw
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSHandler upgrades HTTP requests to websocket connections and serves
// each one with its own Server and Session.
type WSHandler struct {
	Config  *ConfigStore
	Engine  api.Engine
	Agents  *agentrun.Manager
	NewSess func(connID string) *session.Session
	ConnSeq func() string
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("appserver", "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	connID := h.ConnSeq()
	srv := NewServer(h.NewSess(connID), h.Config)
	srv.Engine = h.Engine
	srv.Agents = h.Agents
	go srv.ServeConn(r.Context(), conn)
}

// ServeConn pumps messages from one websocket connection until it closes.
func (s *Server) ServeConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("appserver", "connection dropped", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		resp := s.HandleMessage(ctx, raw)
		if resp == nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
			return
		}
	}
}

// Notify sends a server-initiated notification unless the client opted
// out of the method during initialize.
func (s *Server) Notify(conn *websocket.Conn, method string, params any) error {
	if s.Session.OptedOut(method) {
		return nil
	}
	raw, err := json.Marshal(Notification{Jsonrpc: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}
