package realtime

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server wires the hub into HTTP handlers.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates the HTTP front of the realtime core. Origin control for
// the WebSocket upgrade comes from the hub's options.
func NewServer(hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := newOriginPolicy(hub.opts.AllowedOrigins, logger)
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
		logger: logger,
	}
}

// Routes returns the chi router with all endpoints of the service.
//
// /internal/* endpoints are the HTTP face of the collaborator interface and
// must not be exposed beyond the application's private network.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWS)
	r.Get("/presence", s.handleListOnline)
	r.Get("/presence/{userID}", s.handleIsOnline)
	r.Post("/internal/messages", s.handleNotifyMessage)
	r.Post("/internal/messages/deleted", s.handleNotifyMessageDeleted)
	r.Post("/internal/chats/members", s.handleAddMember)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.registry.Count(),
	})
}

// handleWS upgrades the HTTP connection and hands the new client to the hub.
// The connection carries no identity until its auth envelope arrives.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr)
	s.hub.register <- client
}

func (s *Server) handleListOnline(w http.ResponseWriter, _ *http.Request) {
	online := s.hub.ListOnline()
	if online == nil {
		online = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"online": online})
}

func (s *Server) handleIsOnline(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId": userID,
		"online": s.hub.IsOnline(userID),
	})
}

type notifyMessageRequest struct {
	ChatID   string        `json:"chatId"`
	SenderID int64         `json:"senderId"`
	Message  MessageRecord `json:"message"`
}

// handleNotifyMessage is called by the persistence collaborator once a
// message is durably stored; it triggers real-time fan-out to the chat.
func (s *Server) handleNotifyMessage(w http.ResponseWriter, r *http.Request) {
	var req notifyMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ChatID == "" || req.SenderID <= 0 {
		writeError(w, http.StatusBadRequest, "chatId and senderId are required")
		return
	}

	delivered := s.hub.NotifyNewMessage(req.ChatID, req.SenderID, req.Message)
	writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}

type notifyDeletedRequest struct {
	ChatID    string `json:"chatId"`
	SenderID  int64  `json:"senderId"`
	MessageID int64  `json:"messageId"`
}

func (s *Server) handleNotifyMessageDeleted(w http.ResponseWriter, r *http.Request) {
	var req notifyDeletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ChatID == "" || req.MessageID <= 0 {
		writeError(w, http.StatusBadRequest, "chatId and messageId are required")
		return
	}

	delivered := s.hub.NotifyMessageDeleted(req.ChatID, req.SenderID, req.MessageID)
	writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}

type addMemberRequest struct {
	UserID int64  `json:"userId"`
	ChatID string `json:"chatId"`
}

// handleAddMember is called when a room is created or a member added, so the
// membership index reflects it without requiring a reconnect.
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID <= 0 || req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "userId and chatId are required")
		return
	}

	s.hub.AddUserToChat(req.UserID, req.ChatID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
