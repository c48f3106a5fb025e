package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MrMorningStark/chat/internal/auth"
	"github.com/MrMorningStark/chat/internal/domain"
	"github.com/MrMorningStark/chat/internal/presence"
	"github.com/MrMorningStark/chat/internal/repository"
	pkglog "github.com/MrMorningStark/chat/pkg/log"
)

// HTTPHandler serves the chat history, read-state and presence probe API.
type HTTPHandler struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	presence presence.Store
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(messages repository.MessageRepository, users repository.UserRepository, store presence.Store) *HTTPHandler {
	return &HTTPHandler{
		messages: messages,
		users:    users,
		presence: store,
	}
}

// HistoryResponse is the API response for a chat history query.
type HistoryResponse struct {
	Friend   *domain.User     `json:"friend"`
	Messages []domain.Message `json:"messages"`
}

// GetHistory handles GET /api/chat/history/{peer}
// Returns the conversation with peer in ascending timestamp order.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sid, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	peer := mux.Vars(r)["peer"]
	if peer == "" {
		http.Error(w, "peer is required", http.StatusBadRequest)
		return
	}

	room := domain.RoomName(sid, peer)
	messages, err := h.messages.FindByRoom(r.Context(), room)
	if err != nil {
		http.Error(w, "failed to fetch chat history", http.StatusInternalServerError)
		return
	}

	friend, err := h.users.FindByIdentity(r.Context(), peer)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		http.Error(w, "failed to fetch user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HistoryResponse{Friend: friend, Messages: messages})
}

// MarkAsReadRequest is the body for POST /api/chat/mark-as-read.
type MarkAsReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// MarkAsRead handles POST /api/chat/mark-as-read
func (h *HTTPHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.IdentityFromContext(r.Context()); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req MarkAsReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.messages.MarkRead(r.Context(), req.MessageIDs); err != nil {
		http.Error(w, "failed to mark messages as read", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "messages marked as read"})
}

// GetUserStatus handles GET /api/users/{sid}/status
// Missing records and presence store errors both read as offline.
func (h *HTTPHandler) GetUserStatus(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]
	if sid == "" {
		http.Error(w, "sid is required", http.StatusBadRequest)
		return
	}

	status, err := h.presence.Get(r.Context(), sid)
	if err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Str(pkglog.FieldUserID, sid).Msg("presence lookup degraded")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// HealthCheck handles GET /health
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// RegisterRoutes registers the HTTP API routes. Chat and status routes are
// wrapped with the auth middleware.
func (h *HTTPHandler) RegisterRoutes(r *mux.Router, authMgr *auth.Manager) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMgr.Middleware)
	api.HandleFunc("/chat/history/{peer}", h.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/chat/mark-as-read", h.MarkAsRead).Methods(http.MethodPost)
	api.HandleFunc("/users/{sid}/status", h.GetUserStatus).Methods(http.MethodGet)

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}
