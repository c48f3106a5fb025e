package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/MrMorningStark/chat/internal/domain"
	"github.com/MrMorningStark/chat/internal/hub"
	"github.com/MrMorningStark/chat/internal/service"
	pkglog "github.com/MrMorningStark/chat/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type eventHandler func(ctx context.Context, client *hub.Client, payload []byte) error

// WSHandler upgrades connections and routes inbound events through an
// explicit dispatch table.
type WSHandler struct {
	hub      *hub.Hub
	service  service.ChatService
	handlers map[string]eventHandler
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(h *hub.Hub, svc service.ChatService) *WSHandler {
	wh := &WSHandler{
		hub:     h,
		service: svc,
	}
	wh.handlers = map[string]eventHandler{
		domain.MsgTypeAuth:        wh.onAuth,
		domain.MsgTypeJoinRoom:    wh.onJoinRoom,
		domain.MsgTypeLeaveRoom:   wh.onLeaveRoom,
		domain.MsgTypeSendMessage: wh.onSendMessage,
		domain.MsgTypeCallUser:    wh.onCallUser,
		domain.MsgTypeAnswerCall:  wh.onAnswerCall,
		domain.MsgTypeEndCall:     wh.onEndCall,
		domain.MsgTypePing:        wh.onPing,
	}
	return wh
}

// HandleWebSocket handles WebSocket upgrade and starts the client pumps.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := pkglog.L()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn)

	// Unwind rooms and pending call state before the hub drops the client.
	client.SetDisconnectHandler(func(c *hub.Client) {
		if err := h.service.HandleDisconnect(context.Background(), c); err != nil {
			l.Error().Err(err).Str(pkglog.FieldClientID, c.ID).Msg("disconnect handler error")
		}
	})

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	handle, ok := h.handlers[base.Type]
	if !ok {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
		return
	}

	if err := handle(context.Background(), client, message); err != nil {
		l := pkglog.L()
		l.Error().Err(err).Str(pkglog.FieldClientID, client.ID).Str("event", base.Type).Msg("event handler failed")
	}
}

func (h *WSHandler) onAuth(ctx context.Context, client *hub.Client, payload []byte) error {
	var msg domain.AuthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid auth message"))
	}
	return h.service.HandleAuth(ctx, client, msg.Token)
}

func (h *WSHandler) onJoinRoom(ctx context.Context, client *hub.Client, payload []byte) error {
	var msg domain.JoinRoomMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid join_room message"))
	}
	return h.service.HandleJoinRoom(ctx, client, msg.Room)
}

func (h *WSHandler) onLeaveRoom(ctx context.Context, client *hub.Client, payload []byte) error {
	var msg domain.LeaveRoomMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid leave_room message"))
	}
	return h.service.HandleLeaveRoom(ctx, client, msg.Room)
}

func (h *WSHandler) onSendMessage(ctx context.Context, client *hub.Client, payload []byte) error {
	var msg domain.SendMessageMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid send_message"))
	}
	return h.service.HandleSendMessage(ctx, client, msg.Room, msg.To, msg.Text)
}

func (h *WSHandler) onCallUser(ctx context.Context, client *hub.Client, payload []byte) error {
	var msg domain.CallUserMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid call_user message"))
	}
	return h.service.HandleCallUser(ctx, client, msg.UserToCall, msg.SignalData)
}

func (h *WSHandler) onAnswerCall(ctx context.Context, client *hub.Client, payload []byte) error {
	var msg domain.AnswerCallMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid answer_call message"))
	}
	return h.service.HandleAnswerCall(ctx, client, msg.To, msg.Signal)
}

func (h *WSHandler) onEndCall(ctx context.Context, client *hub.Client, payload []byte) error {
	var msg domain.EndCallMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid end_call message"))
	}
	return h.service.HandleEndCall(ctx, client, msg.To)
}

func (h *WSHandler) onPing(ctx context.Context, client *hub.Client, payload []byte) error {
	return client.SendMessage(map[string]string{"type": domain.MsgTypePong})
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.HandleWebSocket)
}
