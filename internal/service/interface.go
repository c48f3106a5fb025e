package service

import (
	"context"
	"encoding/json"

	"github.com/MrMorningStark/chat/internal/hub"
)

// ChatService orchestrates session, room, message and call events for a
// single connection.
type ChatService interface {
	HandleAuth(ctx context.Context, c *hub.Client, token string) error
	HandleJoinRoom(ctx context.Context, c *hub.Client, room string) error
	HandleLeaveRoom(ctx context.Context, c *hub.Client, room string) error
	HandleSendMessage(ctx context.Context, c *hub.Client, room, to, text string) error
	HandleCallUser(ctx context.Context, c *hub.Client, userToCall string, signal json.RawMessage) error
	HandleAnswerCall(ctx context.Context, c *hub.Client, to string, signal json.RawMessage) error
	HandleEndCall(ctx context.Context, c *hub.Client, to string) error
	HandleDisconnect(ctx context.Context, c *hub.Client) error

	Start(ctx context.Context) error
	Stop() error
}

// TokenVerifier is the auth gate: it turns a credential into a verified
// identity or rejects it.
type TokenVerifier interface {
	Verify(token string) (string, error)
}
