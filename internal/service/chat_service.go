package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrMorningStark/chat/internal/domain"
	"github.com/MrMorningStark/chat/internal/hub"
	"github.com/MrMorningStark/chat/internal/kafka"
	"github.com/MrMorningStark/chat/internal/presence"
	"github.com/MrMorningStark/chat/internal/registry"
	"github.com/MrMorningStark/chat/internal/repository"
	"github.com/MrMorningStark/chat/internal/signaling"
	pkglog "github.com/MrMorningStark/chat/pkg/log"
)

type chatService struct {
	hub        *hub.Hub
	registry   *registry.Registry
	broker     *signaling.Broker
	presence   presence.Store
	messages   repository.MessageRepository
	users      repository.UserRepository
	verifier   TokenVerifier
	producer   kafka.MessageProducer
	instanceID string

	persistTimeout time.Duration
	cancel         context.CancelFunc
}

// NewChatService wires the session registry, room router, signaling broker
// and storage collaborators into one event orchestrator. producer may be nil
// when no event stream is configured.
func NewChatService(
	h *hub.Hub,
	reg *registry.Registry,
	broker *signaling.Broker,
	store presence.Store,
	messages repository.MessageRepository,
	users repository.UserRepository,
	verifier TokenVerifier,
	producer kafka.MessageProducer,
	instanceID string,
	persistTimeout time.Duration,
) ChatService {
	return &chatService{
		hub:            h,
		registry:       reg,
		broker:         broker,
		presence:       store,
		messages:       messages,
		users:          users,
		verifier:       verifier,
		producer:       producer,
		instanceID:     instanceID,
		persistTimeout: persistTimeout,
	}
}

func (s *chatService) HandleAuth(ctx context.Context, c *hub.Client, token string) error {
	// The identity never changes after the handshake; a second auth on the
	// same connection is rejected rather than rebinding.
	if c.Session.IsAuthenticated() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Already authenticated"))
	}

	sid, err := s.verifier.Verify(token)
	if err != nil {
		c.SendMessage(&domain.AuthResultMessage{
			Type:    domain.MsgTypeAuthResult,
			Success: false,
			Message: "invalid credentials",
		})
		return err
	}

	if s.users != nil {
		if _, err := s.users.FindByIdentity(ctx, sid); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				c.SendMessage(&domain.AuthResultMessage{
					Type:    domain.MsgTypeAuthResult,
					Success: false,
					Message: "unknown user",
				})
				return err
			}
			// Storage trouble is not the client's fault; identity is already
			// cryptographically verified.
			l := pkglog.L()
			l.Warn().Err(err).Str(pkglog.FieldUserID, sid).Msg("user lookup failed, trusting token")
		}
	}

	if err := s.registry.Bind(ctx, c, sid); err != nil {
		c.SendMessage(&domain.AuthResultMessage{
			Type:    domain.MsgTypeAuthResult,
			Success: false,
			Message: "invalid credentials",
		})
		return err
	}
	c.Session.Authenticate(sid)

	return c.SendMessage(&domain.AuthResultMessage{
		Type:    domain.MsgTypeAuthResult,
		Success: true,
		UserID:  sid,
	})
}

func (s *chatService) HandleJoinRoom(ctx context.Context, c *hub.Client, room string) error {
	if !c.Session.IsAuthenticated() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated"))
	}
	if room == "" {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Room is required"))
	}

	s.registry.JoinRoom(c, room)

	s.hub.BroadcastToRoom(room, &domain.UserStatusMessage{
		Type:   domain.MsgTypeUserStatus,
		UserID: c.Session.GetUserID(),
		Status: presence.StatusOnline,
	}, "")

	return c.SendMessage(&domain.RoomJoinedMessage{
		Type: domain.MsgTypeRoomJoined,
		Room: room,
	})
}

func (s *chatService) HandleLeaveRoom(ctx context.Context, c *hub.Client, room string) error {
	if !c.Session.IsAuthenticated() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated"))
	}

	// A leave reads as offline to that conversation even while the user is
	// online elsewhere; the presence indicator is per conversation.
	s.hub.BroadcastToRoom(room, &domain.UserStatusMessage{
		Type:   domain.MsgTypeUserStatus,
		UserID: c.Session.GetUserID(),
		Status: presence.StatusOffline,
	}, c.ID)

	s.registry.LeaveRoom(c, room)
	return nil
}

func (s *chatService) HandleSendMessage(ctx context.Context, c *hub.Client, room, to, text string) error {
	if !c.Session.IsAuthenticated() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated"))
	}
	if to == "" || text == "" {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Recipient and text are required"))
	}

	sender := c.Session.GetUserID()

	// The room is a pure function of the two participants; a mismatching
	// client-supplied name is rejected rather than trusted.
	expected := domain.RoomName(sender, to)
	if room != "" && room != expected {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Room does not match recipient"))
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Recipient: to,
		Room:      expected,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}

	// Persist before broadcast: a client reloading history after the live
	// event must always find the message.
	saveCtx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	if err := s.messages.Save(saveCtx, msg); err != nil {
		l := pkglog.L()
		l.Error().Err(err).Str(pkglog.FieldUserID, sender).Str(pkglog.FieldRoom, expected).Msg("message persistence failed")
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeSendFailed, "Failed to send message"))
	}

	if s.producer != nil {
		if err := s.producer.ProduceMessage(ctx, msg); err != nil {
			// Event stream is non-critical.
			l := pkglog.L()
			l.Warn().Err(err).Str(pkglog.FieldRoom, expected).Msg("failed to produce message event")
		}
	}

	return s.hub.BroadcastToRoom(expected, &domain.ReceiveMessageMessage{
		Type:    domain.MsgTypeReceiveMessage,
		Message: msg,
	}, "")
}

func (s *chatService) HandleCallUser(ctx context.Context, c *hub.Client, userToCall string, signal json.RawMessage) error {
	if !c.Session.IsAuthenticated() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated"))
	}
	if userToCall == "" {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Callee is required"))
	}

	err := s.broker.CallUser(c.Session.GetUserID(), userToCall, signal)
	if errors.Is(err, signaling.ErrCallerBusy) {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBusy, "Already in a call"))
	}
	return err
}

func (s *chatService) HandleAnswerCall(ctx context.Context, c *hub.Client, to string, signal json.RawMessage) error {
	if !c.Session.IsAuthenticated() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated"))
	}

	err := s.broker.AnswerCall(c.Session.GetUserID(), to, signal)
	if errors.Is(err, signaling.ErrNoSuchCall) {
		// Stale answer: logged, not surfaced to the other party.
		l := pkglog.L()
		l.Debug().Str(pkglog.FieldUserID, c.Session.GetUserID()).Str(pkglog.FieldPeer, to).Msg("answer for unknown call ignored")
		return nil
	}
	return err
}

func (s *chatService) HandleEndCall(ctx context.Context, c *hub.Client, to string) error {
	if !c.Session.IsAuthenticated() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated"))
	}
	return s.broker.EndCall(c.Session.GetUserID(), to)
}

func (s *chatService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	identity, rooms, superseded := s.registry.Unbind(ctx, c)
	if identity == "" {
		return nil
	}

	l := pkglog.L()

	// A stale connection closing after the user reconnected must not tear
	// down the newer connection's call or report the user offline.
	if superseded {
		l.Info().Str(pkglog.FieldClientID, c.ID).Str(pkglog.FieldUserID, identity).Msg("stale connection closed")
		return nil
	}

	// Disconnect is endCall for any in-flight call.
	s.broker.HandleDisconnect(identity)

	for _, room := range rooms {
		s.hub.BroadcastToRoom(room, &domain.UserStatusMessage{
			Type:   domain.MsgTypeUserStatus,
			UserID: identity,
			Status: presence.StatusOffline,
		}, c.ID)
	}

	l.Info().Str(pkglog.FieldClientID, c.ID).Str(pkglog.FieldUserID, identity).Msg("user disconnected")
	return nil
}

func (s *chatService) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.registry.StartHeartbeat(ctx)

	events, err := s.presence.Subscribe(ctx)
	if err != nil {
		return err
	}
	go s.handlePresenceEvents(ctx, events)

	l := pkglog.L()
	l.Info().Msg("chat service started")
	return nil
}

func (s *chatService) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.registry.StopHeartbeat()
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			l := pkglog.L()
			l.Warn().Err(err).Msg("failed to close kafka producer")
		}
	}
	return nil
}

// handlePresenceEvents re-broadcasts status changes published by peer
// instances to local rooms the user participates in, so presence stays
// consistent across a horizontally-scaled deployment.
func (s *chatService) handlePresenceEvents(ctx context.Context, events <-chan presence.StatusEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.OriginInstanceID == s.instanceID {
				continue
			}
			for _, room := range s.hub.Rooms() {
				if domain.RoomHasParticipant(room, evt.UserID) {
					s.hub.BroadcastToRoom(room, &domain.UserStatusMessage{
						Type:   domain.MsgTypeUserStatus,
						UserID: evt.UserID,
						Status: evt.Status,
					}, "")
				}
			}
		}
	}
}
