package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrMorningStark/chat/internal/config"
	"github.com/MrMorningStark/chat/internal/domain"
	"github.com/MrMorningStark/chat/internal/hub"
	"github.com/MrMorningStark/chat/internal/presence"
	"github.com/MrMorningStark/chat/internal/registry"
	"github.com/MrMorningStark/chat/internal/signaling"
)

type fakeVerifier struct {
	identities map[string]string // token -> identity
}

func (v *fakeVerifier) Verify(token string) (string, error) {
	if identity, ok := v.identities[token]; ok {
		return identity, nil
	}
	return "", errors.New("invalid token")
}

type fakeMessageRepo struct {
	mu    sync.Mutex
	saved []*domain.Message
	fail  bool
}

func (r *fakeMessageRepo) Save(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("database unavailable")
	}
	r.saved = append(r.saved, msg)
	return nil
}

func (r *fakeMessageRepo) FindByRoom(ctx context.Context, room string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, m := range r.saved {
		if m.Room == room {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) MarkRead(ctx context.Context, ids []string) error { return nil }

func (r *fakeMessageRepo) savedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

type fakePresence struct {
	mu       sync.Mutex
	statuses map[string]string
	events   chan presence.StatusEvent
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		statuses: make(map[string]string),
		events:   make(chan presence.StatusEvent, 16),
	}
}

func (p *fakePresence) SetOnline(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[userID] = presence.StatusOnline
	return nil
}

func (p *fakePresence) SetOffline(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[userID] = presence.StatusOffline
	return nil
}

func (p *fakePresence) Refresh(ctx context.Context, userID string) error { return nil }

func (p *fakePresence) Get(ctx context.Context, userID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status, ok := p.statuses[userID]; ok {
		return status, nil
	}
	return presence.StatusOffline, nil
}

func (p *fakePresence) Subscribe(ctx context.Context) (<-chan presence.StatusEvent, error) {
	return p.events, nil
}

func (p *fakePresence) Close() error { return nil }

type fixture struct {
	hub      *hub.Hub
	registry *registry.Registry
	broker   *signaling.Broker
	repo     *fakeMessageRepo
	store    *fakePresence
	svc      ChatService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := hub.NewHub(config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
	})
	go h.Run()

	store := newFakePresence()
	reg := registry.New(h, store, time.Minute)
	broker := signaling.NewBroker(reg, h)
	repo := &fakeMessageRepo{}
	verifier := &fakeVerifier{identities: map[string]string{
		"token-alice": "alice",
		"token-bob":   "bob",
	}}

	svc := NewChatService(h, reg, broker, store, repo, nil, verifier, nil, "instance-1", time.Second)
	return &fixture{hub: h, registry: reg, broker: broker, repo: repo, store: store, svc: svc}
}

// connect registers a client and authenticates it, draining the auth_result.
func (f *fixture) connect(t *testing.T, clientID, token string) *hub.Client {
	t.Helper()
	req := require.New(t)

	c := hub.NewClient(clientID, f.hub, nil)
	f.hub.Register(c)
	require.Eventually(t, func() bool { return f.hub.HasClient(clientID) }, time.Second, time.Millisecond)
	req.NoError(f.svc.HandleAuth(context.Background(), c, token))

	var result domain.AuthResultMessage
	req.NoError(json.Unmarshal(recv(t, c), &result))
	req.True(result.Success)
	return c
}

func recv(t *testing.T, c *hub.Client) []byte {
	t.Helper()
	select {
	case data := <-c.Send:
		return data
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return nil
	}
}

// recvType drains messages until one of the wanted type arrives.
func recvType(t *testing.T, c *hub.Client, msgType string) []byte {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data := <-c.Send:
			var base domain.BaseMessage
			if err := json.Unmarshal(data, &base); err == nil && base.Type == msgType {
				return data
			}
		case <-deadline:
			t.Fatalf("client %s never received %q", c.ID, msgType)
			return nil
		}
	}
}

// recvStatus drains messages until a user_status for userID with the given
// status arrives.
func recvStatus(t *testing.T, c *hub.Client, userID, status string) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data := <-c.Send:
			var msg domain.UserStatusMessage
			if err := json.Unmarshal(data, &msg); err == nil &&
				msg.Type == domain.MsgTypeUserStatus && msg.UserID == userID && msg.Status == status {
				return
			}
		case <-deadline:
			t.Fatalf("client %s never saw %s go %s", c.ID, userID, status)
		}
	}
}

// drain discards queued messages until the client has been silent for a beat.
func drain(c *hub.Client) {
	for {
		select {
		case <-c.Send:
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func assertSilent(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s unexpectedly received %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleAuth_InvalidTokenFails(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	c := hub.NewClient("conn-1", f.hub, nil)
	f.hub.Register(c)

	req.Error(f.svc.HandleAuth(context.Background(), c, "bogus"))

	var result domain.AuthResultMessage
	req.NoError(json.Unmarshal(recv(t, c), &result))
	req.False(result.Success)
	req.False(c.Session.IsAuthenticated())
	_, ok := f.registry.ClientIDFor("alice")
	req.False(ok)
}

func TestHandleAuth_BindsIdentityAndMarksOnline(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	c := f.connect(t, "conn-1", "token-alice")

	req.True(c.Session.IsAuthenticated())
	req.Equal("alice", c.Session.GetUserID())

	status, err := f.store.Get(context.Background(), "alice")
	req.NoError(err)
	req.Equal(presence.StatusOnline, status)
}

func TestHandleAuth_SecondAuthRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice := f.connect(t, "conn-1", "token-alice")

	req.NoError(f.svc.HandleAuth(context.Background(), alice, "token-bob"))

	var errMsg domain.ErrorMessage
	req.NoError(json.Unmarshal(recvType(t, alice, domain.MsgTypeError), &errMsg))
	req.Equal(domain.ErrCodeBadRequest, errMsg.Code)

	// The connection keeps its original identity; nothing resolves to bob.
	req.Equal("alice", alice.Session.GetUserID())
	clientID, ok := f.registry.ClientIDFor("alice")
	req.True(ok)
	req.Equal("conn-1", clientID)
	_, ok = f.registry.ClientIDFor("bob")
	req.False(ok)
}

func TestSendMessage_PersistsThenBroadcastsToBothSides(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, "conn-a", "token-alice")
	bob := f.connect(t, "conn-b", "token-bob")

	room := domain.RoomName("alice", "bob")
	req.NoError(f.svc.HandleJoinRoom(ctx, alice, room))
	req.NoError(f.svc.HandleJoinRoom(ctx, bob, room))

	req.NoError(f.svc.HandleSendMessage(ctx, alice, room, "bob", "hi"))

	for _, c := range []*hub.Client{alice, bob} {
		var got domain.ReceiveMessageMessage
		req.NoError(json.Unmarshal(recvType(t, c, domain.MsgTypeReceiveMessage), &got))
		req.Equal("hi", got.Message.Content)
		req.Equal("alice", got.Message.Sender)
		req.Equal("bob", got.Message.Recipient)
		req.Equal(room, got.Message.Room)
		req.NotEmpty(got.Message.ID)
	}
	req.Equal(1, f.repo.savedCount())
}

func TestSendMessage_PersistFailureSuppressesBroadcast(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, "conn-a", "token-alice")
	bob := f.connect(t, "conn-b", "token-bob")

	room := domain.RoomName("alice", "bob")
	req.NoError(f.svc.HandleJoinRoom(ctx, alice, room))
	req.NoError(f.svc.HandleJoinRoom(ctx, bob, room))
	drain(alice)
	drain(bob)

	f.repo.fail = true
	req.NoError(f.svc.HandleSendMessage(ctx, alice, room, "bob", "hi"))

	// Sender gets the failure; nobody gets the message.
	var errMsg domain.ErrorMessage
	req.NoError(json.Unmarshal(recvType(t, alice, domain.MsgTypeError), &errMsg))
	req.Equal(domain.ErrCodeSendFailed, errMsg.Code)
	assertSilent(t, bob)
	req.Equal(0, f.repo.savedCount())
}

func TestSendMessage_RejectsMismatchedRoom(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, "conn-a", "token-alice")

	req.NoError(f.svc.HandleSendMessage(ctx, alice, "chat_alice_carol", "bob", "hi"))

	var errMsg domain.ErrorMessage
	req.NoError(json.Unmarshal(recvType(t, alice, domain.MsgTypeError), &errMsg))
	req.Equal(domain.ErrCodeBadRequest, errMsg.Code)
	req.Equal(0, f.repo.savedCount())
}

func TestSendMessage_RequiresAuthentication(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	c := hub.NewClient("conn-1", f.hub, nil)
	f.hub.Register(c)

	req.NoError(f.svc.HandleSendMessage(context.Background(), c, "", "bob", "hi"))

	var errMsg domain.ErrorMessage
	req.NoError(json.Unmarshal(recvType(t, c, domain.MsgTypeError), &errMsg))
	req.Equal(domain.ErrCodeUnauthorized, errMsg.Code)
}

func TestJoinRoom_NotifiesRoomAndConfirms(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, "conn-a", "token-alice")
	bob := f.connect(t, "conn-b", "token-bob")

	room := domain.RoomName("alice", "bob")
	req.NoError(f.svc.HandleJoinRoom(ctx, alice, room))
	drain(alice)

	req.NoError(f.svc.HandleJoinRoom(ctx, bob, room))

	recvStatus(t, alice, "bob", presence.StatusOnline)

	var joined domain.RoomJoinedMessage
	req.NoError(json.Unmarshal(recvType(t, bob, domain.MsgTypeRoomJoined), &joined))
	req.Equal(room, joined.Room)
}

func TestHandleDisconnect_BroadcastsOfflineAndEndsCall(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, "conn-a", "token-alice")
	bob := f.connect(t, "conn-b", "token-bob")

	room := domain.RoomName("alice", "bob")
	req.NoError(f.svc.HandleJoinRoom(ctx, alice, room))
	req.NoError(f.svc.HandleJoinRoom(ctx, bob, room))

	signal := json.RawMessage(`{"sdp":"offer"}`)
	req.NoError(f.svc.HandleCallUser(ctx, alice, "bob", signal))
	recvType(t, bob, domain.MsgTypeIncomingCall)
	req.NoError(f.svc.HandleAnswerCall(ctx, bob, "alice", signal))
	recvType(t, alice, domain.MsgTypeCallAccepted)

	req.NoError(f.svc.HandleDisconnect(ctx, alice))

	// Bob learns the call ended and that alice went offline.
	var ended domain.CallEndedMessage
	req.NoError(json.Unmarshal(recvType(t, bob, domain.MsgTypeCallEnded), &ended))
	req.Equal("alice", ended.By)

	recvStatus(t, bob, "alice", presence.StatusOffline)

	req.Equal(signaling.PhaseIdle, f.broker.PhaseOf("bob"))
	offline, err := f.store.Get(context.Background(), "alice")
	req.NoError(err)
	req.Equal(presence.StatusOffline, offline)
}

func TestHandleDisconnect_StaleConnectionLeavesNewSessionIntact(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	stale := f.connect(t, "conn-old", "token-alice")
	bob := f.connect(t, "conn-b", "token-bob")

	room := domain.RoomName("alice", "bob")
	req.NoError(f.svc.HandleJoinRoom(ctx, stale, room))
	req.NoError(f.svc.HandleJoinRoom(ctx, bob, room))

	// Alice reconnects; the new connection takes over the identity and the
	// call runs on it.
	fresh := f.connect(t, "conn-new", "token-alice")
	req.NoError(f.svc.HandleJoinRoom(ctx, fresh, room))

	signal := json.RawMessage(`{"sdp":"offer"}`)
	req.NoError(f.svc.HandleCallUser(ctx, fresh, "bob", signal))
	recvType(t, bob, domain.MsgTypeIncomingCall)
	req.NoError(f.svc.HandleAnswerCall(ctx, bob, "alice", signal))
	recvType(t, fresh, domain.MsgTypeCallAccepted)
	drain(bob)
	drain(fresh)

	// The stale connection's close must not end the call or report alice
	// offline.
	req.NoError(f.svc.HandleDisconnect(ctx, stale))

	req.Equal(signaling.PhaseInCall, f.broker.PhaseOf("alice"))
	req.Equal(signaling.PhaseInCall, f.broker.PhaseOf("bob"))
	assertSilent(t, bob)

	status, err := f.store.Get(ctx, "alice")
	req.NoError(err)
	req.Equal(presence.StatusOnline, status)
	clientID, ok := f.registry.ClientIDFor("alice")
	req.True(ok)
	req.Equal("conn-new", clientID)
}

func TestHandleCallUser_CallerBusySurfacedAsError(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.connect(t, "conn-a", "token-alice")
	f.connect(t, "conn-b", "token-bob")

	signal := json.RawMessage(`{"sdp":"offer"}`)
	req.NoError(f.svc.HandleCallUser(ctx, alice, "bob", signal))
	req.NoError(f.svc.HandleCallUser(ctx, alice, "bob", signal))

	var errMsg domain.ErrorMessage
	req.NoError(json.Unmarshal(recvType(t, alice, domain.MsgTypeError), &errMsg))
	req.Equal(domain.ErrCodeBusy, errMsg.Code)
}

func TestPresenceEvents_FromPeerInstanceReachLocalRooms(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req.NoError(f.svc.Start(ctx))
	defer f.svc.Stop()

	alice := f.connect(t, "conn-a", "token-alice")
	room := domain.RoomName("alice", "bob")
	req.NoError(f.svc.HandleJoinRoom(ctx, alice, room))
	drain(alice)

	// Bob comes online on another instance.
	f.store.events <- presence.StatusEvent{
		UserID:           "bob",
		Status:           presence.StatusOnline,
		OriginInstanceID: "instance-2",
	}

	recvStatus(t, alice, "bob", presence.StatusOnline)
}

func TestPresenceEvents_OwnInstanceEventsIgnored(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req.NoError(f.svc.Start(ctx))
	defer f.svc.Stop()

	alice := f.connect(t, "conn-a", "token-alice")
	room := domain.RoomName("alice", "bob")
	req.NoError(f.svc.HandleJoinRoom(ctx, alice, room))
	drain(alice)

	f.store.events <- presence.StatusEvent{
		UserID:           "bob",
		Status:           presence.StatusOnline,
		OriginInstanceID: "instance-1",
	}

	assertSilent(t, alice)
}
