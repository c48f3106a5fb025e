package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrMorningStark/chat/internal/config"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
	})
	go h.Run()
	return h
}

func newTestClient(t *testing.T, h *Hub, id string) *Client {
	t.Helper()
	c := NewClient(id, h, nil)
	h.Register(c)
	// Register hands the client to the hub loop; wait for the map insert so
	// direct sends cannot miss the client.
	require.Eventually(t, func() bool { return h.HasClient(id) }, time.Second, time.Millisecond)
	return c
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data := <-c.Send:
		return data
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return nil
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s unexpectedly received %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastToRoom_DeliversToMembersOnly(t *testing.T) {
	req := require.New(t)
	h := testHub(t)

	a := newTestClient(t, h, "a")
	b := newTestClient(t, h, "b")
	outsider := newTestClient(t, h, "c")

	h.JoinRoom(a, "chat_a_b")
	h.JoinRoom(b, "chat_a_b")

	req.NoError(h.BroadcastToRoom("chat_a_b", map[string]string{"type": "hello"}, ""))

	var got map[string]string
	req.NoError(json.Unmarshal(recv(t, a), &got))
	req.Equal("hello", got["type"])
	req.NoError(json.Unmarshal(recv(t, b), &got))
	req.Equal("hello", got["type"])
	assertSilent(t, outsider)
}

func TestBroadcastToRoom_ExcludesSender(t *testing.T) {
	req := require.New(t)
	h := testHub(t)

	a := newTestClient(t, h, "a")
	b := newTestClient(t, h, "b")
	h.JoinRoom(a, "room")
	h.JoinRoom(b, "room")

	req.NoError(h.BroadcastToRoom("room", map[string]string{"type": "status"}, a.ID))

	recv(t, b)
	assertSilent(t, a)
}

func TestBroadcastToRoom_OrderPreservedWithinRoom(t *testing.T) {
	req := require.New(t)
	h := testHub(t)

	a := newTestClient(t, h, "a")
	h.JoinRoom(a, "room")

	for i := 0; i < 10; i++ {
		req.NoError(h.BroadcastToRoom("room", map[string]int{"seq": i}, ""))
	}

	for i := 0; i < 10; i++ {
		var got map[string]int
		req.NoError(json.Unmarshal(recv(t, a), &got))
		req.Equal(i, got["seq"])
	}
}

func TestSendToClient_DirectDelivery(t *testing.T) {
	req := require.New(t)
	h := testHub(t)

	a := newTestClient(t, h, "a")
	b := newTestClient(t, h, "b")

	req.NoError(h.SendToClient("b", map[string]string{"type": "direct"}))

	var got map[string]string
	req.NoError(json.Unmarshal(recv(t, b), &got))
	req.Equal("direct", got["type"])
	assertSilent(t, a)
}

func TestSendToClient_UnknownClientIsNoOp(t *testing.T) {
	req := require.New(t)
	h := testHub(t)

	req.NoError(h.SendToClient("ghost", map[string]string{"type": "direct"}))
}

func TestSendAfterClose_DroppedNotPanic(t *testing.T) {
	req := require.New(t)
	h := testHub(t)

	a := newTestClient(t, h, "a")
	h.JoinRoom(a, "room")
	a.closeSend()

	// Direct sends and broadcasts racing an unregister must drop the
	// message, never hit the closed channel.
	req.NoError(h.SendToClient("a", map[string]string{"type": "direct"}))
	req.NoError(a.SendMessage(map[string]string{"type": "direct"}))
	req.NoError(h.BroadcastToRoom("room", map[string]string{"type": "hello"}, ""))

	// Nothing was queued: the channel is closed and empty.
	data, ok := <-a.Send
	req.False(ok)
	req.Nil(data)
}

func TestLeaveRoom_StopsDelivery(t *testing.T) {
	req := require.New(t)
	h := testHub(t)

	a := newTestClient(t, h, "a")
	h.JoinRoom(a, "room")
	h.LeaveRoom(a, "room")

	req.NoError(h.BroadcastToRoom("room", map[string]string{"type": "hello"}, ""))
	assertSilent(t, a)
	req.Equal(0, h.RoomClientCount("room"))
}
