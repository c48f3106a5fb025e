package signaling

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/MrMorningStark/chat/internal/domain"
	pkglog "github.com/MrMorningStark/chat/pkg/log"
)

var (
	// ErrNoSuchCall is returned for answer/end events that reference a call
	// not in the expected state. Logged by callers, never surfaced to the
	// other party.
	ErrNoSuchCall = errors.New("no call in the expected state")
	// ErrCallerBusy is returned when the caller already has an unresolved call.
	ErrCallerBusy = errors.New("caller already has a call in progress")
)

// Call phases per identity. An identity missing from the broker's state is
// idle.
const (
	PhaseIdle    = "idle"
	PhaseCalling = "calling"
	PhaseRinging = "ringing"
	PhaseInCall  = "in-call"
)

type callState struct {
	peer  string
	phase string
}

// Resolver resolves an identity to its currently-live connection. Resolution
// happens at delivery time for every phase; the broker never caches the
// mapping.
type Resolver interface {
	ClientIDFor(identity string) (string, bool)
}

// Sender delivers a payload to a single connection.
type Sender interface {
	SendToClient(clientID string, message interface{}) error
}

// Broker relays the call signaling protocol between exactly two identities
// using per-target addressing. It stores call phase only, never call content,
// and enforces at most one unresolved call per identity.
type Broker struct {
	mu       sync.Mutex
	calls    map[string]*callState // identity -> current call
	resolver Resolver
	sender   Sender
}

// NewBroker creates a broker resolving targets through the given resolver.
func NewBroker(resolver Resolver, sender Sender) *Broker {
	return &Broker{
		calls:    make(map[string]*callState),
		resolver: resolver,
		sender:   sender,
	}
}

// PhaseOf returns the identity's current call phase.
func (b *Broker) PhaseOf(identity string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.calls[identity]; ok {
		return state.phase
	}
	return PhaseIdle
}

// CallUser starts a call from caller to callee. A busy or unreachable callee
// results in a call_rejected notification to the caller, never a silent drop.
func (b *Broker) CallUser(caller, callee string, signal json.RawMessage) error {
	l := pkglog.L()

	b.mu.Lock()
	if _, busy := b.calls[caller]; busy {
		b.mu.Unlock()
		return ErrCallerBusy
	}
	if _, busy := b.calls[callee]; busy {
		b.mu.Unlock()
		l.Info().Str(pkglog.FieldUserID, caller).Str(pkglog.FieldPeer, callee).Msg("callee busy, rejecting call")
		return b.notifyCaller(caller, &domain.CallRejectedMessage{
			Type:    domain.MsgTypeCallRejected,
			By:      callee,
			Reason:  domain.RejectReasonBusy,
			Message: "user is on another call",
		})
	}

	calleeClient, ok := b.resolver.ClientIDFor(callee)
	if !ok {
		b.mu.Unlock()
		l.Info().Str(pkglog.FieldUserID, caller).Str(pkglog.FieldPeer, callee).Msg("callee unreachable, rejecting call")
		return b.notifyCaller(caller, &domain.CallRejectedMessage{
			Type:    domain.MsgTypeCallRejected,
			By:      callee,
			Reason:  domain.RejectReasonUnreachable,
			Message: "user is not connected",
		})
	}

	b.calls[caller] = &callState{peer: callee, phase: PhaseCalling}
	b.calls[callee] = &callState{peer: caller, phase: PhaseRinging}
	b.mu.Unlock()

	l.Info().Str(pkglog.FieldUserID, caller).Str(pkglog.FieldPeer, callee).Msg("relaying call offer")
	return b.sender.SendToClient(calleeClient, &domain.IncomingCallMessage{
		Type:   domain.MsgTypeIncomingCall,
		Signal: signal,
		From:   caller,
	})
}

// AnswerCall accepts an incoming call. Valid only while the callee is ringing
// for that caller.
func (b *Broker) AnswerCall(callee, caller string, signal json.RawMessage) error {
	b.mu.Lock()
	state, ok := b.calls[callee]
	if !ok || state.phase != PhaseRinging || state.peer != caller {
		b.mu.Unlock()
		return ErrNoSuchCall
	}

	callerClient, reachable := b.resolver.ClientIDFor(caller)
	if !reachable {
		// Caller vanished between phases: unwind both sides.
		delete(b.calls, callee)
		delete(b.calls, caller)
		b.mu.Unlock()
		return ErrNoSuchCall
	}

	b.calls[callee].phase = PhaseInCall
	if callerState, exists := b.calls[caller]; exists {
		callerState.phase = PhaseInCall
	} else {
		b.calls[caller] = &callState{peer: callee, phase: PhaseInCall}
	}
	b.mu.Unlock()

	l := pkglog.L()
	l.Info().Str(pkglog.FieldUserID, callee).Str(pkglog.FieldPeer, caller).Msg("call answered")
	return b.sender.SendToClient(callerClient, &domain.CallAcceptedMessage{
		Type:   domain.MsgTypeCallAccepted,
		Signal: signal,
		By:     callee,
	})
}

// EndCall terminates the call between from and to. Idempotent: ending a call
// that does not exist is a no-op with no notification.
func (b *Broker) EndCall(from, to string) error {
	b.mu.Lock()
	state, ok := b.calls[from]
	if !ok || state.peer != to {
		b.mu.Unlock()
		return nil
	}
	delete(b.calls, from)
	delete(b.calls, to)
	b.mu.Unlock()

	l := pkglog.L()
	l.Info().Str(pkglog.FieldUserID, from).Str(pkglog.FieldPeer, to).Msg("call ended")

	// The counterpart may have disconnected already; silent no-op then.
	if toClient, reachable := b.resolver.ClientIDFor(to); reachable {
		return b.sender.SendToClient(toClient, &domain.CallEndedMessage{
			Type: domain.MsgTypeCallEnded,
			By:   from,
		})
	}
	return nil
}

// HandleDisconnect treats a disconnect as endCall for any in-flight call, so
// no ringing or in-call state survives the connection.
func (b *Broker) HandleDisconnect(identity string) {
	if identity == "" {
		return
	}

	b.mu.Lock()
	state, ok := b.calls[identity]
	if !ok {
		b.mu.Unlock()
		return
	}
	peer := state.peer
	delete(b.calls, identity)
	delete(b.calls, peer)
	b.mu.Unlock()

	l := pkglog.L()
	l.Info().Str(pkglog.FieldUserID, identity).Str(pkglog.FieldPeer, peer).Msg("ending call on disconnect")

	if peerClient, reachable := b.resolver.ClientIDFor(peer); reachable {
		b.sender.SendToClient(peerClient, &domain.CallEndedMessage{
			Type: domain.MsgTypeCallEnded,
			By:   identity,
		})
	}
}

func (b *Broker) notifyCaller(caller string, msg interface{}) error {
	callerClient, ok := b.resolver.ClientIDFor(caller)
	if !ok {
		return nil
	}
	return b.sender.SendToClient(callerClient, msg)
}
