package domain

import "encoding/json"

// WebSocket message types from client.
const (
	MsgTypeAuth        = "auth"
	MsgTypeJoinRoom    = "join_room"
	MsgTypeLeaveRoom   = "leave_room"
	MsgTypeSendMessage = "send_message"
	MsgTypeCallUser    = "call_user"
	MsgTypeAnswerCall  = "answer_call"
	MsgTypeEndCall     = "end_call"
	MsgTypePing        = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeAuthResult     = "auth_result"
	MsgTypeRoomJoined     = "room_joined"
	MsgTypeReceiveMessage = "receive_message"
	MsgTypeUserStatus     = "user_status"
	MsgTypeIncomingCall   = "incoming_call"
	MsgTypeCallAccepted   = "call_accepted"
	MsgTypeCallRejected   = "call_rejected"
	MsgTypeCallEnded      = "call_ended"
	MsgTypeError          = "error"
	MsgTypePong           = "pong"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

// AuthMessage is sent by client to authenticate.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// JoinRoomMessage is sent by client to join a conversation room.
type JoinRoomMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// LeaveRoomMessage is sent by client to leave a conversation room.
type LeaveRoomMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// SendMessageMessage is sent by client to deliver a chat message.
type SendMessageMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// CallUserMessage starts a call towards another user.
type CallUserMessage struct {
	Type       string          `json:"type"`
	UserToCall string          `json:"user_to_call"`
	SignalData json.RawMessage `json:"signal_data"` // SDP offer
}

// AnswerCallMessage accepts an incoming call.
type AnswerCallMessage struct {
	Type   string          `json:"type"`
	To     string          `json:"to"`     // the original caller
	Signal json.RawMessage `json:"signal"` // SDP answer
}

// EndCallMessage terminates a call in any phase.
type EndCallMessage struct {
	Type string `json:"type"`
	To   string `json:"to"`
}

// Server -> Client messages

// AuthResultMessage is sent to client after authentication.
type AuthResultMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// RoomJoinedMessage is sent when client successfully joins a room.
type RoomJoinedMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// ReceiveMessageMessage delivers a persisted chat message to room members.
type ReceiveMessageMessage struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

// UserStatusMessage notifies room members of a presence change.
type UserStatusMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// IncomingCallMessage is delivered to the callee only.
type IncomingCallMessage struct {
	Type   string          `json:"type"`
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from"`
}

// CallAcceptedMessage is delivered to the caller when the callee answers.
type CallAcceptedMessage struct {
	Type   string          `json:"type"`
	Signal json.RawMessage `json:"signal"`
	By     string          `json:"by"`
}

// Call rejection reasons.
const (
	RejectReasonBusy        = "busy"
	RejectReasonUnreachable = "unreachable"
)

// CallRejectedMessage is delivered to the caller when a call cannot proceed.
type CallRejectedMessage struct {
	Type    string `json:"type"`
	By      string `json:"by"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// CallEndedMessage is delivered to the counterpart when a call terminates.
type CallEndedMessage struct {
	Type string `json:"type"`
	By   string `json:"by"`
}

// ErrorMessage is sent when an error occurs.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeBusy          = "BUSY"
	ErrCodeSendFailed    = "SEND_FAILED"
)

// NewErrorMessage creates a new error message.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
