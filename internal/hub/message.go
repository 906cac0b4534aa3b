package hub

import (
	"encoding/json"
)

// Client message kinds carried over the real-time channel.
const (
	TypeJoinSession    = "join_session"
	TypeJoinBroadcast  = "join_broadcast"
	TypeLeaveSession   = "leave_session"
	TypeLeaveBroadcast = "leave_broadcast"
	TypeChatMessage    = "chat_message"
	TypeSignalOffer    = "signal_offer"
	TypeSignalAnswer   = "signal_answer"
	TypeSignalICE      = "signal_ice"
	TypeSendGift       = "send_gift"
	TypeHeartbeat      = "heartbeat"
)

// Envelope is the outbound frame: a type discriminator plus the event data.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Marshal frames an event for the wire.
func Marshal(eventType string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Type: eventType, Data: payload})
}

// Inbound message variants. Each kind is decoded exactly once at the
// transport boundary into its closed struct; downstream logic never sees
// untyped maps.

type joinMessage struct {
	RoomID string `json:"roomId"`
}

type chatMessage struct {
	RoomID string `json:"roomId"`
	Body   string `json:"body"`
}

type signalMessage struct {
	RoomID string `json:"roomId"`
	// Target is the user id the call-setup payload is addressed to.
	Target string `json:"target"`
	// Payload is opaque to the relay and forwarded verbatim.
	Payload json.RawMessage `json:"payload"`
	// Sender is stamped by the relay, never trusted from the client.
	Sender string `json:"sender,omitempty"`
}

type giftMessage struct {
	RoomID      string `json:"roomId"`
	GiftID      string `json:"giftId"`
	RecipientID string `json:"recipientId"`
}

type heartbeatMessage struct {
	SessionID string `json:"sessionId"`
}

type errorPayload struct {
	Message string `json:"message"`
}
