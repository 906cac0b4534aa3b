package models

import "time"

// Server-pushed event kinds carried over the real-time channel. Shared by
// the hub (which frames them) and the services that emit them.
const (
	EventMinuteBilled      = "minute_billed"
	EventBalanceUpdated    = "balance_updated"
	EventNeedsMoreFunds    = "needs_more_funds"
	EventSessionEnd        = "session_end"
	EventViewerCountUpdate = "viewer_count_update"
	EventChatMessage       = "chat_message"
	EventChatHistory       = "chat_history"
	EventGiftSent          = "gift_sent"
	EventGiftAnimation     = "gift_animation"
	EventPeerJoined        = "peer_joined"
	EventPeerLeft          = "peer_left"
	EventError             = "error"
)

type MinuteBilledEvent struct {
	SessionID        string `json:"sessionId"`
	BilledMinutes    int    `json:"billedMinutes"`
	BilledAmount     int64  `json:"billedAmount"`
	RemainingMinutes int    `json:"remainingMinutes"`
}

type BalanceUpdatedEvent struct {
	Available int64 `json:"available"`
	Locked    int64 `json:"locked"`
}

type NeedsMoreFundsEvent struct {
	SessionID    string `json:"sessionId"`
	GraceSeconds int    `json:"graceSeconds"`
}

type SessionEndEvent struct {
	SessionID     string `json:"sessionId"`
	Reason        string `json:"reason"`
	EndedBy       string `json:"endedBy,omitempty"`
	BilledMinutes int    `json:"billedMinutes"`
	BilledAmount  int64  `json:"billedAmount"`
	Refund        int64  `json:"refund"`
}

type ViewerCountEvent struct {
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
}

type ChatMessageEvent struct {
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sentAt"`
}

type GiftEvent struct {
	RoomID      string `json:"roomId"`
	GiftID      string `json:"giftId"`
	GiftName    string `json:"giftName"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Value       int64  `json:"value"`
}

type PeerEvent struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}
