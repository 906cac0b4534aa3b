package models

import (
	"time"
)

// Session status values. Transitions are monotonic: a session never returns
// to INITIALIZED after ACTIVE, and COMPLETED/CANCELLED are terminal.
const (
	SessionInitialized = "INITIALIZED"
	SessionActive      = "ACTIVE"
	SessionCompleted   = "COMPLETED"
	SessionCancelled   = "CANCELLED"
)

// Session kinds.
const (
	SessionKindChat  = "chat"
	SessionKindVoice = "voice"
	SessionKindVideo = "video"
)

// End reasons.
const (
	EndReasonNormal              = "normal"
	EndReasonCancelled           = "cancelled"
	EndReasonInsufficientBalance = "insufficient_balance"
	EndReasonLivenessTimeout     = "liveness_timeout"
)

// Session is one metered session instance between a client and a reader,
// billed per minute against a pre-authorized reservation.
type Session struct {
	SessionID         string     `json:"session_id" db:"session_id"`
	ClientID          string     `json:"client_id" db:"client_id"`
	ReaderID          string     `json:"reader_id" db:"reader_id"`
	Kind              string     `json:"kind" db:"kind"`
	Status            string     `json:"status" db:"status"`
	Rate              int64      `json:"rate" db:"rate"` // cents per minute
	AuthorizedMinutes int        `json:"authorized_minutes" db:"authorized_minutes"`
	AuthorizedAmount  int64      `json:"authorized_amount" db:"authorized_amount"`
	BilledMinutes     int        `json:"billed_minutes" db:"billed_minutes"`
	BilledAmount      int64      `json:"billed_amount" db:"billed_amount"`
	LastBilledMinute  int        `json:"last_billed_minute" db:"last_billed_minute"`
	StartedAt         *time.Time `json:"started_at" db:"started_at"`
	EndedAt           *time.Time `json:"ended_at" db:"ended_at"`
	EndReason         string     `json:"end_reason" db:"end_reason"`
	EndedBy           string     `json:"ended_by" db:"ended_by"`
	RoomID            string     `json:"room_id" db:"room_id"`
	SignalingMeta     string     `json:"signaling_meta,omitempty" db:"signaling_meta"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the session can no longer change state.
func (s *Session) IsTerminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionCancelled
}

// RemainingMinutes is the authorized time not yet billed.
func (s *Session) RemainingMinutes() int {
	return s.AuthorizedMinutes - s.BilledMinutes
}

type StartSessionRequest struct {
	ReaderID string `json:"readerId" validate:"required,max=64"`
	Type     string `json:"type" validate:"required,oneof=chat voice video"`
	Duration int    `json:"duration" validate:"required,gt=0,max=480"`
}

type HeartbeatRequest struct {
	SessionID string `json:"sessionId" validate:"required,uuid4"`
}

type ExtendSessionRequest struct {
	SessionID         string `json:"sessionId" validate:"required,uuid4"`
	AdditionalMinutes int    `json:"additionalMinutes" validate:"required,gt=0,max=480"`
}

type EndSessionRequest struct {
	SessionID string `json:"sessionId" validate:"required,uuid4"`
	Reason    string `json:"reason" validate:"omitempty,oneof=normal cancelled insufficient_balance liveness_timeout"`
}

// Reader is the advisor catalog row the engine needs for rate lookup.
type Reader struct {
	UserID      string    `json:"user_id" db:"user_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	ChatRate    int64     `json:"chat_rate" db:"chat_rate"`
	VoiceRate   int64     `json:"voice_rate" db:"voice_rate"`
	VideoRate   int64     `json:"video_rate" db:"video_rate"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RateFor returns the per-minute rate for a session kind, or 0 when the kind
// is unknown.
func (r *Reader) RateFor(kind string) int64 {
	switch kind {
	case SessionKindChat:
		return r.ChatRate
	case SessionKindVoice:
		return r.VoiceRate
	case SessionKindVideo:
		return r.VideoRate
	}
	return 0
}
