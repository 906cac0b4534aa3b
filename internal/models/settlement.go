package models

import (
	"time"
)

// SettlementRecord is the immutable split of a billed session's gross amount
// between the reader and the platform. Created exactly once per billed
// session; shares always sum to the gross.
type SettlementRecord struct {
	ID            int       `json:"id" db:"id"`
	SessionID     string    `json:"session_id" db:"session_id"`
	Gross         int64     `json:"gross" db:"gross"`
	ReaderShare   int64     `json:"reader_share" db:"reader_share"`
	PlatformShare int64     `json:"platform_share" db:"platform_share"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// GiftTransaction records one virtual gift, settled through the same split
// pathway as sessions.
type GiftTransaction struct {
	ID            int       `json:"id" db:"id"`
	GiftID        string    `json:"gift_id" db:"gift_id"`
	SenderID      string    `json:"sender_id" db:"sender_id"`
	RecipientID   string    `json:"recipient_id" db:"recipient_id"`
	RoomID        string    `json:"room_id" db:"room_id"`
	Value         int64     `json:"value" db:"value"`
	ReaderShare   int64     `json:"reader_share" db:"reader_share"`
	PlatformShare int64     `json:"platform_share" db:"platform_share"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Gift is a fixed catalog entry.
type Gift struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value int64  `json:"value"` // cents
}
