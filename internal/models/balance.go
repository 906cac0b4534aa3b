package models

import (
	"time"
)

// ClientBalance is the prepaid balance row for a client. All amounts are
// integer minor-currency units (cents). Locked equals the sum of
// authorized-minus-billed over that client's active sessions.
type ClientBalance struct {
	UserID          string     `json:"user_id" db:"user_id"`
	Available       int64      `json:"available" db:"available"`
	Locked          int64      `json:"locked" db:"locked"`
	LastTopupAmount int64      `json:"last_topup_amount" db:"last_topup_amount"`
	LastTopupAt     *time.Time `json:"last_topup_at" db:"last_topup_at"`
	Version         int        `json:"version" db:"version"` // for optimistic locking
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// ReaderBalance is the payable balance row for a reader. Credited only by
// settlement, debited only by the external payout batch.
type ReaderBalance struct {
	UserID           string     `json:"user_id" db:"user_id"`
	Payable          int64      `json:"payable" db:"payable"`
	LifetimeEarnings int64      `json:"lifetime_earnings" db:"lifetime_earnings"`
	LastPayoutAt     *time.Time `json:"last_payout_at" db:"last_payout_at"`
	Version          int        `json:"version" db:"version"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

type TopupRequest struct {
	Amount    int64  `json:"amount" validate:"required,gt=0,max=100000000"`
	Reference string `json:"reference" validate:"max=64"`
}
