package services

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session engine. Handlers map these onto HTTP
// statuses; the hub maps them onto error envelopes.
var (
	ErrUnauthorized     = errors.New("not a participant of this session")
	ErrSessionNotFound  = errors.New("session not found")
	ErrAlreadyTerminal  = errors.New("session already ended")
	ErrReaderNotFound   = errors.New("reader not found")
	ErrInvalidKind      = errors.New("unknown session kind")
	ErrNotActive        = errors.New("session not active")
	ErrGiftNotFound     = errors.New("gift not in catalog")
	ErrConcurrentUpdate = errors.New("concurrent balance update, retry")
)

// InsufficientFundsError carries the shortfall so the caller can prompt a
// top-up before retrying.
type InsufficientFundsError struct {
	Required  int64 `json:"required"`
	Available int64 `json:"available"`
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %d, available %d", e.Required, e.Available)
}

// IsInsufficientFunds unwraps an InsufficientFundsError from err, if any.
func IsInsufficientFunds(err error) (*InsufficientFundsError, bool) {
	var ife *InsufficientFundsError
	if errors.As(err, &ife) {
		return ife, true
	}
	return nil, false
}
