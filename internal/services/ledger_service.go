package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/soulseer/backend/internal/models"
	"github.com/spf13/viper"
)

// LedgerService owns every balance mutation. Client rows are locked with
// FOR UPDATE so concurrent authorize/tick/extend calls on the same client
// serialize; a version column backstops the row lock.
type LedgerService struct {
	db                 *sql.DB
	redis              *redis.Client
	readerSharePercent int64
}

func NewLedgerService(db *sql.DB, redisClient *redis.Client) *LedgerService {
	viper.SetDefault("settlement.reader_share_percent", 70)
	share := viper.GetInt64("settlement.reader_share_percent")
	if share <= 0 || share > 100 {
		share = 70
	}
	return &LedgerService{
		db:                 db,
		redis:              redisClient,
		readerSharePercent: share,
	}
}

// SplitAmount splits a gross amount into reader and platform shares. Floor
// division, remainder to the platform, so the shares always sum to gross.
func (s *LedgerService) SplitAmount(gross int64) (readerShare, platformShare int64) {
	readerShare = gross * s.readerSharePercent / 100
	platformShare = gross - readerShare
	return readerShare, platformShare
}

func (s *LedgerService) lockClientRow(tx *sql.Tx, userID string) (*models.ClientBalance, error) {
	var bal models.ClientBalance
	err := tx.QueryRow(`
		SELECT user_id, available, locked, version
		FROM client_balances
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(&bal.UserID, &bal.Available, &bal.Locked, &bal.Version)
	return &bal, err
}

func (s *LedgerService) updateClientRow(tx *sql.Tx, bal *models.ClientBalance, available, locked int64) error {
	result, err := tx.Exec(`
		UPDATE client_balances
		SET available = $1, locked = $2, version = version + 1, updated_at = $3
		WHERE user_id = $4 AND version = $5`,
		available, locked, time.Now(), bal.UserID, bal.Version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for client %s", bal.UserID)
	}
	return nil
}

// LockFunds moves amount from available to locked, failing with
// InsufficientFundsError (carrying the current available) when the client
// cannot cover it. Debit and credit are one UPDATE in the caller's
// transaction, so a client can never over-authorize concurrently.
func (s *LedgerService) LockFunds(tx *sql.Tx, clientID string, amount int64) error {
	bal, err := s.lockClientRow(tx, clientID)
	if err != nil {
		if err == sql.ErrNoRows {
			return &InsufficientFundsError{Required: amount, Available: 0}
		}
		return err
	}

	if bal.Available < amount {
		return &InsufficientFundsError{Required: amount, Available: bal.Available}
	}

	return s.updateClientRow(tx, bal, bal.Available-amount, bal.Locked+amount)
}

// ReleaseFunds returns amount from locked to available (session refund).
func (s *LedgerService) ReleaseFunds(tx *sql.Tx, clientID string, amount int64) error {
	if amount == 0 {
		return nil
	}
	bal, err := s.lockClientRow(tx, clientID)
	if err != nil {
		return err
	}
	if bal.Locked < amount {
		return fmt.Errorf("release %d exceeds locked %d for client %s", amount, bal.Locked, clientID)
	}
	return s.updateClientRow(tx, bal, bal.Available+amount, bal.Locked-amount)
}

// ConsumeLocked burns amount of the client's locked reservation (a billed
// minute). Available is untouched.
func (s *LedgerService) ConsumeLocked(tx *sql.Tx, clientID string, amount int64) error {
	if amount == 0 {
		return nil
	}
	bal, err := s.lockClientRow(tx, clientID)
	if err != nil {
		return err
	}
	if bal.Locked < amount {
		return fmt.Errorf("consume %d exceeds locked %d for client %s", amount, bal.Locked, clientID)
	}
	return s.updateClientRow(tx, bal, bal.Available, bal.Locked-amount)
}

// CreditClient adds a top-up to the available balance. This is the payment
// gateway boundary: credit only.
func (s *LedgerService) CreditClient(tx *sql.Tx, clientID string, amount int64) error {
	_, err := tx.Exec(`
		INSERT INTO client_balances (user_id, available, locked, last_topup_amount, last_topup_at, version, updated_at)
		VALUES ($1, $2, 0, $2, $3, 1, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			available = client_balances.available + $2,
			last_topup_amount = $2,
			last_topup_at = $3,
			version = client_balances.version + 1,
			updated_at = $3`,
		clientID, amount, time.Now())
	return err
}

// CreditReader adds earnings to a reader's payable balance and lifetime
// total. First earning creates the row.
func (s *LedgerService) CreditReader(tx *sql.Tx, readerID string, amount int64) error {
	_, err := tx.Exec(`
		INSERT INTO reader_balances (user_id, payable, lifetime_earnings, version, updated_at)
		VALUES ($1, $2, $2, 1, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			payable = reader_balances.payable + $2,
			lifetime_earnings = reader_balances.lifetime_earnings + $2,
			version = reader_balances.version + 1,
			updated_at = $3`,
		readerID, amount, time.Now())
	return err
}

// RecordSettlement inserts the split for a billed session. The unique
// session_id constraint makes duplicate End calls a no-op at the ledger too.
func (s *LedgerService) RecordSettlement(tx *sql.Tx, sessionID string, gross int64) (*models.SettlementRecord, error) {
	readerShare, platformShare := s.SplitAmount(gross)
	rec := &models.SettlementRecord{
		SessionID:     sessionID,
		Gross:         gross,
		ReaderShare:   readerShare,
		PlatformShare: platformShare,
		CreatedAt:     time.Now(),
	}

	_, err := tx.Exec(`
		INSERT INTO settlements (session_id, gross, reader_share, platform_share, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO NOTHING`,
		rec.SessionID, rec.Gross, rec.ReaderShare, rec.PlatformShare, rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ClientBalanceOf reads a client's balance. Clients with no row yet read as
// zero.
func (s *LedgerService) ClientBalanceOf(clientID string) (*models.ClientBalance, error) {
	bal := &models.ClientBalance{UserID: clientID}
	err := s.db.QueryRow(`
		SELECT available, locked FROM client_balances WHERE user_id = $1`,
		clientID).Scan(&bal.Available, &bal.Locked)
	if err == sql.ErrNoRows {
		return bal, nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// ReaderBalanceOf reads a reader's payable balance and lifetime earnings.
func (s *LedgerService) ReaderBalanceOf(readerID string) (*models.ReaderBalance, error) {
	bal := &models.ReaderBalance{UserID: readerID}
	err := s.db.QueryRow(`
		SELECT payable, lifetime_earnings, last_payout_at
		FROM reader_balances WHERE user_id = $1`,
		readerID).Scan(&bal.Payable, &bal.LifetimeEarnings, &bal.LastPayoutAt)
	if err == sql.ErrNoRows {
		return bal, nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// QueueForPayout pushes a settlement onto the payout queue consumed by the
// scheduled payout batch. Called after commit; best effort when Redis is
// down.
func (s *LedgerService) QueueForPayout(rec *models.SettlementRecord) error {
	if s.redis == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.redis.RPush(context.Background(), "payout_queue", data).Err()
}

// LogSettlement is the audit line emitted once per settlement.
func (s *LedgerService) LogSettlement(rec *models.SettlementRecord) {
	log.Printf("[LEDGER] Settlement for session %s: gross=%d reader=%d platform=%d",
		rec.SessionID, rec.Gross, rec.ReaderShare, rec.PlatformShare)
}
