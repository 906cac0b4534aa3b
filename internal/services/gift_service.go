package services

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/soulseer/backend/internal/models"
)

// defaultGiftCatalog is the fixed id → value catalog gifts are validated
// against. Values in cents.
var defaultGiftCatalog = []models.Gift{
	{ID: "rose", Name: "Rose", Value: 100},
	{ID: "crystal", Name: "Crystal Ball", Value: 500},
	{ID: "moon", Name: "Full Moon", Value: 1000},
	{ID: "tarot", Name: "Golden Tarot", Value: 2500},
	{ID: "star", Name: "Shooting Star", Value: 5000},
}

// GiftService validates and settles virtual gifts. A gift debits the
// sender's available balance immediately and credits the recipient through
// the same split pathway sessions settle with.
type GiftService struct {
	db      *sql.DB
	ledger  *LedgerService
	catalog map[string]models.Gift
}

func NewGiftService(db *sql.DB, ledger *LedgerService) *GiftService {
	catalog := make(map[string]models.Gift, len(defaultGiftCatalog))
	for _, g := range defaultGiftCatalog {
		catalog[g.ID] = g
	}
	return &GiftService{
		db:      db,
		ledger:  ledger,
		catalog: catalog,
	}
}

// Lookup returns a catalog entry by id.
func (gs *GiftService) Lookup(giftID string) (models.Gift, bool) {
	g, ok := gs.catalog[giftID]
	return g, ok
}

// SendGift settles one gift: debit sender, split, credit recipient, record.
// Single transaction; a failure midway leaves balances untouched.
func (gs *GiftService) SendGift(senderID, recipientID, giftID, roomID string) (*models.GiftTransaction, error) {
	gift, ok := gs.catalog[giftID]
	if !ok {
		return nil, ErrGiftNotFound
	}
	if senderID == recipientID {
		return nil, ErrUnauthorized
	}

	tx, err := gs.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	bal, err := gs.lockSenderRow(tx, senderID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &InsufficientFundsError{Required: gift.Value, Available: 0}
		}
		return nil, err
	}
	if bal.Available < gift.Value {
		return nil, &InsufficientFundsError{Required: gift.Value, Available: bal.Available}
	}

	result, err := tx.Exec(`
		UPDATE client_balances
		SET available = available - $1, version = version + 1, updated_at = $2
		WHERE user_id = $3 AND version = $4`,
		gift.Value, time.Now(), senderID, bal.Version)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return nil, ErrConcurrentUpdate
	}

	readerShare, platformShare := gs.ledger.SplitAmount(gift.Value)
	if err := gs.ledger.CreditReader(tx, recipientID, readerShare); err != nil {
		return nil, err
	}

	record := &models.GiftTransaction{
		GiftID:        gift.ID,
		SenderID:      senderID,
		RecipientID:   recipientID,
		RoomID:        roomID,
		Value:         gift.Value,
		ReaderShare:   readerShare,
		PlatformShare: platformShare,
		CreatedAt:     time.Now(),
	}
	_, err = tx.Exec(`
		INSERT INTO gift_transactions
		(gift_id, sender_id, recipient_id, room_id, value, reader_share, platform_share, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.GiftID, record.SenderID, record.RecipientID, record.RoomID,
		record.Value, record.ReaderShare, record.PlatformShare, record.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[GIFT] %s sent %s to %s in %s: value=%d reader=%d platform=%d",
		senderID, gift.ID, recipientID, roomID, gift.Value, readerShare, platformShare)
	return record, nil
}

func (gs *GiftService) lockSenderRow(tx *sql.Tx, userID string) (*models.ClientBalance, error) {
	var bal models.ClientBalance
	err := tx.QueryRow(`
		SELECT user_id, available, locked, version
		FROM client_balances
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(&bal.UserID, &bal.Available, &bal.Locked, &bal.Version)
	return &bal, err
}

// GetCatalog returns the gift catalog
// @Summary List gifts
// @Tags gifts
// @Produce json
// @Success 200 {array} models.Gift
// @Router /gifts [get]
func (gs *GiftService) GetCatalog(w http.ResponseWriter, r *http.Request) {
	SendJSON(w, http.StatusOK, map[string]any{
		"gifts": defaultGiftCatalog,
		"count": len(defaultGiftCatalog),
	})
}
