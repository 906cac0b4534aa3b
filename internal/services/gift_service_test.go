package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestGiftService_SendGift(t *testing.T) {
	t.Run("debits sender and splits to recipient", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewGiftService(db, NewLedgerService(db, nil))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, available, locked, version FROM client_balances WHERE user_id = \\$1 FOR UPDATE").
			WithArgs("client1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "available", "locked", "version"}).
				AddRow("client1", 1000, 0, 1))
		mock.ExpectExec("UPDATE client_balances SET available = available - \\$1").
			WithArgs(500, sqlmock.AnyArg(), "client1", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO reader_balances").
			WithArgs("reader1", 350, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO gift_transactions").
			WithArgs("crystal", "client1", "reader1", "broadcast-42", 500, 350, 150, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		record, err := service.SendGift("client1", "reader1", "crystal", "broadcast-42")
		assert.NoError(t, err)
		assert.Equal(t, int64(500), record.Value)
		assert.Equal(t, int64(350), record.ReaderShare)
		assert.Equal(t, int64(150), record.PlatformShare)
		assert.Equal(t, record.Value, record.ReaderShare+record.PlatformShare)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds touches nothing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewGiftService(db, NewLedgerService(db, nil))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, available, locked, version FROM client_balances WHERE user_id = \\$1 FOR UPDATE").
			WithArgs("client1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "available", "locked", "version"}).
				AddRow("client1", 50, 0, 1))
		mock.ExpectRollback()

		_, err = service.SendGift("client1", "reader1", "rose", "broadcast-42")
		ife, ok := IsInsufficientFunds(err)
		assert.True(t, ok)
		assert.Equal(t, int64(100), ife.Required)
		assert.Equal(t, int64(50), ife.Available)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("locked funds cannot pay for gifts", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewGiftService(db, NewLedgerService(db, nil))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, available, locked, version FROM client_balances WHERE user_id = \\$1 FOR UPDATE").
			WithArgs("client1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "available", "locked", "version"}).
				AddRow("client1", 50, 500, 1))
		mock.ExpectRollback()

		_, err = service.SendGift("client1", "reader1", "rose", "broadcast-42")
		_, ok := IsInsufficientFunds(err)
		assert.True(t, ok)
	})

	t.Run("unknown gift id", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewGiftService(db, NewLedgerService(db, nil))

		_, err = service.SendGift("client1", "reader1", "unicorn", "broadcast-42")
		assert.Equal(t, ErrGiftNotFound, err)
	})

	t.Run("self gift is refused", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewGiftService(db, NewLedgerService(db, nil))

		_, err = service.SendGift("client1", "client1", "rose", "broadcast-42")
		assert.Equal(t, ErrUnauthorized, err)
	})
}

func TestGiftService_Lookup(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewGiftService(db, NewLedgerService(db, nil))

	gift, ok := service.Lookup("tarot")
	assert.True(t, ok)
	assert.Equal(t, "Golden Tarot", gift.Name)
	assert.Equal(t, int64(2500), gift.Value)

	_, ok = service.Lookup("unicorn")
	assert.False(t, ok)
}
