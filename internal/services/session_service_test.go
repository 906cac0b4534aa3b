package services

import (
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/soulseer/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func newSessionServiceMock(t *testing.T) (*SessionService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewLedgerService(db, nil)
	service := NewSessionService(db, ledger)
	return service, mock, func() { db.Close() }
}

var sessionColumns = []string{
	"session_id", "client_id", "reader_id", "kind", "status", "rate",
	"authorized_minutes", "authorized_amount", "billed_minutes", "billed_amount",
	"last_billed_minute", "started_at", "ended_at",
	"end_reason", "ended_by", "room_id", "created_at", "updated_at",
}

func sessionRow(status string, startedAt *time.Time, authorizedMinutes int, authorizedAmount int64, billedMinutes int, billedAmount int64, lastBilledMinute int) *sqlmock.Rows {
	now := time.Now()
	var started any
	if startedAt != nil {
		started = *startedAt
	}
	return sqlmock.NewRows(sessionColumns).AddRow(
		"sess1", "client1", "reader1", models.SessionKindChat, status, 100,
		authorizedMinutes, authorizedAmount, billedMinutes, billedAmount,
		lastBilledMinute, started, nil,
		"", "", "session:sess1", now, now,
	)
}

func expectReaderLookup(mock sqlmock.Sqlmock, chatRate int64, status string) {
	mock.ExpectQuery("SELECT user_id, display_name, chat_rate, voice_rate, video_rate, status FROM readers WHERE user_id = \\$1").
		WithArgs("reader1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "display_name", "chat_rate", "voice_rate", "video_rate", "status"}).
			AddRow("reader1", "Mystic Luna", chatRate, 150, 200, status))
}

func expectClientRow(mock sqlmock.Sqlmock, available, locked int64, version int) {
	mock.ExpectQuery("SELECT user_id, available, locked, version FROM client_balances WHERE user_id = \\$1 FOR UPDATE").
		WithArgs("client1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "available", "locked", "version"}).
			AddRow("client1", available, locked, version))
}

func expectClientUpdate(mock sqlmock.Sqlmock, available, locked int64, version int) {
	mock.ExpectExec("UPDATE client_balances SET available = \\$1, locked = \\$2").
		WithArgs(available, locked, sqlmock.AnyArg(), "client1", version).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestSessionService_Authorize(t *testing.T) {
	t.Run("locks rate times duration", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		expectReaderLookup(mock, 100, "ACTIVE")
		mock.ExpectBegin()
		expectClientRow(mock, 1000, 0, 1)
		expectClientUpdate(mock, 500, 500, 1)
		mock.ExpectExec("INSERT INTO sessions").
			WithArgs(sqlmock.AnyArg(), "client1", "reader1", models.SessionKindChat, models.SessionInitialized,
				int64(100), 5, int64(500), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		session, err := service.Authorize("client1", "reader1", models.SessionKindChat, 5)
		assert.NoError(t, err)
		assert.Equal(t, models.SessionInitialized, session.Status)
		assert.Equal(t, int64(100), session.Rate)
		assert.Equal(t, int64(500), session.AuthorizedAmount)
		assert.Equal(t, 5, session.AuthorizedMinutes)
		assert.Equal(t, "session:"+session.SessionID, session.RoomID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds creates nothing", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		expectReaderLookup(mock, 100, "ACTIVE")
		mock.ExpectBegin()
		expectClientRow(mock, 1000, 0, 1)
		mock.ExpectRollback()

		_, err := service.Authorize("client1", "reader1", models.SessionKindChat, 12)
		ife, ok := IsInsufficientFunds(err)
		assert.True(t, ok)
		assert.Equal(t, int64(1200), ife.Required)
		assert.Equal(t, int64(1000), ife.Available)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("offline reader is not bookable", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		expectReaderLookup(mock, 100, "OFFLINE")

		_, err := service.Authorize("client1", "reader1", models.SessionKindChat, 5)
		assert.Equal(t, ErrReaderNotFound, err)
	})

	t.Run("unknown session kind", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		expectReaderLookup(mock, 100, "ACTIVE")

		_, err := service.Authorize("client1", "reader1", "astral", 5)
		assert.Equal(t, ErrInvalidKind, err)
	})
}

func TestSessionService_Activate(t *testing.T) {
	t.Run("initialized to active", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionInitialized, nil, 5, 500, 0, 0, 0))
		mock.ExpectExec("UPDATE sessions SET status = \\$1, started_at = \\$2").
			WithArgs(models.SessionActive, sqlmock.AnyArg(), "sess1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		session, err := service.Activate("sess1")
		assert.NoError(t, err)
		assert.Equal(t, models.SessionActive, session.Status)
		assert.NotNil(t, session.StartedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already active is idempotent", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		started := time.Now().Add(-time.Minute)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionActive, &started, 5, 500, 0, 0, 0))
		mock.ExpectRollback()

		session, err := service.Activate("sess1")
		assert.NoError(t, err)
		assert.Equal(t, models.SessionActive, session.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal session rejects activation", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionCompleted, nil, 5, 500, 5, 500, 5))
		mock.ExpectRollback()

		_, err := service.Activate("sess1")
		assert.Equal(t, ErrAlreadyTerminal, err)
	})
}

func TestSessionService_Tick(t *testing.T) {
	t.Run("bills crossed minute boundaries", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		now := started.Add(3*time.Minute + 10*time.Second)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionActive, &started, 5, 500, 0, 0, 0))
		expectClientRow(mock, 500, 500, 2)
		expectClientUpdate(mock, 500, 200, 2)
		mock.ExpectExec("UPDATE sessions").
			WithArgs(3, int64(300), 3, now, "sess1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := service.Tick("sess1", now)
		assert.NoError(t, err)
		assert.Equal(t, 3, result.MinutesBilled)
		assert.Equal(t, 3, result.BilledMinutes)
		assert.Equal(t, int64(300), result.BilledAmount)
		assert.Equal(t, 2, result.RemainingMinutes)
		assert.False(t, result.NeedsMoreFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redundant heartbeat in same minute charges nothing", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		now := started.Add(3*time.Minute + 40*time.Second)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionActive, &started, 5, 500, 3, 300, 3))
		mock.ExpectRollback()

		result, err := service.Tick("sess1", now)
		assert.NoError(t, err)
		assert.Equal(t, 0, result.MinutesBilled)
		assert.Equal(t, 3, result.BilledMinutes)
		assert.Equal(t, int64(300), result.BilledAmount)
		assert.False(t, result.NeedsMoreFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("billing never exceeds authorization", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		now := started.Add(8 * time.Minute) // three minutes past the authorization

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionActive, &started, 5, 500, 3, 300, 3))
		expectClientRow(mock, 500, 200, 3)
		expectClientUpdate(mock, 500, 0, 3)
		mock.ExpectExec("UPDATE sessions").
			WithArgs(5, int64(500), 5, now, "sess1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := service.Tick("sess1", now)
		assert.NoError(t, err)
		assert.Equal(t, 2, result.MinutesBilled)
		assert.Equal(t, 5, result.BilledMinutes)
		assert.Equal(t, int64(500), result.BilledAmount)
		assert.Equal(t, 0, result.RemainingMinutes)
		assert.True(t, result.NeedsMoreFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exhausted authorization keeps flagging", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		now := started.Add(6 * time.Minute)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionActive, &started, 5, 500, 5, 500, 5))
		mock.ExpectRollback()

		result, err := service.Tick("sess1", now)
		assert.NoError(t, err)
		assert.Equal(t, 0, result.MinutesBilled)
		assert.True(t, result.NeedsMoreFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not yet activated charges nothing", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionInitialized, nil, 5, 500, 0, 0, 0))
		mock.ExpectRollback()

		result, err := service.Tick("sess1", time.Now())
		assert.NoError(t, err)
		assert.Equal(t, 0, result.MinutesBilled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal session rejects ticks", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionCompleted, nil, 5, 500, 3, 300, 3))
		mock.ExpectRollback()

		_, err := service.Tick("sess1", time.Now())
		assert.Equal(t, ErrAlreadyTerminal, err)
	})
}

func TestSessionService_Extend(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("locks additional funds", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionActive, &started, 5, 500, 4, 400, 4))
		expectClientRow(mock, 500, 100, 4)
		expectClientUpdate(mock, 200, 400, 4)
		mock.ExpectExec("UPDATE sessions").
			WithArgs(3, int64(300), sqlmock.AnyArg(), "sess1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		session, err := service.Extend("sess1", "client1", 3)
		assert.NoError(t, err)
		assert.Equal(t, 8, session.AuthorizedMinutes)
		assert.Equal(t, int64(800), session.AuthorizedAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("only the client may extend", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionActive, &started, 5, 500, 4, 400, 4))
		mock.ExpectRollback()

		_, err := service.Extend("sess1", "reader1", 3)
		assert.Equal(t, ErrUnauthorized, err)
	})

	t.Run("insufficient funds leaves the session unchanged", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionActive, &started, 5, 500, 4, 400, 4))
		expectClientRow(mock, 100, 100, 4)
		mock.ExpectRollback()

		_, err := service.Extend("sess1", "client1", 3)
		ife, ok := IsInsufficientFunds(err)
		assert.True(t, ok)
		assert.Equal(t, int64(300), ife.Required)
		assert.Equal(t, int64(100), ife.Available)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionService_End(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("refunds the unbilled reservation and settles", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionActive, &started, 5, 500, 3, 300, 3))
		expectClientRow(mock, 500, 200, 5)
		expectClientUpdate(mock, 700, 0, 5)
		mock.ExpectExec("INSERT INTO settlements").
			WithArgs("sess1", 300, 210, 90, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO reader_balances").
			WithArgs("reader1", 210, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE sessions").
			WithArgs(models.SessionCompleted, sqlmock.AnyArg(), models.EndReasonNormal, "client1", "sess1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := service.End("sess1", models.EndReasonNormal, "client1")
		assert.NoError(t, err)
		assert.False(t, result.AlreadyEnded)
		assert.Equal(t, int64(200), result.Refund)
		assert.Equal(t, models.SessionCompleted, result.Session.Status)
		assert.Equal(t, int64(210), result.Settlement.ReaderShare)
		assert.Equal(t, int64(90), result.Settlement.PlatformShare)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate end is a no-op", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionCompleted, &started, 5, 500, 3, 300, 3))
		mock.ExpectRollback()

		result, err := service.End("sess1", models.EndReasonNormal, "reader1")
		assert.NoError(t, err)
		assert.True(t, result.AlreadyEnded)
		assert.Nil(t, result.Settlement)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("never-activated session cancels with a full refund", func(t *testing.T) {
		service, mock, closeDB := newSessionServiceMock(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionInitialized, nil, 5, 500, 0, 0, 0))
		expectClientRow(mock, 500, 500, 2)
		expectClientUpdate(mock, 1000, 0, 2)
		mock.ExpectExec("UPDATE sessions").
			WithArgs(models.SessionCancelled, sqlmock.AnyArg(), models.EndReasonCancelled, "client1", "sess1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := service.End("sess1", models.EndReasonCancelled, "client1")
		assert.NoError(t, err)
		assert.Equal(t, int64(500), result.Refund)
		assert.Equal(t, models.SessionCancelled, result.Session.Status)
		assert.Nil(t, result.Settlement)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionService_IsParticipant(t *testing.T) {
	service, mock, closeDB := newSessionServiceMock(t)
	defer closeDB()

	started := time.Now().Add(-time.Minute)

	t.Run("participants pass", func(t *testing.T) {
		for _, userID := range []string{"client1", "reader1"} {
			mock.ExpectQuery("FROM sessions WHERE room_id = \\$1").
				WithArgs("session:sess1").
				WillReturnRows(sessionRow(models.SessionActive, &started, 5, 500, 0, 0, 0))

			session, ok := service.IsParticipant("session:sess1", userID)
			assert.True(t, ok)
			assert.Equal(t, "sess1", session.SessionID)
		}
	})

	t.Run("strangers are refused", func(t *testing.T) {
		mock.ExpectQuery("FROM sessions WHERE room_id = \\$1").
			WithArgs("session:sess1").
			WillReturnRows(sessionRow(models.SessionActive, &started, 5, 500, 0, 0, 0))

		_, ok := service.IsParticipant("session:sess1", "lurker")
		assert.False(t, ok)
	})

	t.Run("unknown room is refused", func(t *testing.T) {
		mock.ExpectQuery("FROM sessions WHERE room_id = \\$1").
			WithArgs("session:ghost").
			WillReturnRows(sqlmock.NewRows(sessionColumns))

		_, ok := service.IsParticipant("session:ghost", "client1")
		assert.False(t, ok)
	})
}

func TestSessionService_GetSessionForUser(t *testing.T) {
	service, mock, closeDB := newSessionServiceMock(t)
	defer closeDB()

	t.Run("missing session", func(t *testing.T) {
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(sessionColumns))

		_, err := service.GetSessionForUser("ghost", "client1")
		assert.Equal(t, ErrSessionNotFound, err)
	})

	t.Run("non-participant", func(t *testing.T) {
		mock.ExpectQuery("FROM sessions WHERE session_id = \\$1").
			WithArgs("sess1").
			WillReturnRows(sessionRow(models.SessionActive, nil, 5, 500, 0, 0, 0))

		_, err := service.GetSessionForUser("sess1", "lurker")
		assert.Equal(t, ErrUnauthorized, err)
	})
}

// notifierRecorder captures pushed events for assertions.
type notifierRecorder struct {
	mu     sync.Mutex
	rooms  []recordedEvent
	direct []recordedEvent
}

type recordedEvent struct {
	Target    string
	EventType string
	Payload   any
}

func (n *notifierRecorder) BroadcastToRoom(roomID, eventType string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rooms = append(n.rooms, recordedEvent{roomID, eventType, payload})
}

func (n *notifierRecorder) SendToUser(userID, eventType string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct = append(n.direct, recordedEvent{userID, eventType, payload})
}

func (n *notifierRecorder) roomEvents(eventType string) []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []recordedEvent
	for _, e := range n.rooms {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestSessionService_EndNotifies(t *testing.T) {
	service, mock, closeDB := newSessionServiceMock(t)
	defer closeDB()

	recorder := &notifierRecorder{}
	service.SetNotifier(recorder)

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM sessions WHERE session_id = \\$1 FOR UPDATE").
		WithArgs("sess1").
		WillReturnRows(sessionRow(models.SessionActive, &started, 5, 500, 5, 500, 5))
	// Fully billed authorization: refund is zero, so no balance row is
	// touched before the settlement insert.
	mock.ExpectExec("INSERT INTO settlements").
		WithArgs("sess1", 500, 350, 150, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO reader_balances").
		WithArgs("reader1", 350, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sessions").
		WithArgs(models.SessionCompleted, sqlmock.AnyArg(), models.EndReasonNormal, "reader1", "sess1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Post-commit balance push.
	mock.ExpectQuery("SELECT available, locked FROM client_balances WHERE user_id = \\$1").
		WithArgs("client1").
		WillReturnRows(sqlmock.NewRows([]string{"available", "locked"}).AddRow(500, 0))

	_, err := service.End("sess1", models.EndReasonNormal, "reader1")
	assert.NoError(t, err)

	ends := recorder.roomEvents(models.EventSessionEnd)
	assert.Len(t, ends, 1)
	assert.Equal(t, "session:sess1", ends[0].Target)
	payload := ends[0].Payload.(models.SessionEndEvent)
	assert.Equal(t, models.EndReasonNormal, payload.Reason)
	assert.Equal(t, int64(500), payload.BilledAmount)
	assert.Equal(t, int64(0), payload.Refund)
	assert.NoError(t, mock.ExpectationsWereMet())
}
