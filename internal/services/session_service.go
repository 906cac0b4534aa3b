package services

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/soulseer/backend/internal/middleware"
	"github.com/soulseer/backend/internal/models"
)

// Notifier is the seam between the money logic and the transport. The hub
// implements it; tests substitute a recorder.
type Notifier interface {
	BroadcastToRoom(roomID, eventType string, payload any)
	SendToUser(userID, eventType string, payload any)
}

// TickResult is the outcome of one billing tick.
type TickResult struct {
	SessionID        string `json:"sessionId"`
	BilledMinutes    int    `json:"billedMinutes"`
	BilledAmount     int64  `json:"billedAmount"`
	RemainingMinutes int    `json:"remainingMinutes"`
	NeedsMoreFunds   bool   `json:"needsMoreFunds"`
	// MinutesBilled is how many minutes this call charged (0 on a
	// redundant heartbeat).
	MinutesBilled int `json:"-"`
}

// EndResult is the final settlement summary for a session.
type EndResult struct {
	Session    *models.Session          `json:"session"`
	Refund     int64                    `json:"refund"`
	Settlement *models.SettlementRecord `json:"settlement,omitempty"`
	// AlreadyEnded marks an idempotent duplicate end call.
	AlreadyEnded bool `json:"alreadyEnded,omitempty"`
}

// SessionService owns the metered session lifecycle: authorize, activate,
// tick, extend, end. Every money-affecting operation is a single database
// transaction over the session row (FOR UPDATE) and the ledger.
type SessionService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
	notifier  Notifier
	driver    *HeartbeatDriver
}

func NewSessionService(db *sql.DB, ledger *LedgerService) *SessionService {
	return &SessionService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// SetNotifier wires the transport-facing event sink.
func (ss *SessionService) SetNotifier(n Notifier) { ss.notifier = n }

// SetDriver wires the heartbeat driver; End stops the session's monitor
// through it before settling.
func (ss *SessionService) SetDriver(d *HeartbeatDriver) { ss.driver = d }

// GetReader loads a reader's catalog row.
func (ss *SessionService) GetReader(readerID string) (*models.Reader, error) {
	var r models.Reader
	err := ss.db.QueryRow(`
		SELECT user_id, display_name, chat_rate, voice_rate, video_rate, status
		FROM readers WHERE user_id = $1`,
		readerID).Scan(&r.UserID, &r.DisplayName, &r.ChatRate, &r.VoiceRate, &r.VideoRate, &r.Status)
	if err == sql.ErrNoRows {
		return nil, ErrReaderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Authorize reserves funds for a session and creates it in INITIALIZED.
// The available→locked move and the session insert commit together, so a
// failure midway leaves no trace.
func (ss *SessionService) Authorize(clientID, readerID, kind string, initialMinutes int) (*models.Session, error) {
	reader, err := ss.GetReader(readerID)
	if err != nil {
		return nil, err
	}
	if reader.Status != "ACTIVE" {
		return nil, ErrReaderNotFound
	}

	rate := reader.RateFor(kind)
	if rate <= 0 {
		return nil, ErrInvalidKind
	}

	requiredAmount := rate * int64(initialMinutes)
	sessionID := uuid.New().String()
	now := time.Now()

	session := &models.Session{
		SessionID:         sessionID,
		ClientID:          clientID,
		ReaderID:          readerID,
		Kind:              kind,
		Status:            models.SessionInitialized,
		Rate:              rate,
		AuthorizedMinutes: initialMinutes,
		AuthorizedAmount:  requiredAmount,
		RoomID:            "session:" + sessionID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	tx, err := ss.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := ss.ledger.LockFunds(tx, clientID, requiredAmount); err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO sessions
		(session_id, client_id, reader_id, kind, status, rate, authorized_minutes, authorized_amount,
		 billed_minutes, billed_amount, last_billed_minute, room_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, 0, $9, $10, $10)`,
		session.SessionID, session.ClientID, session.ReaderID, session.Kind, session.Status,
		session.Rate, session.AuthorizedMinutes, session.AuthorizedAmount, session.RoomID, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[SESSION] Authorized session %s: client=%s reader=%s kind=%s rate=%d minutes=%d amount=%d",
		sessionID, clientID, readerID, kind, rate, initialMinutes, requiredAmount)
	return session, nil
}

// Activate transitions INITIALIZED → ACTIVE and stamps the start time.
// Idempotent if already active; an error on terminal sessions.
func (ss *SessionService) Activate(sessionID string) (*models.Session, error) {
	tx, err := ss.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	session, err := ss.lockSessionRow(tx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status == models.SessionActive {
		tx.Rollback()
		return session, nil
	}
	if session.IsTerminal() {
		return nil, ErrAlreadyTerminal
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE sessions SET status = $1, started_at = $2, updated_at = $2
		WHERE session_id = $3`,
		models.SessionActive, now, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	session.Status = models.SessionActive
	session.StartedAt = &now
	log.Printf("[SESSION] Activated session %s", sessionID)

	if ss.driver != nil {
		ss.driver.StartMonitor(session.SessionID)
	}
	return session, nil
}

// Tick bills elapsed whole minutes since the session started. The server
// clock is authoritative; client heartbeats are only triggers. The
// last_billed_minute marker is the sole duplicate guard, so redundant calls
// within the same minute boundary charge nothing.
func (ss *SessionService) Tick(sessionID string, now time.Time) (*TickResult, error) {
	tx, err := ss.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	session, err := ss.lockSessionRow(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, ErrAlreadyTerminal
	}

	result := &TickResult{
		SessionID:        session.SessionID,
		BilledMinutes:    session.BilledMinutes,
		BilledAmount:     session.BilledAmount,
		RemainingMinutes: session.RemainingMinutes(),
	}

	if session.Status != models.SessionActive || session.StartedAt == nil {
		tx.Rollback()
		return result, nil
	}

	elapsedMinutes := int(now.Sub(*session.StartedAt) / time.Minute)
	if elapsedMinutes < 0 {
		elapsedMinutes = 0
	}

	minutesToBill := elapsedMinutes - session.LastBilledMinute
	if remaining := session.RemainingMinutes(); minutesToBill > remaining {
		minutesToBill = remaining
	}

	if minutesToBill <= 0 {
		// Nothing chargeable. Authorization exhausted while time keeps
		// running means the client must extend or the session ends.
		result.NeedsMoreFunds = session.RemainingMinutes() == 0 && elapsedMinutes > session.LastBilledMinute
		tx.Rollback()
		return result, nil
	}

	amount := int64(minutesToBill) * session.Rate
	if err := ss.ledger.ConsumeLocked(tx, session.ClientID, amount); err != nil {
		return nil, err
	}

	newBilledMinutes := session.BilledMinutes + minutesToBill
	newBilledAmount := session.BilledAmount + amount
	newMarker := session.LastBilledMinute + minutesToBill

	_, err = tx.Exec(`
		UPDATE sessions
		SET billed_minutes = $1, billed_amount = $2, last_billed_minute = $3, updated_at = $4
		WHERE session_id = $5`,
		newBilledMinutes, newBilledAmount, newMarker, now, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	result.BilledMinutes = newBilledMinutes
	result.BilledAmount = newBilledAmount
	result.RemainingMinutes = session.AuthorizedMinutes - newBilledMinutes
	result.MinutesBilled = minutesToBill
	result.NeedsMoreFunds = result.RemainingMinutes == 0 && elapsedMinutes > newMarker

	log.Printf("[SESSION] Ticked session %s: +%dmin amount=%d billed=%d/%d",
		sessionID, minutesToBill, amount, newBilledMinutes, session.AuthorizedMinutes)
	return result, nil
}

// Extend reserves additional minutes against the client's balance. Only the
// client may extend.
func (ss *SessionService) Extend(sessionID, callerID string, additionalMinutes int) (*models.Session, error) {
	tx, err := ss.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	session, err := ss.lockSessionRow(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ClientID != callerID {
		return nil, ErrUnauthorized
	}
	if session.IsTerminal() {
		return nil, ErrAlreadyTerminal
	}

	amount := session.Rate * int64(additionalMinutes)
	if err := ss.ledger.LockFunds(tx, session.ClientID, amount); err != nil {
		return nil, err
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE sessions
		SET authorized_minutes = authorized_minutes + $1,
		    authorized_amount = authorized_amount + $2,
		    updated_at = $3
		WHERE session_id = $4`,
		additionalMinutes, amount, now, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	session.AuthorizedMinutes += additionalMinutes
	session.AuthorizedAmount += amount
	session.UpdatedAt = now

	log.Printf("[SESSION] Extended session %s: +%dmin amount=%d authorized=%d",
		sessionID, additionalMinutes, amount, session.AuthorizedMinutes)

	if ss.driver != nil {
		ss.driver.CancelGrace(sessionID)
	}
	return session, nil
}

// End terminalizes the session: refund the unbilled reservation, settle the
// billed amount 70/30 (configurable) and credit the reader. Idempotent,
// since duplicate end signals from both participants are expected.
func (ss *SessionService) End(sessionID, reason, endedBy string) (*EndResult, error) {
	// The monitor must be gone before the settlement write so no late tick
	// can bill afterwards.
	if ss.driver != nil {
		ss.driver.StopMonitor(sessionID)
	}

	tx, err := ss.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	session, err := ss.lockSessionRow(tx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.IsTerminal() {
		tx.Rollback()
		return &EndResult{Session: session, AlreadyEnded: true}, nil
	}

	finalStatus := models.SessionCancelled
	if session.Status == models.SessionActive || session.BilledAmount > 0 {
		finalStatus = models.SessionCompleted
	}
	if reason == "" {
		reason = models.EndReasonNormal
	}

	refund := session.AuthorizedAmount - session.BilledAmount
	if err := ss.ledger.ReleaseFunds(tx, session.ClientID, refund); err != nil {
		return nil, err
	}

	var settlement *models.SettlementRecord
	if session.BilledAmount > 0 {
		settlement, err = ss.ledger.RecordSettlement(tx, sessionID, session.BilledAmount)
		if err != nil {
			return nil, err
		}
		if err := ss.ledger.CreditReader(tx, session.ReaderID, settlement.ReaderShare); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE sessions
		SET status = $1, ended_at = $2, end_reason = $3, ended_by = $4, updated_at = $2
		WHERE session_id = $5`,
		finalStatus, now, reason, endedBy, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	session.Status = finalStatus
	session.EndedAt = &now
	session.EndReason = reason
	session.EndedBy = endedBy

	log.Printf("[SESSION] Ended session %s: status=%s reason=%s billed=%d refund=%d",
		sessionID, finalStatus, reason, session.BilledAmount, refund)

	if settlement != nil {
		ss.ledger.LogSettlement(settlement)
		if err := ss.ledger.QueueForPayout(settlement); err != nil {
			log.Printf("[SESSION] Failed to queue settlement for payout: %v", err)
		}
	}

	ss.notifySessionEnd(session, refund)
	return &EndResult{Session: session, Refund: refund, Settlement: settlement}, nil
}

func (ss *SessionService) notifySessionEnd(session *models.Session, refund int64) {
	if ss.notifier == nil {
		return
	}
	ss.notifier.BroadcastToRoom(session.RoomID, models.EventSessionEnd, models.SessionEndEvent{
		SessionID:     session.SessionID,
		Reason:        session.EndReason,
		EndedBy:       session.EndedBy,
		BilledMinutes: session.BilledMinutes,
		BilledAmount:  session.BilledAmount,
		Refund:        refund,
	})
	if bal, err := ss.ledger.ClientBalanceOf(session.ClientID); err == nil {
		ss.notifier.SendToUser(session.ClientID, models.EventBalanceUpdated, models.BalanceUpdatedEvent{
			Available: bal.Available,
			Locked:    bal.Locked,
		})
	}
}

// GetSession loads a session without locking.
func (ss *SessionService) GetSession(sessionID string) (*models.Session, error) {
	return ss.scanSession(ss.db.QueryRow(sessionSelect+` WHERE session_id = $1`, sessionID))
}

// GetSessionForUser loads a session and verifies the caller participates.
func (ss *SessionService) GetSessionForUser(sessionID, userID string) (*models.Session, error) {
	session, err := ss.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.ClientID != userID && session.ReaderID != userID {
		return nil, ErrUnauthorized
	}
	return session, nil
}

// IsParticipant reports whether userID is a peer of the session owning
// roomID. Used by the hub to gate session-room joins.
func (ss *SessionService) IsParticipant(roomID, userID string) (*models.Session, bool) {
	var session *models.Session
	var err error
	session, err = ss.scanSession(ss.db.QueryRow(sessionSelect+` WHERE room_id = $1`, roomID))
	if err != nil {
		return nil, false
	}
	if session.ClientID != userID && session.ReaderID != userID {
		return nil, false
	}
	return session, true
}

const sessionSelect = `
	SELECT session_id, client_id, reader_id, kind, status, rate,
	       authorized_minutes, authorized_amount, billed_minutes, billed_amount,
	       last_billed_minute, started_at, ended_at,
	       COALESCE(end_reason, ''), COALESCE(ended_by, ''), room_id, created_at, updated_at
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func (ss *SessionService) scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.SessionID, &s.ClientID, &s.ReaderID, &s.Kind, &s.Status, &s.Rate,
		&s.AuthorizedMinutes, &s.AuthorizedAmount, &s.BilledMinutes, &s.BilledAmount,
		&s.LastBilledMinute, &s.StartedAt, &s.EndedAt,
		&s.EndReason, &s.EndedBy, &s.RoomID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (ss *SessionService) lockSessionRow(tx *sql.Tx, sessionID string) (*models.Session, error) {
	return ss.scanSession(tx.QueryRow(sessionSelect+` WHERE session_id = $1 FOR UPDATE`, sessionID))
}

// HTTP handlers

// StartSession authorizes funds and creates a session
// @Summary Start a metered session
// @Description Reserve funds for a session with a reader and create it
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body models.StartSessionRequest true "Session parameters"
// @Success 201 {object} models.Session
// @Failure 409 {object} ErrorResponse
// @Router /sessions/start [post]
func (ss *SessionService) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.StartSessionRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ss.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.ReaderID == userID {
		SendErrorResponse(w, "Cannot start a session with yourself", http.StatusBadRequest, nil)
		return
	}

	session, err := ss.Authorize(userID, req.ReaderID, req.Type, req.Duration)
	if err != nil {
		if ife, ok := IsInsufficientFunds(err); ok {
			SendInsufficientFunds(w, ife)
			return
		}
		switch err {
		case ErrReaderNotFound:
			SendErrorResponse(w, "Reader not found", http.StatusNotFound, nil)
		case ErrInvalidKind:
			SendErrorResponse(w, "Unknown session type", http.StatusBadRequest, nil)
		default:
			log.Printf("[SESSION] Start failed: %v", err)
			SendErrorResponse(w, "Failed to start session", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSON(w, http.StatusCreated, map[string]any{
		"sessionId":         session.SessionID,
		"roomId":            session.RoomID,
		"rate":              session.Rate,
		"authorizedAmount":  session.AuthorizedAmount,
		"authorizedMinutes": session.AuthorizedMinutes,
	})
}

// Heartbeat is the client-initiated billing trigger
// @Summary Session heartbeat
// @Description Mark the client alive and bill any crossed minute boundaries
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body models.HeartbeatRequest true "Session reference"
// @Success 200 {object} TickResult
// @Failure 404 {object} ErrorResponse
// @Router /sessions/heartbeat [post]
func (ss *SessionService) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.HeartbeatRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ss.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	session, err := ss.GetSessionForUser(req.SessionID, userID)
	if err != nil {
		ss.writeSessionError(w, err)
		return
	}
	if session.IsTerminal() {
		// Duplicate heartbeats around session end are expected; report the
		// final totals instead of an error.
		SendJSON(w, http.StatusOK, TickResult{
			SessionID:        session.SessionID,
			BilledMinutes:    session.BilledMinutes,
			BilledAmount:     session.BilledAmount,
			RemainingMinutes: session.RemainingMinutes(),
		})
		return
	}

	var result *TickResult
	if ss.driver != nil {
		ss.driver.MarkAlive(session.SessionID)
		result, err = ss.driver.TickAndNotify(session.SessionID, time.Now())
	} else {
		result, err = ss.Tick(session.SessionID, time.Now())
	}
	if err != nil {
		ss.writeSessionError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, result)
}

// ExtendSession reserves additional minutes
// @Summary Extend a session
// @Description Reserve additional minutes against the client balance
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body models.ExtendSessionRequest true "Extension parameters"
// @Success 200 {object} models.Session
// @Failure 409 {object} ErrorResponse
// @Router /sessions/extend [post]
func (ss *SessionService) ExtendSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.ExtendSessionRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ss.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	session, err := ss.Extend(req.SessionID, userID, req.AdditionalMinutes)
	if err != nil {
		if ife, ok := IsInsufficientFunds(err); ok {
			SendInsufficientFunds(w, ife)
			return
		}
		ss.writeSessionError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"sessionId":         session.SessionID,
		"authorizedMinutes": session.AuthorizedMinutes,
		"authorizedAmount":  session.AuthorizedAmount,
		"remainingMinutes":  session.RemainingMinutes(),
	})
}

// EndSession terminalizes a session
// @Summary End a session
// @Description Settle the billed amount, refund the rest, and close the session
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body models.EndSessionRequest true "End parameters"
// @Success 200 {object} EndResult
// @Failure 404 {object} ErrorResponse
// @Router /sessions/end [post]
func (ss *SessionService) EndSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.EndSessionRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ss.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if _, err := ss.GetSessionForUser(req.SessionID, userID); err != nil {
		ss.writeSessionError(w, err)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = models.EndReasonNormal
	}
	result, err := ss.End(req.SessionID, reason, userID)
	if err != nil {
		ss.writeSessionError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, result)
}

// GetBalance returns the caller's prepaid balance
// @Summary Get client balance
// @Tags balance
// @Produce json
// @Success 200 {object} models.ClientBalance
// @Router /balance [get]
func (ss *SessionService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	bal, err := ss.ledger.ClientBalanceOf(userID)
	if err != nil {
		log.Printf("[SESSION] Balance read failed for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]int64{
		"available": bal.Available,
		"locked":    bal.Locked,
	})
}

// Topup credits the caller's available balance
// @Summary Credit available balance
// @Description Payment gateway boundary: credit only, after the gateway confirms the charge
// @Tags balance
// @Accept json
// @Produce json
// @Param request body models.TopupRequest true "Topup amount"
// @Success 200 {object} models.ClientBalance
// @Router /balance/topup [post]
func (ss *SessionService) Topup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.TopupRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ss.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := ss.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to process topup", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	if err := ss.ledger.CreditClient(tx, userID, req.Amount); err != nil {
		log.Printf("[SESSION] Topup failed for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to process topup", http.StatusInternalServerError, nil)
		return
	}
	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to process topup", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[SESSION] Topup for %s: +%d (ref=%s)", userID, req.Amount, req.Reference)

	bal, err := ss.ledger.ClientBalanceOf(userID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}
	SendJSON(w, http.StatusOK, map[string]int64{
		"available": bal.Available,
		"locked":    bal.Locked,
	})
}

// GetSessionByID returns a session detail for its participants
// @Summary Get session by ID
// @Tags sessions
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} models.Session
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionId} [get]
func (ss *SessionService) GetSessionByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	sessionID := chi.URLParam(r, "sessionId")
	session, err := ss.GetSessionForUser(sessionID, userID)
	if err != nil {
		ss.writeSessionError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, session)
}

// ListSessions returns the caller's session history
// @Summary List sessions
// @Tags sessions
// @Produce json
// @Param limit query int false "Number of sessions to return (default 20, max 100)"
// @Success 200 {array} models.Session
// @Router /sessions [get]
func (ss *SessionService) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}

	rows, err := ss.db.Query(sessionSelect+`
		WHERE client_id = $1 OR reader_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch sessions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	sessions := []*models.Session{}
	for rows.Next() {
		s, err := ss.scanSession(rows)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch sessions", http.StatusInternalServerError, nil)
			return
		}
		sessions = append(sessions, s)
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// ListReaders returns the reader catalog with per-kind rates
// @Summary List readers
// @Tags readers
// @Produce json
// @Success 200 {array} models.Reader
// @Router /readers [get]
func (ss *SessionService) ListReaders(w http.ResponseWriter, r *http.Request) {
	rows, err := ss.db.Query(`
		SELECT user_id, display_name, chat_rate, voice_rate, video_rate, status
		FROM readers
		WHERE status = 'ACTIVE'
		ORDER BY display_name`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch readers", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	readers := []*models.Reader{}
	for rows.Next() {
		var rd models.Reader
		if err := rows.Scan(&rd.UserID, &rd.DisplayName, &rd.ChatRate, &rd.VoiceRate, &rd.VideoRate, &rd.Status); err != nil {
			SendErrorResponse(w, "Failed to fetch readers", http.StatusInternalServerError, nil)
			return
		}
		readers = append(readers, &rd)
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"readers": readers,
		"count":   len(readers),
	})
}

// GetReaderByID returns one reader's catalog row
// @Summary Get reader
// @Tags readers
// @Produce json
// @Param readerId path string true "Reader ID"
// @Success 200 {object} models.Reader
// @Failure 404 {object} ErrorResponse
// @Router /readers/{readerId} [get]
func (ss *SessionService) GetReaderByID(w http.ResponseWriter, r *http.Request) {
	readerID := chi.URLParam(r, "readerId")
	reader, err := ss.GetReader(readerID)
	if err != nil {
		if err == ErrReaderNotFound {
			SendErrorResponse(w, "Reader not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to fetch reader", http.StatusInternalServerError, nil)
		return
	}
	SendJSON(w, http.StatusOK, reader)
}

// GetEarnings returns the caller's payable balance and lifetime earnings
// @Summary Get reader earnings
// @Tags readers
// @Produce json
// @Success 200 {object} models.ReaderBalance
// @Router /earnings [get]
func (ss *SessionService) GetEarnings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	bal, err := ss.ledger.ReaderBalanceOf(userID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch earnings", http.StatusInternalServerError, nil)
		return
	}
	SendJSON(w, http.StatusOK, bal)
}

func (ss *SessionService) writeSessionError(w http.ResponseWriter, err error) {
	switch err {
	case ErrSessionNotFound:
		SendErrorResponse(w, "Session not found", http.StatusNotFound, nil)
	case ErrUnauthorized:
		SendErrorResponse(w, "Not a participant of this session", http.StatusForbidden, nil)
	case ErrAlreadyTerminal:
		SendErrorResponse(w, "Session already ended", http.StatusConflict, nil)
	default:
		log.Printf("[SESSION] Operation failed: %v", err)
		SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
	}
}
