package services

import (
	"log"
	"sync"
	"time"

	"github.com/soulseer/backend/internal/models"
	"github.com/spf13/viper"
)

// HeartbeatDriver runs one monitor per active session. It is the only
// component that calls from billing into the transport: the state machine
// stays pure, the driver pushes the resulting events.
//
// Three timers per session: a reconcile tick on the minute cadence (the
// server bills even if the client's heartbeats stall briefly), a liveness
// timeout well above the ping cadence (a vanished client must not be billed
// indefinitely), and a grace countdown once the authorization is exhausted.
type HeartbeatDriver struct {
	sessions *SessionService
	notifier Notifier

	mu       sync.Mutex
	monitors map[string]*sessionMonitor

	tickInterval    time.Duration
	livenessTimeout time.Duration
	gracePeriod     time.Duration
}

type sessionMonitor struct {
	sessionID string
	stop      chan struct{}
	done      chan struct{}
	alive     chan struct{}
	grace     chan struct{}
	extend    chan struct{}
}

func NewHeartbeatDriver(sessions *SessionService, notifier Notifier) *HeartbeatDriver {
	viper.SetDefault("heartbeat.tick_interval", time.Minute)
	viper.SetDefault("heartbeat.liveness_timeout", 150*time.Second)
	viper.SetDefault("heartbeat.grace_period", time.Minute)

	return &HeartbeatDriver{
		sessions:        sessions,
		notifier:        notifier,
		monitors:        make(map[string]*sessionMonitor),
		tickInterval:    viper.GetDuration("heartbeat.tick_interval"),
		livenessTimeout: viper.GetDuration("heartbeat.liveness_timeout"),
		gracePeriod:     viper.GetDuration("heartbeat.grace_period"),
	}
}

// StartMonitor begins billing supervision for an activated session.
// Idempotent.
func (d *HeartbeatDriver) StartMonitor(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.monitors[sessionID]; exists {
		return
	}

	m := &sessionMonitor{
		sessionID: sessionID,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		alive:     make(chan struct{}, 1),
		grace:     make(chan struct{}, 1),
		extend:    make(chan struct{}, 1),
	}
	d.monitors[sessionID] = m
	go d.run(m)

	log.Printf("[HEARTBEAT] Monitor started for session %s", sessionID)
}

// StopMonitor stops a session's monitor and waits for it to exit, so no
// late tick can run once the caller proceeds to settle. No-op for unknown
// sessions.
func (d *HeartbeatDriver) StopMonitor(sessionID string) {
	d.mu.Lock()
	m, exists := d.monitors[sessionID]
	if exists {
		delete(d.monitors, sessionID)
	}
	d.mu.Unlock()

	if !exists {
		return
	}
	close(m.stop)
	<-m.done
	log.Printf("[HEARTBEAT] Monitor stopped for session %s", sessionID)
}

// MarkAlive records a client heartbeat, resetting the liveness timeout.
func (d *HeartbeatDriver) MarkAlive(sessionID string) {
	d.signal(sessionID, func(m *sessionMonitor) chan struct{} { return m.alive })
}

// CancelGrace clears a pending low-balance countdown after a successful
// extend.
func (d *HeartbeatDriver) CancelGrace(sessionID string) {
	d.signal(sessionID, func(m *sessionMonitor) chan struct{} { return m.extend })
}

func (d *HeartbeatDriver) signal(sessionID string, pick func(*sessionMonitor) chan struct{}) {
	d.mu.Lock()
	m, exists := d.monitors[sessionID]
	d.mu.Unlock()
	if !exists {
		return
	}
	select {
	case pick(m) <- struct{}{}:
	default:
	}
}

// TickAndNotify runs one billing tick and pushes the resulting events
// through the hub. Shared by the client heartbeat handler and the
// server-side reconcile timer.
func (d *HeartbeatDriver) TickAndNotify(sessionID string, now time.Time) (*TickResult, error) {
	result, err := d.sessions.Tick(sessionID, now)
	if err != nil {
		return nil, err
	}

	session, err := d.sessions.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	if result.MinutesBilled > 0 && d.notifier != nil {
		d.notifier.BroadcastToRoom(session.RoomID, models.EventMinuteBilled, models.MinuteBilledEvent{
			SessionID:        sessionID,
			BilledMinutes:    result.BilledMinutes,
			BilledAmount:     result.BilledAmount,
			RemainingMinutes: result.RemainingMinutes,
		})
		if bal, err := d.sessions.ledger.ClientBalanceOf(session.ClientID); err == nil {
			d.notifier.SendToUser(session.ClientID, models.EventBalanceUpdated, models.BalanceUpdatedEvent{
				Available: bal.Available,
				Locked:    bal.Locked,
			})
		}
	}

	if result.NeedsMoreFunds {
		d.signal(sessionID, func(m *sessionMonitor) chan struct{} { return m.grace })
		if d.notifier != nil {
			d.notifier.BroadcastToRoom(session.RoomID, models.EventNeedsMoreFunds, models.NeedsMoreFundsEvent{
				SessionID:    sessionID,
				GraceSeconds: int(d.gracePeriod / time.Second),
			})
		}
	}

	return result, nil
}

func (d *HeartbeatDriver) run(m *sessionMonitor) {
	defer close(m.done)

	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	liveness := time.NewTimer(d.livenessTimeout)
	defer liveness.Stop()

	var graceTimer *time.Timer
	var graceC <-chan time.Time
	defer func() {
		if graceTimer != nil {
			graceTimer.Stop()
		}
	}()

	for {
		select {
		case <-m.stop:
			return

		case <-ticker.C:
			if _, err := d.TickAndNotify(m.sessionID, time.Now()); err != nil {
				if err == ErrAlreadyTerminal || err == ErrSessionNotFound {
					d.removeSelf(m.sessionID)
					return
				}
				log.Printf("[HEARTBEAT] Tick failed for session %s: %v", m.sessionID, err)
			}

		case <-m.alive:
			if !liveness.Stop() {
				select {
				case <-liveness.C:
				default:
				}
			}
			liveness.Reset(d.livenessTimeout)

		case <-m.grace:
			if graceC == nil {
				graceTimer = time.NewTimer(d.gracePeriod)
				graceC = graceTimer.C
				log.Printf("[HEARTBEAT] Low-balance countdown started for session %s", m.sessionID)
			}

		case <-m.extend:
			if graceTimer != nil {
				graceTimer.Stop()
				graceTimer = nil
				graceC = nil
				log.Printf("[HEARTBEAT] Low-balance countdown cleared for session %s", m.sessionID)
			}

		case <-graceC:
			d.removeSelf(m.sessionID)
			go d.forceEnd(m.sessionID, models.EndReasonInsufficientBalance)
			return

		case <-liveness.C:
			d.removeSelf(m.sessionID)
			go d.forceEnd(m.sessionID, models.EndReasonLivenessTimeout)
			return
		}
	}
}

// removeSelf unregisters the monitor from inside its own loop so the
// subsequent End sees no monitor to stop.
func (d *HeartbeatDriver) removeSelf(sessionID string) {
	d.mu.Lock()
	delete(d.monitors, sessionID)
	d.mu.Unlock()
}

func (d *HeartbeatDriver) forceEnd(sessionID, reason string) {
	log.Printf("[HEARTBEAT] Forcing end of session %s: %s", sessionID, reason)
	if _, err := d.sessions.End(sessionID, reason, "system"); err != nil {
		log.Printf("[HEARTBEAT] Forced end failed for session %s: %v", sessionID, err)
	}
}

// MonitorCount reports how many sessions are under supervision.
func (d *HeartbeatDriver) MonitorCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.monitors)
}

// Shutdown stops every monitor. Called on server shutdown.
func (d *HeartbeatDriver) Shutdown() {
	d.mu.Lock()
	monitors := make([]*sessionMonitor, 0, len(d.monitors))
	for _, m := range d.monitors {
		monitors = append(monitors, m)
	}
	d.monitors = make(map[string]*sessionMonitor)
	d.mu.Unlock()

	for _, m := range monitors {
		close(m.stop)
		<-m.done
	}
}
