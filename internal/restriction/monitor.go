// Package restriction tracks whether the current user may send messages.
package restriction

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-sync/internal/events"
	"chat-sync/internal/models"
)

const reloadTimeout = 10 * time.Second

// Fetcher looks up a user's restriction.
type Fetcher interface {
	GetRestriction(ctx context.Context, userID string) (models.Restriction, error)
}

// Monitor holds the last known restriction in memory only. It reloads when
// the bound user changes and whenever the bus reports that the server
// rejected a message for moderation reasons.
type Monitor struct {
	fetcher Fetcher
	bus     *events.Bus

	mu      sync.RWMutex
	userID  string
	current models.Restriction
	loads   int
	unsub   func()
	wg      sync.WaitGroup
}

func NewMonitor(fetcher Fetcher, bus *events.Bus) *Monitor {
	m := &Monitor{
		fetcher: fetcher,
		bus:     bus,
		current: models.Restriction{Status: models.RestrictionNone},
	}
	if bus != nil {
		m.unsub = bus.Subscribe(events.RestrictionInvalidated, m.invalidated)
	}
	return m
}

// Load fetches userID's restriction and binds the monitor to it. A failed
// fetch leaves the user unrestricted; the server enforces the real rule.
func (m *Monitor) Load(ctx context.Context, userID string) models.Restriction {
	log := zap.S().With("method", "restriction.Load", "user_id", userID)

	m.mu.Lock()
	m.userID = userID
	m.mu.Unlock()

	r, err := m.fetcher.GetRestriction(ctx, userID)
	if err != nil {
		log.Warnw("restriction lookup failed, assuming none", "error", err)
		r = models.Restriction{Status: models.RestrictionNone}
	}
	if r.Status == "" {
		r.Status = models.RestrictionNone
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID != userID {
		// Rebound while the request was in flight.
		return r
	}
	m.current = r
	m.loads++
	return r
}

// Current returns the last loaded restriction.
func (m *Monitor) Current() models.Restriction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CanSend is advisory.
func (m *Monitor) CanSend() bool {
	return m.Current().Status == models.RestrictionNone
}

// UserID is the user the monitor is bound to.
func (m *Monitor) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

// Loads counts completed loads for the bound user.
func (m *Monitor) Loads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loads
}

// Wait blocks until reloads triggered by the bus finish.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Close detaches the monitor from the bus.
func (m *Monitor) Close() {
	if m.unsub != nil {
		m.unsub()
	}
	m.wg.Wait()
}

func (m *Monitor) invalidated(e events.Event) {
	userID := m.UserID()
	if userID == "" {
		return
	}
	zap.S().With("method", "restriction.invalidated").Infow("reloading restriction", "user_id", userID, "reason", e.Reason)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		defer cancel()
		m.Load(ctx, userID)
	}()
}
