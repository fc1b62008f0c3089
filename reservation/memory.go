package reservation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Ledger. Since a local game server is a single
// process, reservations live in memory.
type Memory struct {
	mu        sync.RWMutex
	records   map[string]Record
	bySession map[string]map[string]struct{}
	ttl       time.Duration
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]Record),
		bySession: make(map[string]map[string]struct{}),
		ttl:       DefaultTTL,
		now:       time.Now,
	}
}

// WithTTL sets how long unaccepted reservations hold a slot. ttl <= 0 disables expiry.
func (m *Memory) WithTTL(ttl time.Duration) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl = ttl
	return m
}

// sweepLocked drops RESERVED records past their TTL.
func (m *Memory) sweepLocked() {
	now := m.now()
	for id, rec := range m.records {
		if rec.Expired(now, m.ttl) {
			m.removeLocked(id, rec)
		}
	}
}

func (m *Memory) removeLocked(id string, rec Record) {
	delete(m.records, id)
	if ids := m.bySession[rec.SessionID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.bySession, rec.SessionID)
		}
	}
}

// Reserve creates a RESERVED record. capacity <= 0 means unlimited.
func (m *Memory) Reserve(ctx context.Context, sessionID, playerID string, capacity int) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	ids := m.bySession[sessionID]
	if capacity > 0 && len(ids) >= capacity {
		return Record{}, ErrSessionFull
	}
	rec := Record{
		ID:        "psess-" + uuid.NewString(),
		SessionID: sessionID,
		PlayerID:  playerID,
		State:     StateReserved,
		CreatedAt: m.now(),
	}
	if ids == nil {
		ids = make(map[string]struct{})
		m.bySession[sessionID] = ids
	}
	ids[rec.ID] = struct{}{}
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *Memory) Get(ctx context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok || rec.Expired(m.now(), m.ttl) {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) Accept(ctx context.Context, id, playerID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	rec, ok := m.records[id]
	switch {
	case !ok:
		return Record{}, ErrNotFound
	case rec.State != StateReserved:
		return rec, ErrConsumed
	case playerID != "" && rec.PlayerID != playerID:
		return rec, ErrPlayerMismatch
	}
	rec.State = StateAccepted
	rec.AcceptedAt = m.now()
	m.records[id] = rec
	return rec, nil
}

// Release drops the reservation and frees its slot. Unknown ids are ignored.
func (m *Memory) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[id]; ok {
		m.removeLocked(id, rec)
	}
	return nil
}

// Count returns the number of live reservations on sessionID.
func (m *Memory) Count(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	return len(m.bySession[sessionID])
}
