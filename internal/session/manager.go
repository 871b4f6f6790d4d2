package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/phonegate/phonegate/internal/cache"
)

// Manager is the session carrier: per-caller state persisted across requests
// under an opaque identifier. The identifier travels in a cookie; the state
// lives in the TTL cache and is renewed on every save.
type Manager struct {
	store cache.Store
	ttl   time.Duration
}

// NewManager builds a manager whose sessions expire after ttl of inactivity.
func NewManager(store cache.Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl}
}

// NewID mints a fresh opaque session identifier.
func (m *Manager) NewID() string {
	return uuid.NewString()
}

// Load reads the session state for id into dest. Returns false when the
// session is absent or expired.
func (m *Manager) Load(ctx context.Context, id string, dest any) (bool, error) {
	if id == "" {
		return false, nil
	}
	raw, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, nil
	}
	return true, nil
}

// Save persists the session state for id.
func (m *Manager) Save(ctx context.Context, id string, v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, id, string(encoded), m.ttl)
}

// Delete removes the session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return m.store.Delete(ctx, id)
}
