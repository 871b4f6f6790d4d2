package lockout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phonegate/phonegate/internal/cache"
)

// LockedOutError reports an active ban and how long it has left.
type LockedOutError struct {
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("locked out for %s", e.Remaining.Round(time.Second))
}

// Record is the per-identifier attempt state persisted in the cache.
type Record struct {
	Attempts int        `json:"attempts"`
	BanStart *time.Time `json:"ban_start,omitempty"`
}

// Ledger tracks failed attempts per identifier (phone number or client
// address) and bans an identifier for a fixed window once the attempt
// threshold is reached. Records live in the shared TTL cache and evict on
// their own once the ban lapses; there is no sweep process.
type Ledger struct {
	store     cache.Store
	threshold int
	banWindow time.Duration
	now       func() time.Time
}

// NewLedger builds a ledger. A nil now falls back to time.Now.
func NewLedger(store cache.Store, threshold int, banWindow time.Duration, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, threshold: threshold, banWindow: banWindow, now: now}
}

func (l *Ledger) load(ctx context.Context, identifier string) (Record, error) {
	raw, ok, err := l.store.Get(ctx, identifier)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// corrupt record counts as absent
		return Record{}, nil
	}
	return rec, nil
}

func (l *Ledger) remaining(rec Record) time.Duration {
	if rec.BanStart == nil {
		return 0
	}
	remaining := l.banWindow - l.now().Sub(*rec.BanStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingBan returns how long the identifier stays banned, zero when the
// identifier is empty, unknown, or its ban window has elapsed. Never negative.
func (l *Ledger) RemainingBan(ctx context.Context, identifier string) (time.Duration, error) {
	if identifier == "" {
		return 0, nil
	}
	rec, err := l.load(ctx, identifier)
	if err != nil {
		return 0, err
	}
	return l.remaining(rec), nil
}

// IsBanned reports whether the identifier currently has an active ban.
func (l *Ledger) IsBanned(ctx context.Context, identifier string) (bool, error) {
	remaining, err := l.RemainingBan(ctx, identifier)
	if err != nil {
		return false, err
	}
	return remaining > 0, nil
}

// MaxRemaining returns the longest remaining ban across the identifiers.
// Login combines the account and client-address dimensions this way, so a
// ban on either blocks the attempt.
func (l *Ledger) MaxRemaining(ctx context.Context, identifiers ...string) (time.Duration, error) {
	var max time.Duration
	for _, id := range identifiers {
		remaining, err := l.RemainingBan(ctx, id)
		if err != nil {
			return 0, err
		}
		if remaining > max {
			max = remaining
		}
	}
	return max, nil
}

// RecordFailure increments the identifier's attempt counter. The ban start
// is set exactly once per cycle, on the call where the counter reaches the
// threshold; later failures keep the original ban start. Returns whether a
// ban is now in effect and for how long.
//
// The update is a plain read-modify-write on one key; concurrent failures
// for the same identifier can under-count.
func (l *Ledger) RecordFailure(ctx context.Context, identifier string) (bool, time.Duration, error) {
	if identifier == "" {
		return false, 0, nil
	}

	rec, err := l.load(ctx, identifier)
	if err != nil {
		return false, 0, err
	}

	rec.Attempts++
	if rec.Attempts == l.threshold && rec.BanStart == nil {
		start := l.now()
		rec.BanStart = &start
	}

	remaining := l.remaining(rec)

	// The record expires with the ban so storage stays bounded: while
	// unbanned the attempt count survives one full window, once banned it
	// survives exactly the remaining ban time.
	ttl := l.banWindow
	if rec.BanStart != nil && remaining > 0 {
		ttl = remaining
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return false, 0, err
	}
	if err := l.store.Set(ctx, identifier, string(encoded), ttl); err != nil {
		return false, 0, err
	}

	return remaining > 0, remaining, nil
}

// Clear deletes the identifier's record: the attempt counter resets to zero
// and any active ban ends immediately. Called on successful authentication
// or a successful OTP match.
func (l *Ledger) Clear(ctx context.Context, identifier string) error {
	if identifier == "" {
		return nil
	}
	return l.store.Delete(ctx, identifier)
}
