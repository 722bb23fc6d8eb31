// Package quota decides whether a subject may send one more post this month.
package quota

import (
	"context"
	"strings"
	"sync"
	"time"

	"castbot/internal/storage"
	"castbot/pkg/logx"
)

// Mode selects what the ledger is keyed by.
type Mode string

const (
	ModeUser    Mode = "user"    // legacy: one counter per user
	ModeChannel Mode = "channel" // one counter per destination channel
)

// Unlimited is the Remaining value for subjects without a monthly cap.
const Unlimited = -1

// Decision is the transient admission result. Remaining is Unlimited (-1)
// for the operator and active-premium subjects.
type Decision struct {
	Admitted  bool
	Remaining int
}

// Store is the slice of persistence the ledger needs.
type Store interface {
	UserPremium(ctx context.Context, userID int64) (storage.PremiumStatus, error)
	ChannelPremium(ctx context.Context, channelID int64) (storage.PremiumStatus, error)
	QuotaState(ctx context.Context, subjectID int64) (storage.QuotaState, error)
	ResetQuota(ctx context.Context, subjectID int64, now time.Time) error
	IncrementQuota(ctx context.Context, subjectID int64) error
}

type Config struct {
	Mode         Mode
	MonthlyLimit int
	// DeveloperID is the unrestricted operator identity; 0 disables it.
	DeveloperID int64
}

type Ledger struct {
	store Store
	log   logx.Logger
	loc   *time.Location

	mu  sync.RWMutex
	cfg Config

	now func() time.Time // test hook
}

func New(cfg Config, store Store, loc *time.Location, log logx.Logger) *Ledger {
	if cfg.Mode == "" {
		cfg.Mode = ModeUser
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{store: store, log: log, loc: loc, cfg: cfg, now: time.Now}
}

// Apply swaps in a new config (hot reload of the monthly limit).
func (l *Ledger) Apply(cfg Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeUser
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

func (l *Ledger) Mode() Mode {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.Mode
}

// CanAdmit reports whether the subject may send one more post.
//
// actorID is the user driving the interaction; it is only consulted for the
// operator bypass. subjectID is what the counter is keyed by (equal to
// actorID in user mode, the destination channel in channel mode).
//
// A read that observes a stale month marker resets the counter in place, so
// this call has a write side effect on the month boundary.
func (l *Ledger) CanAdmit(ctx context.Context, subjectID, actorID int64) (Decision, error) {
	l.mu.RLock()
	cfg := l.cfg
	l.mu.RUnlock()

	if cfg.DeveloperID != 0 && actorID == cfg.DeveloperID {
		return Decision{Admitted: true, Remaining: Unlimited}, nil
	}

	active, err := l.IsPremiumActive(ctx, subjectID)
	if err != nil {
		return Decision{}, err
	}
	if active {
		return Decision{Admitted: true, Remaining: Unlimited}, nil
	}

	st, err := l.store.QuotaState(ctx, subjectID)
	if err != nil {
		return Decision{}, err
	}

	now := l.now().In(l.loc)
	if !sameMonth(st.LastReset.In(l.loc), now) {
		if err := l.store.ResetQuota(ctx, subjectID, now); err != nil {
			return Decision{}, err
		}
		st.PostsThisMonth = 0
	}

	remaining := cfg.MonthlyLimit - st.PostsThisMonth
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Admitted: remaining > 0, Remaining: remaining}, nil
}

// RecordUsage bumps the monthly and lifetime counters by one. Call it once
// per successfully delivered destination; the ledger does not verify that
// the caller was admitted.
func (l *Ledger) RecordUsage(ctx context.Context, subjectID int64) error {
	// Make sure the stats row exists before the blind UPDATE.
	if _, err := l.store.QuotaState(ctx, subjectID); err != nil {
		return err
	}
	return l.store.IncrementQuota(ctx, subjectID)
}

// IsPremiumActive reports whether the subject currently has premium.
//
// Rules: the premium flag must be set; an empty expiry means permanent
// premium; a malformed expiry is treated as not active (fail closed).
func (l *Ledger) IsPremiumActive(ctx context.Context, subjectID int64) (bool, error) {
	l.mu.RLock()
	mode := l.cfg.Mode
	l.mu.RUnlock()

	var st storage.PremiumStatus
	var err error
	if mode == ModeChannel {
		st, err = l.store.ChannelPremium(ctx, subjectID)
	} else {
		st, err = l.store.UserPremium(ctx, subjectID)
	}
	if err != nil {
		return false, err
	}
	if !st.Flagged {
		return false, nil
	}
	if strings.TrimSpace(st.Until) == "" {
		return true, nil
	}
	until, ok := parseExpiry(st.Until)
	if !ok {
		l.log.Warn("unparseable premium expiry, treating as expired",
			logx.Int64("subject", subjectID), logx.String("until", st.Until))
		return false, nil
	}
	return until.After(l.now()), nil
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// parseExpiry accepts RFC 3339 and zone-less ISO-8601 (legacy rows).
func parseExpiry(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02T15:04:05", v); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
