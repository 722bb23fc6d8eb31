package session

import (
	"errors"
	"testing"
	"time"

	"castbot/pkg/jalali"
	"castbot/pkg/logx"
)

func newTestManager() *Manager {
	return NewManager(30*time.Minute, logx.Nop())
}

func TestDoubleToggleRestoresMembership(t *testing.T) {
	m := newTestManager()
	s := m.Begin(7, 7, 42)
	if err := s.ChooseImmediate(); err != nil {
		t.Fatalf("ChooseImmediate: %v", err)
	}

	sel, err := s.ToggleDestination(-100123)
	if err != nil || !sel {
		t.Fatalf("first toggle: sel=%v err=%v", sel, err)
	}
	sel, err = s.ToggleDestination(-100123)
	if err != nil || sel {
		t.Fatalf("second toggle: sel=%v err=%v", sel, err)
	}
	if got := s.Destinations(); len(got) != 0 {
		t.Fatalf("destinations after double toggle: %v", got)
	}
}

func TestDestinationsKeepInsertionOrder(t *testing.T) {
	m := newTestManager()
	s := m.Begin(7, 7, 42)
	_ = s.ChooseImmediate()

	for _, id := range []int64{-3, -1, -2} {
		if _, err := s.ToggleDestination(id); err != nil {
			t.Fatalf("toggle %d: %v", id, err)
		}
	}
	got := s.Destinations()
	want := []int64{-3, -1, -2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("destinations = %v, want %v", got, want)
		}
	}
}

func TestConfirmRequiresDestinations(t *testing.T) {
	m := newTestManager()
	s := m.Begin(7, 7, 42)
	_ = s.ChooseImmediate()

	if err := s.ConfirmDestinations(); !errors.Is(err, ErrEmptyDestinations) {
		t.Fatalf("confirm on empty set: %v, want ErrEmptyDestinations", err)
	}
	if s.State() != StateSelectingDestinations {
		t.Fatalf("state = %v, want selecting_destinations", s.State())
	}

	if _, err := s.ToggleDestination(-100123); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := s.ConfirmDestinations(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if s.State() != StateChoosingCaptionOption {
		t.Fatalf("state = %v", s.State())
	}
}

func TestPastScheduleRejected(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tehran")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	m := newTestManager()
	s := m.Begin(7, 7, 42)
	_ = s.ChooseScheduled()
	if err := s.SetDate(jalali.Date{Year: 1403, Month: 12, Day: 20}); err != nil {
		t.Fatalf("SetDate: %v", err)
	}

	// "now" is already past 1403-12-20 14:30 Tehran time.
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, loc)
	if err := s.SetTime("14:30", loc, now.UTC()); !errors.Is(err, ErrPastTime) {
		t.Fatalf("past time: %v, want ErrPastTime", err)
	}
	if s.State() != StateChoosingTime {
		t.Fatalf("state after rejection = %v, want choosing_time", s.State())
	}

	// Retry with a valid future time succeeds from the held state.
	now = time.Date(2025, 3, 10, 10, 0, 0, 0, loc)
	if err := s.SetTime("14:30", loc, now.UTC()); err != nil {
		t.Fatalf("future time: %v", err)
	}
	if s.State() != StateSelectingDestinations {
		t.Fatalf("state = %v", s.State())
	}
	want := time.Date(2025, 3, 10, 14, 30, 0, 0, loc).UTC()
	if !s.DueAt().Equal(want) {
		t.Fatalf("DueAt = %v, want %v", s.DueAt(), want)
	}
}

func TestMalformedTimeKeepsState(t *testing.T) {
	m := newTestManager()
	s := m.Begin(7, 7, 42)
	_ = s.ChooseScheduled()
	_ = s.SetDate(jalali.Date{Year: 1403, Month: 1, Day: 1})

	for _, input := range []string{"", "1430", "25:00", "12:61", "noon"} {
		if err := s.SetTime(input, time.UTC, time.Now()); !errors.Is(err, ErrInvalidTime) {
			t.Fatalf("input %q: %v, want ErrInvalidTime", input, err)
		}
		if s.State() != StateChoosingTime {
			t.Fatalf("input %q left state %v", input, s.State())
		}
	}
}

func TestCaptionFlow(t *testing.T) {
	m := newTestManager()
	s := m.Begin(7, 7, 42)
	_ = s.ChooseImmediate()
	_, _ = s.ToggleDestination(-100123)
	_ = s.ConfirmDestinations()

	if err := s.WantCaption(); err != nil {
		t.Fatalf("WantCaption: %v", err)
	}
	if err := s.SetCaption("  hello  "); err != nil {
		t.Fatalf("SetCaption: %v", err)
	}
	got, ok := s.Caption()
	if !ok || got != "  hello  " {
		t.Fatalf("caption stored = %q ok=%v, want verbatim text", got, ok)
	}
	if s.State() != StateFinalizing {
		t.Fatalf("state = %v", s.State())
	}
}

func TestSkipCaption(t *testing.T) {
	m := newTestManager()
	s := m.Begin(7, 7, 42)
	_ = s.ChooseImmediate()
	_, _ = s.ToggleDestination(-100123)
	_ = s.ConfirmDestinations()

	if err := s.SkipCaption(); err != nil {
		t.Fatalf("SkipCaption: %v", err)
	}
	if _, ok := s.Caption(); ok {
		t.Fatal("caption must be absent when skipped")
	}
	if s.State() != StateFinalizing {
		t.Fatalf("state = %v", s.State())
	}
}

func TestOutOfOrderStepsRejected(t *testing.T) {
	m := newTestManager()
	s := m.Begin(7, 7, 42)

	if _, err := s.ToggleDestination(-1); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("toggle before mode choice: %v", err)
	}
	if err := s.SetCaption("x"); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("caption before prompt: %v", err)
	}
	if err := s.SetTime("12:00", time.UTC, time.Now()); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("time before date: %v", err)
	}
}

func TestBeginReplacesAndEndDiscards(t *testing.T) {
	m := newTestManager()
	s1 := m.Begin(7, 7, 1)
	_ = s1.ChooseImmediate()
	_, _ = s1.ToggleDestination(-1)

	s2 := m.Begin(7, 7, 2)
	if s2.SourceMessageID != 2 || len(s2.Destinations()) != 0 {
		t.Fatalf("Begin did not replace session: %+v", s2)
	}

	m.End(7)
	if _, ok := m.Get(7); ok {
		t.Fatal("session should be gone after End")
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	m := NewManager(time.Minute, logx.Nop())
	s := m.Begin(7, 7, 1)
	s.mu.Lock()
	s.lastActivity = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()
	m.Begin(8, 8, 1) // fresh, survives

	if n := m.Sweep(time.Now()); n != 1 {
		t.Fatalf("Sweep evicted %d, want 1", n)
	}
	if _, ok := m.Get(7); ok {
		t.Fatal("idle session should be evicted")
	}
	if _, ok := m.Get(8); !ok {
		t.Fatal("fresh session should survive")
	}
}
