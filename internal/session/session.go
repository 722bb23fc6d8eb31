// Package session holds the per-user broadcast conversation state.
//
// A Session is created when qualifying content arrives and is destroyed on
// finalization, cancellation, or idle eviction. The state enum makes
// illegal combinations (e.g. a caption while still choosing the send mode)
// unrepresentable; every mutation validates the current state.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"castbot/pkg/jalali"
)

// State is the broadcast conversation step.
type State int

const (
	StateChoosingSendMode State = iota
	StateChoosingDate
	StateChoosingTime
	StateSelectingDestinations
	StateChoosingCaptionOption
	StateAwaitingCaptionText
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateChoosingSendMode:
		return "choosing_send_mode"
	case StateChoosingDate:
		return "choosing_date"
	case StateChoosingTime:
		return "choosing_time"
	case StateSelectingDestinations:
		return "selecting_destinations"
	case StateChoosingCaptionOption:
		return "choosing_caption_option"
	case StateAwaitingCaptionText:
		return "awaiting_caption_text"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

var (
	ErrBadTransition     = errors.New("session: step not allowed in current state")
	ErrInvalidTime       = errors.New("session: invalid time, expected HH:MM")
	ErrPastTime          = errors.New("session: scheduled time is in the past")
	ErrNoDate            = errors.New("session: no date chosen")
	ErrEmptyDestinations = errors.New("session: no destinations selected")
)

// Session is one user's in-flight broadcast. All methods are safe for
// concurrent use; the handlers and the eviction sweep may interleave.
type Session struct {
	UserID int64

	// Source locator: the original content is copied from here, never
	// re-uploaded.
	SourceChatID    int64
	SourceMessageID int

	mu           sync.Mutex
	state        State
	destinations []int64 // insertion order, unique
	caption      string
	captionSet   bool
	scheduled    bool
	date         jalali.Date
	dateSet      bool
	dueAt        time.Time // UTC, valid once state passed ChoosingTime
	lastActivity time.Time
}

func (s *Session) touch() { s.lastActivity = time.Now() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChooseImmediate moves from mode selection straight to destination picking.
func (s *Session) ChooseImmediate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateChoosingSendMode {
		return ErrBadTransition
	}
	s.scheduled = false
	s.state = StateSelectingDestinations
	s.touch()
	return nil
}

// ChooseScheduled moves from mode selection to the date picker.
func (s *Session) ChooseScheduled() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateChoosingSendMode {
		return ErrBadTransition
	}
	s.scheduled = true
	s.state = StateChoosingDate
	s.touch()
	return nil
}

// SetDate records the picked calendar day and advances to time input.
func (s *Session) SetDate(d jalali.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateChoosingDate {
		return ErrBadTransition
	}
	if !d.Valid() {
		return fmt.Errorf("session: invalid date %v", d)
	}
	s.date = d
	s.dateSet = true
	s.state = StateChoosingTime
	s.touch()
	return nil
}

// SetTime parses an HH:MM wall-clock string, composes it with the chosen
// date in loc, and stores the resulting UTC instant. The instant must be
// strictly in the future; on any error the state stays ChoosingTime so the
// user can retry.
func (s *Session) SetTime(input string, loc *time.Location, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateChoosingTime {
		return ErrBadTransition
	}
	if !s.dateSet {
		return ErrNoDate
	}
	hour, minute, err := parseHHMM(input)
	if err != nil {
		return err
	}
	gy, gm, gd := s.date.Gregorian()
	due := time.Date(gy, time.Month(gm), gd, hour, minute, 0, 0, loc).UTC()
	if !due.After(now) {
		return ErrPastTime
	}
	s.dueAt = due
	s.state = StateSelectingDestinations
	s.touch()
	return nil
}

// ToggleDestination flips membership of one channel id in the destination
// set and reports whether the channel is selected afterwards. Toggling the
// same id twice restores the previous membership.
func (s *Session) ToggleDestination(channelID int64) (selected bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSelectingDestinations {
		return false, ErrBadTransition
	}
	s.touch()
	for i, id := range s.destinations {
		if id == channelID {
			s.destinations = append(s.destinations[:i], s.destinations[i+1:]...)
			return false, nil
		}
	}
	s.destinations = append(s.destinations, channelID)
	return true, nil
}

// Destinations returns the selected channels in insertion order.
func (s *Session) Destinations() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.destinations...)
}

// ConfirmDestinations advances to the caption choice. The destination set
// must be non-empty; the keyboard only renders the confirm control when it
// is, but the transition enforces it regardless.
func (s *Session) ConfirmDestinations() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSelectingDestinations {
		return ErrBadTransition
	}
	if len(s.destinations) == 0 {
		return ErrEmptyDestinations
	}
	s.state = StateChoosingCaptionOption
	s.touch()
	return nil
}

// WantCaption switches to caption text input.
func (s *Session) WantCaption() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateChoosingCaptionOption {
		return ErrBadTransition
	}
	s.state = StateAwaitingCaptionText
	s.touch()
	return nil
}

// SkipCaption finalizes without a caption.
func (s *Session) SkipCaption() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateChoosingCaptionOption {
		return ErrBadTransition
	}
	s.state = StateFinalizing
	s.touch()
	return nil
}

// SetCaption stores the caption verbatim and finalizes.
func (s *Session) SetCaption(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingCaptionText {
		return ErrBadTransition
	}
	s.caption = text
	s.captionSet = true
	s.state = StateFinalizing
	s.touch()
	return nil
}

// Caption returns the caption, if one was explicitly provided.
func (s *Session) Caption() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caption, s.captionSet
}

// Scheduled reports the send mode; DueAt is only meaningful when true.
func (s *Session) Scheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

func (s *Session) DueAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dueAt
}

func (s *Session) Date() (jalali.Date, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.date, s.dateSet
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

func parseHHMM(v string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, 0, ErrInvalidTime
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, ErrInvalidTime
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, ErrInvalidTime
	}
	return h, m, nil
}
