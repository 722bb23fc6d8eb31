package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by lookups that require the row to exist.
	ErrNotFound = errors.New("storage: not found")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// User is a registered bot user.
type User struct {
	ID           int64
	LanguageCode string
	FooterText   string
	CreatedAt    time.Time
}

// PremiumStatus is the raw premium record for a subject.
//
// Until is kept as the stored text on purpose: the quota ledger decides how
// to treat an absent or malformed expiry, not the storage layer.
type PremiumStatus struct {
	Flagged bool
	Until   string // ISO-8601 text, empty = no expiry recorded
}

// QuotaState is the monthly counter for a subject together with its
// last-reset marker. Read and reset always travel together.
type QuotaState struct {
	PostsThisMonth int
	LastReset      time.Time
	TotalPosts     int
}

// Job is one durable scheduled delivery: a (post, destination, run-time)
// triple. The caption is pre-composed at schedule time.
type Job struct {
	ID              string
	SubjectID       int64
	SourceChatID    int64
	SourceMessageID int
	ChannelID       int64
	Caption         string
	DueAt           time.Time // UTC
}

// UserUsage is one row of the operator activity reports.
type UserUsage struct {
	UserID         int64
	LanguageCode   string
	PostsThisMonth int
	TotalPosts     int
	CreatedAt      time.Time
}

// PremiumChannel is one row of the operator premium-channel report.
type PremiumChannel struct {
	ChannelID int64
	Until     string // empty = no expiry recorded
}

// Stats is an aggregate snapshot for the operator report.
type Stats struct {
	Users          int
	PremiumUsers   int
	Channels       int
	TotalPosts     int
	PostsThisMonth int
	PendingJobs    int
}
