package storage

import (
	"context"
	"time"
)

// Store is the persistence API consumed by the core services.
// Every call is a single transaction against the underlying database.
type Store interface {
	// Users.
	EnsureUser(ctx context.Context, userID int64, languageCode string) error
	GetUser(ctx context.Context, userID int64) (User, bool, error)
	SetLanguage(ctx context.Context, userID int64, code string) error
	SetFooter(ctx context.Context, userID int64, text string) error

	// Channels.
	AddChannel(ctx context.Context, channelID, userID int64) error
	IsChannelRegistered(ctx context.Context, channelID, userID int64) (bool, error)
	UserChannels(ctx context.Context, userID int64) ([]int64, error)
	RemoveChannel(ctx context.Context, channelID, userID int64) error

	// Premium, keyed per subject kind.
	UserPremium(ctx context.Context, userID int64) (PremiumStatus, error)
	SetUserPremium(ctx context.Context, userID int64, st PremiumStatus) error
	ChannelPremium(ctx context.Context, channelID int64) (PremiumStatus, error)
	SetChannelPremium(ctx context.Context, channelID int64, st PremiumStatus) error

	// Monthly quota counters, keyed by subject id.
	QuotaState(ctx context.Context, subjectID int64) (QuotaState, error)
	ResetQuota(ctx context.Context, subjectID int64, now time.Time) error
	IncrementQuota(ctx context.Context, subjectID int64) error

	// Scheduled jobs.
	CreateJob(ctx context.Context, j Job) error
	GetJob(ctx context.Context, id string) (Job, bool, error)
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context) ([]Job, error)

	// Maintenance sweeps, run from cron. Both are corrective only: the
	// quota ledger already resets lazily and treats expired premium as
	// inactive, these keep the rows themselves accurate.
	ResetStaleQuotas(ctx context.Context, monthStart time.Time) (int, error)
	ExpirePremium(ctx context.Context, now time.Time) (int, error)

	// Operator reports.
	ListUserIDs(ctx context.Context) ([]int64, error)
	TopUsers(ctx context.Context, limit int) ([]UserUsage, error)
	ActiveUsers(ctx context.Context, since time.Time, limit int) ([]UserUsage, error)
	PremiumChannels(ctx context.Context, now time.Time) ([]PremiumChannel, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}
