// Package broadcast fans a post out to its destinations, immediately or
// through durable scheduled jobs.
package broadcast

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"castbot/internal/quota"
	"castbot/internal/scheduler"
	"castbot/internal/session"
	"castbot/internal/storage"
	"castbot/pkg/logx"
)

// Transport is the delivery collaborator (the bot API).
type Transport interface {
	// CopyMessage copies the source message to dest, replacing its caption
	// when caption is non-empty, and returns the delivered message id.
	CopyMessage(ctx context.Context, dest, fromChat int64, messageID int, caption string) (int, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Store is the slice of persistence the dispatcher needs.
type Store interface {
	GetUser(ctx context.Context, userID int64) (storage.User, bool, error)
	CreateJob(ctx context.Context, j storage.Job) error
	GetJob(ctx context.Context, id string) (storage.Job, bool, error)
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context) ([]storage.Job, error)
}

// Reporter receives best-effort executor outcome notifications for the
// owning user. Implementations must not block for long.
type Reporter interface {
	JobDelivered(ctx context.Context, job storage.Job)
	JobFailed(ctx context.Context, job storage.Job)
}

type nopReporter struct{}

func (nopReporter) JobDelivered(context.Context, storage.Job) {}
func (nopReporter) JobFailed(context.Context, storage.Job)    {}

// Report aggregates one dispatch. For an immediate send Delivered+Failed
// covers every destination; for a deferred send Scheduled counts the jobs
// persisted (nothing delivered yet).
type Report struct {
	Delivered int
	Failed    int
	Scheduled int
}

type Config struct {
	// RatePerSec caps outgoing copies across all dispatches.
	RatePerSec int
}

type Service struct {
	log       logx.Logger
	cfg       Config
	store     Store
	ledger    *quota.Ledger
	transport Transport
	sched     *scheduler.Service
	reporter  Reporter

	limiter *rate.Limiter
	newID   func() string
}

func New(cfg Config, store Store, ledger *quota.Ledger, transport Transport, sched *scheduler.Service, log logx.Logger) *Service {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	return &Service{
		log:       log,
		cfg:       cfg,
		store:     store,
		ledger:    ledger,
		transport: transport,
		sched:     sched,
		reporter:  nopReporter{},
		limiter:   rate.NewLimiter(rate.Limit(rps), rps),
		newID:     uuid.NewString,
	}
}

// SetReporter installs the executor outcome notifier.
func (s *Service) SetReporter(r Reporter) {
	if r != nil {
		s.reporter = r
	}
}

// ComposeCaption joins a caption and a footer with a blank line. Either
// side may be empty; both empty yields the empty string (no caption).
func ComposeCaption(caption, footer string) string {
	caption = strings.TrimSpace(caption)
	footer = strings.TrimSpace(footer)
	switch {
	case caption == "":
		return footer
	case footer == "":
		return caption
	default:
		return caption + "\n\n" + footer
	}
}

// Finalize performs the terminal dispatch for a finalized session.
//
// Immediate mode delivers to every destination, tolerating per-destination
// failures. Deferred mode persists one job per destination and arms a
// timer for each; sibling jobs are independent, so one persistence failure
// does not roll back the others.
func (s *Service) Finalize(ctx context.Context, sess *session.Session) (Report, error) {
	if sess.State() != session.StateFinalizing {
		return Report{}, session.ErrBadTransition
	}
	dests := sess.Destinations()
	if len(dests) == 0 {
		return Report{}, session.ErrEmptyDestinations
	}

	var footer string
	if u, ok, err := s.store.GetUser(ctx, sess.UserID); err != nil {
		return Report{}, err
	} else if ok {
		footer = u.FooterText
	}
	caption, _ := sess.Caption()
	composed := ComposeCaption(caption, footer)

	if !sess.Scheduled() {
		return s.deliverNow(ctx, sess, dests, composed), nil
	}
	return s.scheduleAll(ctx, sess, dests, composed), nil
}

func (s *Service) deliverNow(ctx context.Context, sess *session.Session, dests []int64, caption string) Report {
	var rep Report
	for _, dest := range dests {
		if err := s.limiter.Wait(ctx); err != nil {
			rep.Failed += len(dests) - rep.Delivered - rep.Failed
			break
		}
		_, err := s.transport.CopyMessage(ctx, dest, sess.SourceChatID, sess.SourceMessageID, caption)
		if err != nil {
			rep.Failed++
			s.log.Error("delivery failed",
				logx.Int64("user", sess.UserID), logx.Int64("channel", dest), logx.Err(err))
			continue
		}
		rep.Delivered++
		if err := s.ledger.RecordUsage(ctx, s.subjectFor(sess.UserID, dest)); err != nil {
			s.log.Warn("quota usage not recorded",
				logx.Int64("user", sess.UserID), logx.Int64("channel", dest), logx.Err(err))
		}
	}
	return rep
}

func (s *Service) scheduleAll(ctx context.Context, sess *session.Session, dests []int64, caption string) Report {
	var rep Report
	due := sess.DueAt()
	for _, dest := range dests {
		job := storage.Job{
			ID:              s.newID(),
			SubjectID:       sess.UserID,
			SourceChatID:    sess.SourceChatID,
			SourceMessageID: sess.SourceMessageID,
			ChannelID:       dest,
			Caption:         caption,
			DueAt:           due,
		}
		if err := s.store.CreateJob(ctx, job); err != nil {
			rep.Failed++
			s.log.Error("job persist failed",
				logx.Int64("user", sess.UserID), logx.Int64("channel", dest), logx.Err(err))
			continue
		}
		if err := s.sched.ScheduleAt(job.ID, due, s.ExecuteJob); err != nil {
			// Record stays; it will be rehydrated (or reaped) at next start.
			s.log.Warn("timer registration failed",
				logx.String("job", job.ID), logx.Err(err))
		}
		rep.Scheduled++
	}
	return rep
}

// ExecuteJob is the scheduler callback for one due job.
//
// A missing record is an idempotent no-op (double fire or cancellation).
// Whatever the delivery outcome, the record is deleted before returning so
// a fired job can never wedge the store.
func (s *Service) ExecuteJob(ctx context.Context, jobID string) {
	job, ok, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.log.Error("job lookup failed", logx.String("job", jobID), logx.Err(err))
		return
	}
	if !ok {
		s.log.Info("job gone, skipping (already executed or cancelled)", logx.String("job", jobID))
		return
	}
	defer func() {
		if err := s.store.DeleteJob(ctx, jobID); err != nil {
			s.log.Error("job cleanup failed", logx.String("job", jobID), logx.Err(err))
		}
	}()

	if err := s.limiter.Wait(ctx); err != nil {
		s.reporter.JobFailed(ctx, job)
		return
	}
	_, err = s.transport.CopyMessage(ctx, job.ChannelID, job.SourceChatID, job.SourceMessageID, job.Caption)
	if err != nil {
		s.log.Error("scheduled delivery failed",
			logx.String("job", jobID), logx.Int64("channel", job.ChannelID), logx.Err(err))
		s.reporter.JobFailed(ctx, job)
		return
	}
	if err := s.ledger.RecordUsage(ctx, s.subjectFor(job.SubjectID, job.ChannelID)); err != nil {
		s.log.Warn("quota usage not recorded", logx.String("job", jobID), logx.Err(err))
	}
	s.log.Info("scheduled post delivered",
		logx.String("job", jobID), logx.Int64("channel", job.ChannelID))
	s.reporter.JobDelivered(ctx, job)
}

// CancelJob removes a pending job and disarms its timer. Unknown ids are
// a no-op so double cancellation is safe.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	s.sched.Cancel(jobID)
	return s.store.DeleteJob(ctx, jobID)
}

// Rehydrate re-arms a timer for every stored job after a restart. Jobs
// staler than the late tolerance are reaped: their records are deleted and
// they are counted in dropped.
func (s *Service) Rehydrate(ctx context.Context) (armed, dropped int, err error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, job := range jobs {
		serr := s.sched.ScheduleAt(job.ID, job.DueAt, s.ExecuteJob)
		if serr == nil {
			armed++
			continue
		}
		if serr == scheduler.ErrTooLate {
			dropped++
			s.log.Warn("dropping stale job",
				logx.String("job", job.ID), logx.Time("due", job.DueAt))
			if derr := s.store.DeleteJob(ctx, job.ID); derr != nil {
				s.log.Error("stale job cleanup failed", logx.String("job", job.ID), logx.Err(derr))
			}
			continue
		}
		s.log.Error("job rehydration failed", logx.String("job", job.ID), logx.Err(serr))
	}
	if armed > 0 || dropped > 0 {
		s.log.Info("jobs rehydrated", logx.Int("armed", armed), logx.Int("dropped", dropped))
	}
	return armed, dropped, nil
}

// subjectFor resolves the quota subject: the destination channel when the
// ledger is channel-keyed, otherwise the owning user.
func (s *Service) subjectFor(userID, channelID int64) int64 {
	if s.ledger.Mode() == quota.ModeChannel {
		return channelID
	}
	return userID
}
