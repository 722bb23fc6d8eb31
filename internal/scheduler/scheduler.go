// Package scheduler runs deferred broadcast jobs and recurring maintenance.
//
// One-shot timers are keyed by job id and backed by durable rows owned by
// the caller; after a restart the caller re-registers every stored job and
// the late-fire tolerance decides whether an overdue job still runs.
// Recurring maintenance (session eviction, monthly counter sweep) rides on
// robfig/cron in the configured timezone.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"castbot/pkg/logx"
)

type Config struct {
	Timezone      string // IANA TZ, e.g. "Asia/Tehran"
	LateTolerance time.Duration
	Workers       int
	QueueSize     int
}

// JobFunc executes one due job. The id is the caller's durable key.
type JobFunc func(ctx context.Context, id string)

type task struct {
	id   string
	name string
	run  func(ctx context.Context)
}

type cronDef struct {
	name string
	spec string
	job  func(ctx context.Context) error
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []cronDef

	queue  chan task
	stopCh chan struct{}
	runCtx context.Context
	wg     sync.WaitGroup

	tmu    sync.Mutex
	timers map[string]*time.Timer
}

func New(cfg Config, log logx.Logger) *Service {
	if cfg.LateTolerance <= 0 {
		cfg.LateTolerance = time.Hour
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers: map[string]*time.Timer{},
	}
	s.loc = s.loadLocation()
	return s
}

// Location is the zone schedule input is interpreted in.
func (s *Service) Location() *time.Location { return s.loc }

// LateTolerance is how late a due job may still fire.
func (s *Service) LateTolerance() time.Duration { return s.cfg.LateTolerance }

// SetLateTolerance updates the tolerance window (hot reload).
func (s *Service) SetLateTolerance(d time.Duration) {
	s.mu.Lock()
	if d > 0 {
		s.cfg.LateTolerance = d
	}
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx = ctx

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	size := s.cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	s.queue = make(chan task, size)

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.addCronLocked(d)
	}

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.Int("workers", workers), logx.String("tz", s.loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// AddCron registers a recurring maintenance job (cron spec or @every).
func (s *Service) AddCron(name, spec string, job func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.parser.Parse(spec); err != nil {
		return err
	}
	d := cronDef{name: name, spec: spec, job: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.addCronLocked(d)
	}
	return nil
}

func (s *Service) addCronLocked(d cronDef) {
	_, err := s.c.AddFunc(d.spec, func() {
		s.enqueue(task{
			id:   "cron:" + d.name,
			name: d.name,
			run: func(ctx context.Context) {
				if err := d.job(ctx); err != nil {
					s.log.Warn("maintenance job failed", logx.String("job", d.name), logx.Err(err))
				}
			},
		})
	})
	if err != nil {
		s.log.Error("cron registration failed", logx.String("job", d.name), logx.Err(err))
	}
}

// ErrTooLate is returned when a job's due instant is further in the past
// than the tolerance window allows.
var ErrTooLate = errors.New("scheduler: job past the late-fire tolerance")

// ScheduleAt arms a one-shot timer for the job. An overdue job still fires
// immediately if it is within the late tolerance; beyond that it is
// rejected and the caller decides what to do with the durable record.
func (s *Service) ScheduleAt(id string, due time.Time, fn JobFunc) error {
	delay, ok := fireDelay(time.Now(), due, s.LateTolerance())
	if !ok {
		return ErrTooLate
	}

	s.tmu.Lock()
	if old, exists := s.timers[id]; exists {
		_ = old.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		delete(s.timers, id)
		s.tmu.Unlock()
		s.enqueue(task{
			id:   id,
			name: "job " + id,
			run:  func(ctx context.Context) { fn(ctx, id) },
		})
	})
	s.tmu.Unlock()
	return nil
}

// Cancel disarms the timer for id, if one is armed. Safe to call for
// unknown ids; a timer that already fired is a no-op.
func (s *Service) Cancel(id string) {
	s.tmu.Lock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	s.tmu.Unlock()
}

// Pending reports the number of armed one-shot timers.
func (s *Service) Pending() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.timers)
}

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Warn("scheduler not started, dropping task", logx.String("task", t.name))
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("scheduler queue full, dropping task", logx.String("task", t.name))
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	s.mu.Lock()
	stopCh := s.stopCh
	q := s.queue
	s.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-q:
			t.run(ctx)
		}
	}
}

// fireDelay decides whether a job due at due should still fire at now, and
// with what delay. Jobs due in the future wait; jobs overdue by no more
// than the tolerance fire immediately; anything staler does not fire.
func fireDelay(now, due time.Time, tolerance time.Duration) (time.Duration, bool) {
	d := due.Sub(now)
	if d >= 0 {
		return d, true
	}
	if -d <= tolerance {
		return 0, true
	}
	return 0, false
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
