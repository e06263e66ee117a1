// Package schedule fires named jobs on cron specs in a fixed timezone.
//
// Specs accept an optional seconds field and descriptors ("@daily",
// "@every 1h"). A job whose previous run is still in flight is skipped, not
// queued, so a slow daily push never stacks up behind itself.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "versebot/pkg/logx"
)

var (
	ErrUnknownJob     = errors.New("schedule: unknown job")
	ErrAlreadyRunning = errors.New("schedule: job already running")
	ErrDuplicateJob   = errors.New("schedule: duplicate job")
)

// Parser is the spec grammar used by Add and by config validation.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type job struct {
	name    string
	spec    string
	sched   cron.Schedule
	timeout time.Duration
	run     func(ctx context.Context) error

	running atomic.Bool
	entryID cron.EntryID
}

type Service struct {
	log logx.Logger
	loc *time.Location

	mu   sync.Mutex
	c    *cron.Cron
	ctx  context.Context
	jobs map[string]*job
	wg   sync.WaitGroup
}

// New returns a stopped scheduler. loc defaults to time.Local.
func New(loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, loc: loc, jobs: map[string]*job{}, ctx: context.Background()}
}

func (s *Service) Location() *time.Location { return s.loc }

// Add registers fn under name. timeout bounds each run; 0 means no bound.
// Jobs added after Start are scheduled immediately.
func (s *Service) Add(name, spec string, timeout time.Duration, fn func(ctx context.Context) error) error {
	spec = strings.TrimSpace(spec)
	sched, err := Parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("schedule %s: invalid spec %q: %w", name, spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	j := &job{name: name, spec: spec, sched: sched, timeout: timeout, run: fn}
	s.jobs[name] = j
	if s.c != nil {
		s.addLocked(j)
	}
	return nil
}

func (s *Service) addLocked(j *job) {
	j.entryID = s.c.Schedule(j.sched, cron.FuncJob(func() {
		if err := s.fire(j); errors.Is(err, ErrAlreadyRunning) {
			s.log.Warn("schedule skipped: previous run still in flight", logx.String("job", j.name))
		}
	}))
}

// Start begins firing jobs. ctx is the parent of every run's context;
// cancelling it cancels in-flight runs.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(
		cron.WithParser(Parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
	)
	for _, j := range s.jobs {
		s.addLocked(j)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop stops firing and waits (bounded by ctx) for in-flight runs.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop: runs still in flight", logx.Err(ctx.Err()))
	}
	s.log.Info("scheduler stopped")
}

// Trigger runs name now, outside its schedule, and waits for it. The same
// overlap rule applies: it fails with ErrAlreadyRunning if a run is in
// flight.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	j := s.jobs[name]
	s.mu.Unlock()
	if j == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.fire(j)
}

// Next reports when name fires next, or the zero time if it is unknown.
func (s *Service) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[name]
	if j == nil {
		return time.Time{}
	}
	if s.c != nil && j.entryID != 0 {
		return s.c.Entry(j.entryID).Next
	}
	return j.sched.Next(time.Now().In(s.loc))
}

func (s *Service) fire(j *job) (err error) {
	if !j.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer j.running.Store(false)

	s.mu.Lock()
	parent := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx := parent
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, j.timeout)
		defer cancel()
	}

	start := time.Now()
	log := s.log.With(logx.String("job", j.name))
	log.Info("job started")
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("schedule %s: panic: %v", j.name, r)
		}
	}()
	if err = j.run(ctx); err != nil {
		log.Error("job failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return err
	}
	log.Info("job finished", logx.Duration("took", time.Since(start)))
	return nil
}

// cronLogger adapts logx to cron's logger interface.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
