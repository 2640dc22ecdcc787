// Package schedule runs the recurring jobs: daily collection, the weekly
// campaign, and weekly cleanup. Jobs can also be triggered manually; a job
// already running rejects the trigger instead of queueing it.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrJobBusy is returned by TriggerNow while the job is already running.
var ErrJobBusy = errors.New("job already running")

// Clock abstracts time for the scheduler.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall-clock used outside tests.
var SystemClock Clock = systemClock{}

// JobFunc is the work a job performs. The trigger is "scheduled" or "manual".
type JobFunc func(ctx context.Context, trigger string) error

type job struct {
	name  string
	sched cron.Schedule
	fn    JobFunc

	mu      sync.Mutex
	running bool
	next    time.Time
	lastRun time.Time
	lastErr error
}

// begin moves the job to running, or reports it already is.
func (j *job) begin() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return false
	}
	j.running = true
	return true
}

func (j *job) end(at time.Time, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = false
	j.lastRun = at
	j.lastErr = err
}

// JobStatus is a snapshot of one job for the status surfaces.
type JobStatus struct {
	Name    string
	Running bool
	NextRun time.Time
	LastRun time.Time
	LastErr string
}

// Scheduler owns the job table and the tick loop.
type Scheduler struct {
	clock Clock
	loc   *time.Location
	tick  time.Duration

	mu   sync.Mutex
	jobs []*job
}

func NewScheduler(clock Clock, loc *time.Location) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{clock: clock, loc: loc, tick: time.Minute}
}

// Add registers a job under a standard five-field cron spec.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("failed to parse schedule %q for %s: %w", spec, name, err)
	}

	j := &job{name: name, sched: sched, fn: fn}
	j.next = sched.Next(s.clock.Now().In(s.loc))

	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()
	return nil
}

// Run ticks until the context is cancelled. Due jobs run in their own
// goroutine so a slow job never delays the others.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.clock.Now().In(s.loc)

	s.mu.Lock()
	jobs := make([]*job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, j := range jobs {
		j.mu.Lock()
		due := !j.next.IsZero() && !now.Before(j.next)
		if due {
			j.next = j.sched.Next(now)
		}
		j.mu.Unlock()
		if !due {
			continue
		}

		if !j.begin() {
			log.Printf("storytracker: skipping scheduled %s, previous run still active", j.name)
			continue
		}
		go s.runJob(ctx, j, "scheduled")
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *job, trigger string) {
	log.Printf("storytracker: running %s (%s)", j.name, trigger)
	err := j.fn(ctx, trigger)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("storytracker: %s failed: %v", j.name, err)
	}
	j.end(s.clock.Now(), err)
}

func (s *Scheduler) find(name string) *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.name == name {
			return j
		}
	}
	return nil
}

// TriggerNow runs the named job synchronously. It fails with ErrJobBusy when
// the job is mid-run, and never disturbs the job's next scheduled activation.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) error {
	j := s.find(name)
	if j == nil {
		return fmt.Errorf("unknown job %q", name)
	}
	if !j.begin() {
		return fmt.Errorf("%s: %w", name, ErrJobBusy)
	}

	err := j.fn(ctx, "manual")
	j.end(s.clock.Now(), err)
	return err
}

// Status reports every job in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	jobs := make([]*job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		st := JobStatus{
			Name:    j.name,
			Running: j.running,
			NextRun: j.next,
			LastRun: j.lastRun,
		}
		if j.lastErr != nil {
			st.LastErr = j.lastErr.Error()
		}
		j.mu.Unlock()
		statuses = append(statuses, st)
	}
	return statuses
}

// DailySpec converts a "HH:MM" time of day into a cron spec.
func DailySpec(at string) (string, error) {
	h, m, err := parseHHMM(at)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// WeeklySpec converts a day of week (0 = Sunday) and "HH:MM" into a cron spec.
func WeeklySpec(dow int, at string) (string, error) {
	if dow < 0 || dow > 6 {
		return "", fmt.Errorf("invalid day of week %d", dow)
	}
	h, m, err := parseHHMM(at)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * %d", m, h, dow), nil
}

func parseHHMM(at string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", at, err)
	}
	return t.Hour(), t.Minute(), nil
}
