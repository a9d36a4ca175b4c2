// Package tasks runs the bot's periodic work: document scans, the feed
// summary, config reloads. Each task loops on its own interval; a
// panicking or failing task is restarted with exponential backoff
// instead of taking the process down.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	restartBackoffMin = 5 * time.Second
	restartBackoffMax = 5 * time.Minute
)

// Status is one task's externally visible state.
type Status struct {
	Name      string
	Interval  time.Duration
	Runs      int
	Failures  int
	LastRun   time.Time
	LastErr   string
	Running   bool
	StopCause string
}

type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error

	mu        sync.Mutex
	runs      int
	failures  int
	lastRun   time.Time
	lastErr   string
	running   bool
	stopCause string
	gen       int
	cancel    context.CancelFunc
	kick      chan struct{}
}

// Supervisor owns the periodic tasks. Start blocks until ctx is
// cancelled and every task has drained; tasks added after Start begin
// looping immediately.
type Supervisor struct {
	logger *slog.Logger

	mu    sync.Mutex
	tasks []*task
	byKey map[string]*task
	ctx   context.Context
	wg    sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// New builds an empty supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger: slog.New(slog.DiscardHandler),
		byKey:  map[string]*task{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add registers a task. The first run happens right away; later runs
// follow the interval. Adding after Start spawns the loop immediately.
func (s *Supervisor) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &task{name: name, interval: interval, run: run, kick: make(chan struct{}, 1)}
	s.tasks = append(s.tasks, t)
	s.byKey[name] = t
	if s.ctx != nil && s.ctx.Err() == nil {
		s.spawn(t)
	}
}

// Kick wakes a task for an immediate run.
func (s *Supervisor) Kick(name string) error {
	s.mu.Lock()
	t, ok := s.byKey[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("tasks: no task %q", name)
	}
	select {
	case t.kick <- struct{}{}:
	default: // a kick is already pending
	}
	return nil
}

// Restart cancels a task's loop and spawns a fresh one, clearing any
// accumulated failure backoff.
func (s *Supervisor) Restart(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byKey[name]
	if !ok {
		return fmt.Errorf("tasks: no task %q", name)
	}
	if s.ctx == nil || s.ctx.Err() != nil {
		return fmt.Errorf("tasks: supervisor not running")
	}
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()
	s.spawn(t)
	s.logger.Info("tasks: restarted", "task", name)
	return nil
}

// Start runs every registered task until ctx is cancelled, then waits
// for in-flight runs to finish.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	for _, t := range s.tasks {
		s.spawn(t)
	}
	n := len(s.tasks)
	s.mu.Unlock()
	s.logger.Info("tasks: supervisor started", "tasks", n)
	<-ctx.Done()
	s.wg.Wait()
}

// spawn starts one loop generation for t under the supervisor context.
// Caller holds s.mu. The generation counter keeps a superseded loop's
// exit from clobbering the state of the loop that replaced it.
func (s *Supervisor) spawn(t *task) {
	loopCtx, cancel := context.WithCancel(s.ctx)
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.cancel = cancel
	t.running = true
	t.stopCause = ""
	t.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(loopCtx, t)
		t.mu.Lock()
		if t.gen == gen {
			t.running = false
			t.stopCause = context.Cause(loopCtx).Error()
		}
		t.mu.Unlock()
	}()
}

// loop ticks one task, first run immediate. A panic or error marks the
// failure and the loop keeps going; repeated consecutive failures
// stretch the wait up to the backoff ceiling.
func (s *Supervisor) loop(ctx context.Context, t *task) {
	var wait time.Duration
	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		case <-t.kick:
		}

		err := s.runOnce(ctx, t)
		t.mu.Lock()
		t.runs++
		t.lastRun = time.Now()
		if err != nil {
			t.failures++
			t.lastErr = err.Error()
		} else {
			t.lastErr = ""
		}
		t.mu.Unlock()

		if err != nil {
			consecutive++
			wait = backoff(t.interval, consecutive)
			s.logger.Error("tasks: run failed", "task", t.name, "consecutive", consecutive, "wait", wait, "error", err)
			continue
		}
		consecutive = 0
		wait = t.interval
	}
}

func (s *Supervisor) runOnce(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.run(ctx)
}

// backoff doubles the interval per consecutive failure, clamped to the
// ceiling.
func backoff(interval time.Duration, consecutive int) time.Duration {
	d := restartBackoffMin
	if interval > d {
		d = interval
	}
	for i := 1; i < consecutive; i++ {
		d *= 2
		if d >= restartBackoffMax {
			return restartBackoffMax
		}
	}
	if d > restartBackoffMax {
		d = restartBackoffMax
	}
	return d
}

// StatusTable snapshots every task's state, registration order.
func (s *Supervisor) StatusTable() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		out = append(out, Status{
			Name:      t.name,
			Interval:  t.interval,
			Runs:      t.runs,
			Failures:  t.failures,
			LastRun:   t.lastRun,
			LastErr:   t.lastErr,
			Running:   t.running,
			StopCause: t.stopCause,
		})
		t.mu.Unlock()
	}
	return out
}
