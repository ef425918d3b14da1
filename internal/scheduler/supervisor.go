// Package scheduler runs the scheduled and random visiting loops.
//
// A Supervisor owns the run state. At most one mode is active at a time:
// starting a mode cancels whatever is running and the new loop waits for the
// old goroutine to exit before its first visit.
package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"url-time/internal/settings"
	"url-time/internal/visit"
)

// ErrClosed is returned when a mode is started after Shutdown.
var ErrClosed = errors.New("scheduler is shut down")

// Stop reasons recorded for finished runs.
const (
	ReasonCompleted  = "completed"
	ReasonStopped    = "stopped"
	ReasonSuperseded = "superseded"
	ReasonShutdown   = "shutdown"
)

// Visitor performs a single visit. ok is false when there was nothing to visit.
type Visitor interface {
	Execute(ctx context.Context, cfg settings.Effective) (outcome visit.Outcome, ok bool)
}

// Sink receives every outcome a loop produces.
type Sink interface {
	Publish(outcome visit.Outcome)
}

// RunRecorder is notified when a run begins and ends.
type RunRecorder interface {
	RunStarted(ctx context.Context, info RunInfo) error
	RunFinished(ctx context.Context, info RunInfo) error
}

// RunInfo describes one mode run.
type RunInfo struct {
	ID         string        `json:"id"`
	Mode       settings.Mode `json:"mode"`
	Planned    int           `json:"planned,omitempty"`
	Visits     int           `json:"visits"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Reason     string        `json:"stop_reason,omitempty"`
}

// RunState is the pair of running flags reported to the control surface.
type RunState struct {
	ScheduledRunning bool   `json:"scheduled_running"`
	RandomRunning    bool   `json:"random_running"`
	RunID            string `json:"run_id,omitempty"`
}

type run struct {
	id     string
	mode   settings.Mode
	cancel context.CancelFunc
	done   chan struct{}
	// reason and visits are guarded by Supervisor.mu.
	reason string
	visits int
}

// Supervisor starts, supersedes and stops mode loops.
type Supervisor struct {
	visitor Visitor
	sinks   []Sink
	logger  *zap.Logger

	now func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	active *run
	// last is the most recently started run, possibly still winding down.
	last     *run
	closed   bool
	recorder RunRecorder

	wg sync.WaitGroup
}

// NewSupervisor creates an idle supervisor. Every outcome is handed to each
// sink in order.
func NewSupervisor(visitor Visitor, logger *zap.Logger, sinks ...Sink) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		visitor: visitor,
		sinks:   sinks,
		logger:  logger,
		now:     time.Now,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// SetRecorder registers an optional run recorder.
func (s *Supervisor) SetRecorder(recorder RunRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = recorder
}

// StartScheduled launches the fixed-interval loop and returns immediately.
func (s *Supervisor) StartScheduled(cfg settings.Effective) (string, error) {
	cfg.Mode = settings.ModeScheduled
	return s.start(cfg, s.runScheduled)
}

// StartRandom launches the bounded random loop and returns immediately.
func (s *Supervisor) StartRandom(cfg settings.Effective) (string, error) {
	cfg.Mode = settings.ModeRandom
	return s.start(cfg, s.runRandom)
}

func (s *Supervisor) start(cfg settings.Effective, loop func(context.Context, *run, settings.Effective)) (string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     uuid.NewString(),
		mode:   cfg.Mode,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	superseded := s.active
	if superseded != nil {
		superseded.reason = ReasonSuperseded
		superseded.cancel()
	}
	prev := s.last
	s.active = r
	s.last = r
	s.wg.Add(1)
	s.mu.Unlock()

	if superseded != nil {
		s.logger.Info("mode superseded", zap.String("run", superseded.id), zap.String("mode", string(superseded.mode)), zap.String("by", string(r.mode)))
	}

	go func() {
		defer s.wg.Done()
		defer close(r.done)
		defer cancel()
		if prev != nil {
			<-prev.done
		}
		s.execute(ctx, r, cfg, loop)
	}()
	return r.id, nil
}

func (s *Supervisor) execute(ctx context.Context, r *run, cfg settings.Effective, loop func(context.Context, *run, settings.Effective)) {
	started := s.now()
	info := RunInfo{ID: r.id, Mode: r.mode, StartedAt: started}
	if r.mode == settings.ModeRandom {
		info.Planned = cfg.Random.TotalVisits
	}
	s.record(func(rec RunRecorder) error { return rec.RunStarted(context.Background(), info) })

	if ctx.Err() == nil {
		if len(cfg.URLs) == 0 {
			s.logger.Warn("no urls configured, visits are no-ops", zap.String("run", r.id))
		}
		loop(ctx, r, cfg)
	}

	s.mu.Lock()
	if s.active == r {
		s.active = nil
	}
	if r.reason == "" {
		r.reason = ReasonCompleted
	}
	info.Visits = r.visits
	info.Reason = r.reason
	s.mu.Unlock()

	finished := s.now()
	info.FinishedAt = &finished
	s.logger.Info("mode finished",
		zap.String("run", r.id),
		zap.String("mode", string(r.mode)),
		zap.Int("visits", info.Visits),
		zap.String("reason", info.Reason),
		zap.Duration("duration", finished.Sub(started)),
	)
	s.record(func(rec RunRecorder) error { return rec.RunFinished(context.Background(), info) })
}

func (s *Supervisor) record(fn func(RunRecorder) error) {
	s.mu.Lock()
	rec := s.recorder
	s.mu.Unlock()
	if rec == nil {
		return
	}
	if err := fn(rec); err != nil {
		s.logger.Warn("record run", zap.Error(err))
	}
}

// Stop cancels any active mode. Both flags read false as soon as it returns;
// the loop goroutine exits on its own shortly after. Stopping with nothing
// active is not an error.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	r := s.active
	if r != nil {
		r.reason = ReasonStopped
		r.cancel()
		s.active = nil
	}
	s.mu.Unlock()

	if r != nil {
		s.logger.Info("stop requested", zap.String("run", r.id), zap.String("mode", string(r.mode)))
	}
}

// Status reports the running flags.
func (s *Supervisor) Status() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return RunState{}
	}
	return RunState{
		ScheduledRunning: s.active.mode == settings.ModeScheduled,
		RandomRunning:    s.active.mode == settings.ModeRandom,
		RunID:            s.active.id,
	}
}

// Shutdown stops the active mode, refuses new starts and waits for every loop
// goroutine to exit or for ctx to be done.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if r := s.active; r != nil {
		r.reason = ReasonShutdown
		r.cancel()
		s.active = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// visit runs one visit unless ctx is already cancelled. The request itself is
// not cut short by a later cancellation. It reports false once the loop should
// exit.
func (s *Supervisor) visit(ctx context.Context, r *run, cfg settings.Effective) bool {
	if ctx.Err() != nil {
		return false
	}
	outcome, ok := s.visitor.Execute(context.WithoutCancel(ctx), cfg)
	if !ok {
		return true
	}
	s.mu.Lock()
	r.visits++
	s.mu.Unlock()
	for _, sink := range s.sinks {
		sink.Publish(outcome)
	}
	return true
}

func (s *Supervisor) float64() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}
