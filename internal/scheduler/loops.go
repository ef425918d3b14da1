package scheduler

import (
	"context"
	"math/rand/v2"
	"slices"
	"time"

	"go.uber.org/zap"

	"url-time/internal/settings"
)

// runScheduled visits once immediately, then once per interval until ctx is
// cancelled. Ticks missed while a visit is in flight are dropped.
func (s *Supervisor) runScheduled(ctx context.Context, r *run, cfg settings.Effective) {
	interval := cfg.Scheduled.Interval()
	if interval <= 0 {
		interval = time.Duration(settings.DefaultIntervalMinutes * float64(time.Minute))
	}
	s.logger.Info("scheduled mode started",
		zap.String("run", r.id),
		zap.Duration("interval", interval),
		zap.Int("urls", len(cfg.URLs)),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	if !s.visit(ctx, r, cfg) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.visit(ctx, r, cfg) {
				return
			}
		}
	}
}

// runRandom spreads TotalVisits visits over the window at sorted random
// offsets. The pause after each visit is not part of the window, so a run can
// last longer than WindowSeconds.
func (s *Supervisor) runRandom(ctx context.Context, r *run, cfg settings.Effective) {
	total := min(cfg.Random.TotalVisits, settings.MaxTotalVisits)
	s.rngMu.Lock()
	offsets := Offsets(total, cfg.Random.Window(), s.rng)
	s.rngMu.Unlock()

	s.logger.Info("random mode started",
		zap.String("run", r.id),
		zap.Int("total_visits", total),
		zap.Duration("window", cfg.Random.Window()),
		zap.Float64("min_delay_seconds", cfg.Realistic.MinDelaySeconds),
		zap.Float64("max_delay_seconds", cfg.Realistic.MaxDelaySeconds),
	)

	start := s.now()
	for i, offset := range offsets {
		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, offset-s.now().Sub(start)) {
			return
		}
		if !s.visit(ctx, r, cfg) {
			return
		}
		s.logger.Info("random mode progress", zap.String("run", r.id), zap.Int("completed", i+1), zap.Int("total", total))
		if !sleepCtx(ctx, s.delay(cfg.Realistic)) {
			return
		}
	}
}

// Offsets returns n offsets drawn uniformly from [0, window), sorted
// ascending. A non-positive window puts every offset at zero. n is clamped to
// settings.MaxTotalVisits.
func Offsets(n int, window time.Duration, rng *rand.Rand) []time.Duration {
	if n <= 0 {
		return []time.Duration{}
	}
	n = min(n, settings.MaxTotalVisits)
	offsets := make([]time.Duration, n)
	if window <= 0 {
		return offsets
	}
	for i := range offsets {
		offsets[i] = time.Duration(rng.Float64() * float64(window))
	}
	slices.Sort(offsets)
	return offsets
}

// delay draws the post-visit pause from [min, max]. The bounds are not
// checked against each other.
func (s *Supervisor) delay(p settings.RealisticParams) time.Duration {
	seconds := p.MinDelaySeconds + s.float64()*(p.MaxDelaySeconds-p.MinDelaySeconds)
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// sleepCtx waits for d or until ctx is done, and reports whether the loop may
// continue.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

