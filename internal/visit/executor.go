package visit

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"url-time/internal/settings"
)

const (
	requestTimeout = 10 * time.Second
	maxDrainBytes  = 16 << 20
)

// browserHeaders are sent with every visit alongside a random User-Agent.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "zh-CN,zh;q=0.9,en;q=0.8",
	"Accept-Encoding":           "gzip, deflate, br",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
}

// Executor performs single keep-alive visits and maintains the access counters.
type Executor struct {
	client   *http.Client
	counters *Counters
	logger   *zap.Logger
	now      func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option customises an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the default client. The per-request timeout is
// still applied through the request context.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) { e.client = client }
}

// WithRand sets the source used to pick URLs and user agents.
func WithRand(rng *rand.Rand) Option {
	return func(e *Executor) { e.rng = rng }
}

// NewExecutor creates an executor that records visits in counters.
func NewExecutor(counters *Counters, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		client:   &http.Client{Timeout: requestTimeout},
		counters: counters,
		logger:   logger,
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute visits one URL chosen at random from cfg.URLs. The second return
// value is false when there is nothing to visit; in that case no counter is
// touched and no outcome exists.
func (e *Executor) Execute(ctx context.Context, cfg settings.Effective) (Outcome, bool) {
	if len(cfg.URLs) == 0 {
		return Outcome{}, false
	}
	url := cfg.URLs[e.intn(len(cfg.URLs))]
	userAgent := ""
	if len(cfg.Realistic.UserAgents) > 0 {
		userAgent = cfg.Realistic.UserAgents[e.intn(len(cfg.Realistic.UserAgents))]
	}

	started := e.now()
	status, err := e.fetch(ctx, url, userAgent)
	elapsed := e.now().Sub(started).Seconds()

	outcome := Outcome{
		URL:         url,
		AccessCount: e.counters.Increment(url),
		Mode:        cfg.Mode,
		Timestamp:   started.UTC(),
	}
	switch {
	case err != nil:
		outcome.Level = LevelError
		outcome.Message = fmt.Sprintf("[%s] request failed — %v", url, err)
	case status >= 200 && status < 300:
		outcome.Level = LevelInfo
		outcome.Status = status
		outcome.Elapsed = &elapsed
		outcome.Message = fmt.Sprintf("[%s] OK — status %d, time %.3fs", url, status, elapsed)
	default:
		outcome.Level = LevelWarning
		outcome.Status = status
		outcome.Elapsed = &elapsed
		outcome.Message = fmt.Sprintf("[%s] non-2xx response — status %d, time %.3fs", url, status, elapsed)
	}
	e.log(outcome)
	return outcome, true
}

func (e *Executor) fetch(ctx context.Context, url, userAgent string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	for key, value := range browserHeaders {
		req.Header.Set(key, value)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes)); err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, nil
}

func (e *Executor) log(outcome Outcome) {
	fields := []zap.Field{
		zap.String("url", outcome.URL),
		zap.Int("access_count", outcome.AccessCount),
		zap.String("mode", string(outcome.Mode)),
	}
	if outcome.Status != 0 {
		fields = append(fields, zap.Int("status", outcome.Status))
	}
	if outcome.Elapsed != nil {
		fields = append(fields, zap.Float64("elapsed", *outcome.Elapsed))
	}
	switch outcome.Level {
	case LevelInfo:
		e.logger.Info(outcome.Message, fields...)
	case LevelWarning:
		e.logger.Warn(outcome.Message, fields...)
	default:
		e.logger.Error(outcome.Message, fields...)
	}
}

func (e *Executor) intn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.IntN(n)
}
