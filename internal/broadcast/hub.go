// Package broadcast fans visit outcomes out to connected observers.
//
// A single dispatcher goroutine (Hub.Run) owns the observer set. Visit loops
// hand events to it through a bounded channel; registration and removal are
// hand-offs through channels as well, so the set is never touched from any
// other goroutine.
package broadcast

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"url-time/internal/visit"
)

const (
	defaultSendTimeout = time.Second
	publishWait        = time.Second
	eventBuffer        = 64
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrHubClosed is returned when the dispatcher is not running.
var ErrHubClosed = errors.New("broadcast hub is not running")

// Observer is one connected event consumer.
type Observer interface {
	ID() string
	// Send delivers payload, honouring the context deadline.
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Hub is the dispatcher that owns the observer set.
type Hub struct {
	logger      *zap.Logger
	sendTimeout time.Duration

	events     chan []byte
	register   chan Observer
	unregister chan string

	running   atomic.Bool
	observers atomic.Int64
	done      chan struct{}
}

// NewHub creates a hub. It does nothing until Run is called.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:      logger,
		sendTimeout: defaultSendTimeout,
		events:      make(chan []byte, eventBuffer),
		register:    make(chan Observer),
		unregister:  make(chan string),
		done:        make(chan struct{}),
	}
}

// Observers reports how many observers are currently registered.
func (h *Hub) Observers() int {
	return int(h.observers.Load())
}

// Run dispatches events until ctx is cancelled, then closes every observer.
// It must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	observers := make(map[string]Observer)
	h.running.Store(true)
	h.logger.Info("broadcast hub started")
	defer func() {
		h.running.Store(false)
		close(h.done)
		for id, o := range observers {
			closeQuietly(o)
			delete(observers, id)
		}
		h.observers.Store(0)
		h.logger.Info("broadcast hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case o := <-h.register:
			observers[o.ID()] = o
			h.observers.Store(int64(len(observers)))
			h.logger.Info("observer connected", zap.String("observer", o.ID()), zap.Int("observers", len(observers)))
		case id := <-h.unregister:
			if o, ok := observers[id]; ok {
				delete(observers, id)
				h.observers.Store(int64(len(observers)))
				closeQuietly(o)
				h.logger.Info("observer disconnected", zap.String("observer", id), zap.Int("observers", len(observers)))
			}
		case payload := <-h.events:
			h.deliver(ctx, observers, payload)
		}
	}
}

// deliver sends payload to every observer concurrently, each bounded by the
// send timeout. Observers that fail are removed once the whole pass is done.
func (h *Hub) deliver(ctx context.Context, observers map[string]Observer, payload []byte) {
	if len(observers) == 0 {
		return
	}
	targets := make([]Observer, 0, len(observers))
	for _, o := range observers {
		targets = append(targets, o)
	}
	failures := make([]error, len(targets))

	var g errgroup.Group
	for i, o := range targets {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
			defer cancel()
			failures[i] = o.Send(sendCtx, payload)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range failures {
		if err == nil {
			continue
		}
		o := targets[i]
		h.logger.Warn("observer delivery failed, removing", zap.String("observer", o.ID()), zap.Error(err))
		delete(observers, o.ID())
		closeQuietly(o)
	}
	h.observers.Store(int64(len(observers)))
}

// Publish hands outcome to the dispatcher. It is a no-op when the hub is not
// running or nobody is listening, and gives up after a bounded wait when the
// event queue is full.
func (h *Hub) Publish(outcome visit.Outcome) {
	if !h.running.Load() || h.observers.Load() == 0 {
		return
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		h.logger.Error("encode outcome", zap.Error(err))
		return
	}
	timer := time.NewTimer(publishWait)
	defer timer.Stop()
	select {
	case h.events <- payload:
	case <-h.done:
	case <-timer.C:
		h.logger.Warn("broadcast queue full, dropping event", zap.String("url", outcome.URL))
	}
}

// Register adds o to the observer set.
func (h *Hub) Register(ctx context.Context, o Observer) error {
	if !h.running.Load() {
		return ErrHubClosed
	}
	select {
	case h.register <- o:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes and closes the observer with the given id, if present.
func (h *Hub) Unregister(id string) {
	select {
	case h.unregister <- id:
	case <-h.done:
	}
}

// closeQuietly closes o and ignores the error; the peer may already be gone.
func closeQuietly(o Observer) {
	_ = o.Close()
}
