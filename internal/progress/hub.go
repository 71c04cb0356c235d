package progress

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub. An audit emits a handful
// of events per job every few seconds, so the defaults favor small, prompt
// batches over throughput.
//   - BufferSize: size of the internal channel (default 256).
//   - MaxBatchEvents: flush once this many events queue (default 32).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	DefaultBufferSize     = 256
	DefaultMaxBatchEvents = 32
	DefaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub fans job events out to registered sinks in batches. Emit never blocks,
// so the scheduler can emit while holding its registry lock. Terminal job
// events (completed, failed, worker-finished) flush the pending batch at once.
type Hub struct {
	cfg      Config
	sinks    []Sink
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
	dropWarn rate.Sometimes
	closed   atomic.Bool

	dropMu  sync.Mutex
	drops   map[Type]int64
	pending int64

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine over sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = DefaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = DefaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		events:   make(chan Event, cfg.BufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
		dropWarn: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues evt. When the buffer is full the event is dropped, counted
// under its type and reported in a rate-limited warning.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.recordDrop(evt)
	}
}

func (h *Hub) recordDrop(evt Event) {
	h.dropMu.Lock()
	if h.drops == nil {
		h.drops = make(map[Type]int64)
	}
	h.drops[evt.Type]++
	h.pending++
	h.dropMu.Unlock()

	h.dropWarn.Do(func() {
		h.dropMu.Lock()
		count := h.pending
		h.pending = 0
		h.dropMu.Unlock()
		h.logger.Warn("progress events dropped due to backpressure",
			zap.Int64("dropped", count),
			zap.String("type", string(evt.Type)),
			zap.String("job_id", evt.JobID),
		)
	})
}

// Dropped returns how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	h.dropMu.Lock()
	defer h.dropMu.Unlock()
	var n int64
	for _, c := range h.drops {
		n += c
	}
	return n
}

// DroppedByType breaks Dropped down by event type.
func (h *Hub) DroppedByType() map[Type]int64 {
	if h == nil {
		return nil
	}
	h.dropMu.Lock()
	defer h.dropMu.Unlock()
	return maps.Clone(h.drops)
}

// Close drains remaining events, flushes and closes the sinks, then waits for
// the batching goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// terminal reports whether evt ends a job or a worker slot.
func terminal(evt Event) bool {
	switch evt.Type {
	case TypeJobCompleted, TypeJobFailed, TypeWorkerFinished:
		return true
	default:
		return false
	}
}

// batcher owns the pending batch and its flush deadline.
type batcher struct {
	hub   *Hub
	batch []Event
	timer *time.Timer
	armed bool
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := &batcher{
		hub:   h,
		batch: make([]Event, 0, h.cfg.MaxBatchEvents),
		timer: time.NewTimer(h.cfg.MaxBatchWait),
	}
	b.disarm()
	for {
		select {
		case evt := <-h.events:
			b.add(evt)
		case <-b.timer.C:
			b.armed = false
			b.flush()
		case <-h.stopCh:
			b.drain()
			h.closeSinks()
			return
		}
	}
}

func (b *batcher) add(evt Event) {
	b.batch = append(b.batch, evt)
	if terminal(evt) || len(b.batch) >= b.hub.cfg.MaxBatchEvents {
		b.flush()
		b.disarm()
		return
	}
	if !b.armed {
		b.timer.Reset(b.hub.cfg.MaxBatchWait)
		b.armed = true
	}
}

// drain flushes everything still buffered in the channel.
func (b *batcher) drain() {
	b.disarm()
	for {
		select {
		case evt := <-b.hub.events:
			b.batch = append(b.batch, evt)
			if len(b.batch) >= b.hub.cfg.MaxBatchEvents {
				b.flush()
			}
		default:
			b.flush()
			return
		}
	}
}

func (b *batcher) disarm() {
	if !b.timer.Stop() && b.armed {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}

func (b *batcher) flush() {
	if len(b.batch) == 0 {
		return
	}
	b.hub.deliver(append([]Event(nil), b.batch...))
	b.batch = b.batch[:0]
}

func (h *Hub) deliver(batch []Event) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("batch", len(batch)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}
