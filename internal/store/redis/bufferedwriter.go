package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"candles-ema/internal/model"
)

// BufferedPublisher guards a publisher with a circuit breaker. While the
// circuit is open, the newest series per key is held back and republished
// once a call succeeds again. Older versions of a held series are dropped.
type BufferedPublisher struct {
	pub model.SeriesPublisher
	cb  *CircuitBreaker

	mu      sync.Mutex
	pending map[string]*model.Series
	order   []string

	// OnBuffer is called when a series is held back (optional, used for metrics).
	OnBuffer func()
	// OnFlush is called with the number of republished series.
	OnFlush func(count int)
}

// NewBufferedPublisher wraps pub with cb.
func NewBufferedPublisher(pub model.SeriesPublisher, cb *CircuitBreaker) *BufferedPublisher {
	return &BufferedPublisher{pub: pub, cb: cb, pending: make(map[string]*model.Series)}
}

// PublishSeries publishes through the breaker. A rejected or failed publish
// is buffered and reported as success; held series are flushed after the
// next successful call.
func (bp *BufferedPublisher) PublishSeries(ctx context.Context, s *model.Series) error {
	err := bp.cb.Execute(func() error { return bp.pub.PublishSeries(ctx, s) })
	if err != nil {
		if !errors.Is(err, ErrCircuitOpen) {
			log.Printf("[redis-buffer] publish %s failed: %v", s.Key(), err)
		}
		bp.hold(s)
		return nil
	}
	bp.Flush(ctx)
	return nil
}

func (bp *BufferedPublisher) hold(s *model.Series) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	key := s.Key()
	if _, ok := bp.pending[key]; !ok {
		bp.order = append(bp.order, key)
	}
	bp.pending[key] = s
	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// Flush republishes held series in first-held order. Series that fail
// again stay held.
func (bp *BufferedPublisher) Flush(ctx context.Context) int {
	bp.mu.Lock()
	if len(bp.order) == 0 {
		bp.mu.Unlock()
		return 0
	}
	order, pending := bp.order, bp.pending
	bp.order, bp.pending = nil, make(map[string]*model.Series)
	bp.mu.Unlock()

	flushed := 0
	for _, key := range order {
		s := pending[key]
		if err := bp.cb.Execute(func() error { return bp.pub.PublishSeries(ctx, s) }); err != nil {
			bp.requeue(s)
			continue
		}
		flushed++
	}

	if flushed > 0 {
		log.Printf("[redis-buffer] flushed %d held series", flushed)
	}
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
	return flushed
}

// requeue holds s again unless a newer version arrived meanwhile.
func (bp *BufferedPublisher) requeue(s *model.Series) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	key := s.Key()
	if _, ok := bp.pending[key]; ok {
		return
	}
	bp.order = append(bp.order, key)
	bp.pending[key] = s
}

// PendingCount returns the number of held series.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.order)
}
