package observation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vogelwacht/telling/internal/observe"
	"github.com/vogelwacht/telling/internal/resilience"
	"github.com/vogelwacht/telling/pkg/uplink"
)

// Worker defaults.
const (
	DefaultUploadInterval = 30 * time.Second
	DefaultBatchSize      = 50
)

// WorkerOption is a functional option for configuring a [Worker].
type WorkerOption func(*Worker)

// WithInterval sets the drain interval. Default: 30s.
func WithInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithBatchSize sets the maximum observations per upload batch. Default: 50.
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batch = n
		}
	}
}

// WithMetrics overrides the metrics instance recording uploads and breaker
// transitions. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) WorkerOption {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// Worker periodically drains pending observations to the counting server.
// A failed batch stays pending and is retried on the next tick; the uplink
// contract requires server-side idempotency, so re-pushing after an
// ambiguous failure is safe. A circuit breaker around the push keeps a dead
// uplink from being hammered every tick.
type Worker struct {
	buf      *Buffer
	client   uplink.Client
	breaker  *resilience.Breaker
	metrics  *observe.Metrics
	interval time.Duration
	batch    int
}

// NewWorker creates a Worker draining buf through client.
func NewWorker(buf *Buffer, client uplink.Client, opts ...WorkerOption) *Worker {
	w := &Worker{
		buf:      buf,
		client:   client,
		metrics:  observe.DefaultMetrics(),
		interval: DefaultUploadInterval,
		batch:    DefaultBatchSize,
	}
	for _, o := range opts {
		o(w)
	}
	w.breaker = resilience.NewBreaker(resilience.Config{
		Name: "uplink",
		OnStateChange: func(from, to resilience.State) {
			w.metrics.RecordBreakerTransition(context.Background(), "uplink", to.String())
		},
	})
	return w
}

// Run drains the buffer until ctx is cancelled. It always returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := w.DrainOnce(ctx)
			switch {
			case err == nil || ctx.Err() != nil:
			case errors.Is(err, resilience.ErrCircuitOpen):
				slog.Debug("observation: uplink circuit open, skipping tick")
			default:
				slog.Warn("observation: upload attempt failed, will retry", "err", err)
			}
		}
	}
}

// DrainOnce uploads pending observations batch by batch until the buffer is
// empty or a batch fails.
func (w *Worker) DrainOnce(ctx context.Context) error {
	for {
		pending, err := w.buf.Pending(ctx, w.batch)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		counts := make([]uplink.Count, len(pending))
		ids := make([]int64, len(pending))
		for i, obs := range pending {
			counts[i] = uplink.Count{
				SpeciesID:  obs.SpeciesID,
				Amount:     obs.Amount,
				Heard:      obs.Heard,
				RecordedAt: obs.CreatedAt,
			}
			ids[i] = obs.ID
		}

		if err := w.breaker.Execute(func() error {
			return w.client.Push(ctx, counts)
		}); err != nil {
			if !errors.Is(err, resilience.ErrCircuitOpen) {
				w.metrics.RecordUpload(ctx, int64(len(counts)), "error")
			}
			return err
		}
		if err := w.buf.MarkUploaded(ctx, ids); err != nil {
			return err
		}
		w.metrics.RecordUpload(ctx, int64(len(ids)), "ok")
		w.metrics.PendingObservations.Add(ctx, -int64(len(ids)))
		slog.Debug("observation: batch uploaded", "count", len(ids))
	}
}
