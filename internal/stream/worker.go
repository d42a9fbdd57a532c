package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/banshee-data/speedwatch/internal/sink"
	"github.com/banshee-data/speedwatch/internal/speed"
	"github.com/banshee-data/speedwatch/internal/state"
	"github.com/banshee-data/speedwatch/internal/timeutil"
)

// DefaultReadBackoff is the pause after a failed read.
const DefaultReadBackoff = 500 * time.Millisecond

// Stats counts what a Worker has done.
type Stats struct {
	Processed    int64 `json:"processed"`
	Violations   int64 `json:"violations"`
	DeadLettered int64 `json:"dead_lettered"`
	ReadErrors   int64 `json:"read_errors"`
	Pruned       int64 `json:"pruned"`
}

// Worker consumes frames from a Source.
type Worker struct {
	Source Source
	Engine *speed.Engine
	Sink   sink.Sink
	Clock  timeutil.Clock

	// Pruner, when set, is invoked every PruneInterval.
	Pruner        state.Pruner
	PruneInterval time.Duration
	ReadBackoff   time.Duration

	processed    atomic.Int64
	violations   atomic.Int64
	deadLettered atomic.Int64
	readErrors   atomic.Int64
	pruned       atomic.Int64
}

// Run reads and processes frames until ctx is cancelled, the source is
// exhausted or it fails with ErrSourceFailed, which Run returns. Cancellation
// is observed between frames only: a frame that has started is processed,
// published and acknowledged in full.
func (w *Worker) Run(ctx context.Context) error {
	clock := w.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	backoff := w.ReadBackoff
	if backoff <= 0 {
		backoff = DefaultReadBackoff
	}

	var pruneC <-chan time.Time
	if w.Pruner != nil && w.PruneInterval > 0 {
		t := clock.NewTicker(w.PruneInterval)
		defer t.Stop()
		pruneC = t.C()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pruneC:
			w.prune(ctx)
		default:
		}

		msgs, err := w.Source.Read(ctx)
		for _, m := range msgs {
			if ctx.Err() != nil {
				return nil
			}
			w.Handle(context.WithoutCancel(ctx), m)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			logf("source exhausted after %d frames", w.processed.Load())
			return nil
		case errors.Is(err, ErrSourceFailed):
			return err
		case ctx.Err() != nil:
			return nil
		default:
			w.readErrors.Add(1)
			logf("read failed: %v", err)
			clock.Sleep(backoff)
		}
	}
}

// Handle processes one message. Frames that fail validation or processing,
// and violations that cannot be published, are routed to the dead-letter
// destination; the message is acknowledged either way. Violations built
// before a mid-frame store failure are still published.
func (w *Worker) Handle(ctx context.Context, m Message) {
	w.processed.Add(1)

	res := w.Engine.ProcessRaw(ctx, m.Payload)
	failure := res.Err
	for _, ev := range res.Violations {
		if err := w.Sink.Publish(ctx, ev); err != nil {
			failure = errors.Join(failure, fmt.Errorf("publish %s: %w", ev.LogicEventID, err))
			break
		}
		w.violations.Add(1)
	}

	if failure != nil {
		w.deadLettered.Add(1)
		logf("message %s: %s: %v", m.ID, res.Outcome, failure)
		if err := w.Source.DeadLetter(ctx, m, failure); err != nil {
			logf("dead letter for %s failed: %v", m.ID, err)
		}
	}
	if err := w.Source.Ack(ctx, m.ID); err != nil {
		logf("ack %s failed: %v", m.ID, err)
	}
}

func (w *Worker) prune(ctx context.Context) {
	n, err := w.Pruner.Prune(ctx)
	if err != nil {
		logf("prune failed: %v", err)
		return
	}
	w.pruned.Add(n)
	if n > 0 {
		logf("pruned %d expired state entries", n)
	}
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Processed:    w.processed.Load(),
		Violations:   w.violations.Load(),
		DeadLettered: w.deadLettered.Load(),
		ReadErrors:   w.readErrors.Load(),
		Pruned:       w.pruned.Load(),
	}
}
