package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"devicebridge"
	"devicebridge/internal/logger"
	"devicebridge/internal/metrics"
)

const workerBatch = 32

// Dispatcher fans every reading out to all registered sinks. Each sink gets
// its own bounded drop-oldest queue and worker goroutine, so one slow or
// failing sink can never stall the producers or another sink.
type Dispatcher struct {
	log  *logger.Logger
	mets *metrics.Metrics

	workers []*sinkWorker
	taps    []func(devicebridge.Reading)
	wg      sync.WaitGroup
	grace   atomic.Int64 // drain flush budget, nanoseconds
}

type sinkWorker struct {
	sink      Sink
	queue     *readingQueue
	delivered atomic.Int64
	failures  atomic.Int64
	done      atomic.Bool
}

func NewDispatcher(log *logger.Logger, mets *metrics.Metrics) *Dispatcher {
	return &Dispatcher{log: log, mets: mets}
}

// Register adds a sink with its own queue bound. Must be called before Start.
func (d *Dispatcher) Register(s Sink, queueSize int) {
	if queueSize <= 0 {
		queueSize = 256
	}
	d.workers = append(d.workers, &sinkWorker{
		sink:  s,
		queue: newReadingQueue(queueSize),
	})
}

// Tap adds a non-blocking observer invoked inline for every dispatched
// reading (used by the live websocket feed). Taps must not block.
func (d *Dispatcher) Tap(fn func(devicebridge.Reading)) {
	d.taps = append(d.taps, fn)
}

// Sinks lists the registered sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.workers))
	for _, w := range d.workers {
		names = append(names, w.sink.Name())
	}
	return names
}

// Start launches one worker goroutine per registered sink.
func (d *Dispatcher) Start() {
	for _, w := range d.workers {
		d.wg.Add(1)
		go d.runWorker(w)
	}
}

// Dispatch hands one reading to every sink queue. Never blocks: a full
// queue drops its oldest entry and the drop is counted.
func (d *Dispatcher) Dispatch(r devicebridge.Reading) {
	for _, tap := range d.taps {
		tap(r)
	}
	for _, w := range d.workers {
		if w.queue.push(r) {
			d.mets.SinkDropped.WithLabelValues(w.sink.Name()).Inc()
		}
	}
}

func (d *Dispatcher) runWorker(w *sinkWorker) {
	defer d.wg.Done()
	defer w.done.Store(true)
	name := w.sink.Name()
	ctx := context.Background()

	for {
		batch := w.queue.popBatch(workerBatch)
		if len(batch) == 0 {
			if w.queue.isClosed() {
				break
			}
			<-w.queue.signal
			continue
		}
		for _, r := range batch {
			if err := w.sink.Write(ctx, r); err != nil {
				w.failures.Add(1)
				d.mets.SinkFailures.WithLabelValues(name).Inc()
				d.log.Warnw("sink write failed", "sink", name, "device", r.DeviceID, "err", err)
				continue
			}
			w.delivered.Add(1)
			d.mets.SinkDelivered.WithLabelValues(name).Inc()
		}
		d.mets.QueueLength.WithLabelValues(name).Set(float64(w.queue.len()))
	}

	// Queue closed and drained: flush buffered batches within the grace
	// budget, then release the sink.
	grace := time.Duration(d.grace.Load())
	if grace <= 0 {
		grace = 5 * time.Second
	}
	fctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := w.sink.Flush(fctx); err != nil {
		w.failures.Add(1)
		d.mets.SinkFailures.WithLabelValues(name).Inc()
		d.log.Warnw("sink flush on drain failed", "sink", name, "err", err)
	}
	if err := w.sink.Close(); err != nil {
		d.log.Warnw("sink close failed", "sink", name, "err", err)
	}
}

// Drain stops intake, lets workers finish queued readings and flush, and
// collects the final per-sink tallies. Workers that miss the grace period
// have their leftover queue reported as dropped; Drain itself always
// returns within roughly the grace period.
func (d *Dispatcher) Drain(grace time.Duration) (map[string]devicebridge.SinkStats, bool) {
	d.grace.Store(int64(grace))
	for _, w := range d.workers {
		w.queue.close()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	clean := true
	select {
	case <-done:
	case <-time.After(grace + time.Second):
		clean = false
		d.log.Warnw("sink drain exceeded grace period", "grace", grace)
	}

	stats := make(map[string]devicebridge.SinkStats, len(d.workers))
	for _, w := range d.workers {
		name := w.sink.Name()
		st := devicebridge.SinkStats{
			Delivered: w.delivered.Load(),
			Dropped:   w.queue.dropped(),
			Failures:  w.failures.Load(),
		}
		if rem := w.queue.len(); rem > 0 {
			st.Dropped += int64(rem)
			clean = false
		}
		// Consult a sink's own tallies only once its worker has exited;
		// a worker that missed the grace period may still be writing them.
		if sr, ok := w.sink.(StatsReporter); ok && w.done.Load() {
			own := sr.Stats()
			// Buffering sinks count Delivered themselves: a Write that
			// merely buffered is not a delivery.
			st.Delivered = own.Delivered
			st.Retries += own.Retries
			st.Dropped += own.Dropped
			st.Failures += own.Failures
			d.mets.SinkRetries.WithLabelValues(name).Add(float64(own.Retries))
			d.mets.SinkDropped.WithLabelValues(name).Add(float64(own.Dropped))
		}
		stats[name] = st
	}
	return stats, clean
}
