package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"devicebridge"
	"devicebridge/internal/logger"
	"devicebridge/internal/metrics"
)

// memorySink records every reading it is handed.
type memorySink struct {
	name string
	mu   sync.Mutex
	got  []devicebridge.Reading

	flushed bool
	closed  bool
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(_ context.Context, r devicebridge.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, r)
	return nil
}

func (s *memorySink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = true
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

// stuckSink blocks inside Write until released.
type stuckSink struct {
	release chan struct{}
}

func (s *stuckSink) Name() string { return "stuck" }

func (s *stuckSink) Write(context.Context, devicebridge.Reading) error {
	<-s.release
	return nil
}

func (s *stuckSink) Flush(context.Context) error { return nil }
func (s *stuckSink) Close() error                { return nil }

// faultySink fails every write.
type faultySink struct{}

func (faultySink) Name() string { return "faulty" }
func (faultySink) Write(context.Context, devicebridge.Reading) error {
	return errors.New("disk on fire")
}
func (faultySink) Flush(context.Context) error { return nil }
func (faultySink) Close() error                { return nil }

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(logger.Get(logger.ErrorLevel), metrics.New())
}

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	d := newTestDispatcher()
	a := &memorySink{name: "a"}
	b := &memorySink{name: "b"}
	d.Register(a, 16)
	d.Register(b, 16)
	d.Start()

	for i := 0; i < 10; i++ {
		d.Dispatch(queuedReading(i))
	}
	stats, clean := d.Drain(2 * time.Second)

	if !clean {
		t.Fatalf("drain not clean: %+v", stats)
	}
	for _, s := range []*memorySink{a, b} {
		if s.count() != 10 {
			t.Fatalf("sink %s got %d readings, want 10", s.name, s.count())
		}
		if !s.flushed || !s.closed {
			t.Fatalf("sink %s not flushed/closed on drain", s.name)
		}
	}
	if stats["a"].Delivered != 10 || stats["a"].Dropped != 0 {
		t.Fatalf("stats[a] = %+v", stats["a"])
	}

	// Order within one sink matches dispatch order.
	if a.got[0].DeviceID != "infusion_pump_000" || a.got[9].DeviceID != "infusion_pump_009" {
		t.Fatalf("delivery order broken: %v ... %v", a.got[0].DeviceID, a.got[9].DeviceID)
	}
}

func TestDispatcher_StuckSinkNeverBlocksDispatch(t *testing.T) {
	d := newTestDispatcher()
	stuck := &stuckSink{release: make(chan struct{})}
	healthy := &memorySink{name: "healthy"}
	const queueSize = 8
	d.Register(stuck, queueSize)
	d.Register(healthy, 256)
	d.Start()

	// Push well past the stuck sink's queue bound. Every Dispatch must
	// return promptly even though one worker is wedged in Write.
	const produced = 100
	done := make(chan struct{})
	go func() {
		for i := 0; i < produced; i++ {
			d.Dispatch(queuedReading(i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Dispatch blocked on a stuck sink")
	}

	waitFor(t, func() bool { return healthy.count() == produced })

	stats, clean := d.Drain(100 * time.Millisecond)
	if clean {
		t.Fatalf("drain reported clean with a wedged worker")
	}
	if stats["stuck"].Dropped == 0 {
		t.Fatalf("overflow on the stuck sink not counted: %+v", stats["stuck"])
	}
	if stats["healthy"].Delivered != produced {
		t.Fatalf("healthy sink stats = %+v", stats["healthy"])
	}
	close(stuck.release)
}

func TestDispatcher_FailingSinkIsolated(t *testing.T) {
	d := newTestDispatcher()
	healthy := &memorySink{name: "healthy"}
	d.Register(faultySink{}, 16)
	d.Register(healthy, 16)
	d.Start()

	for i := 0; i < 5; i++ {
		d.Dispatch(queuedReading(i))
	}
	stats, clean := d.Drain(2 * time.Second)

	if !clean {
		t.Fatalf("drain not clean: %+v", stats)
	}
	if stats["faulty"].Failures != 5 || stats["faulty"].Delivered != 0 {
		t.Fatalf("stats[faulty] = %+v", stats["faulty"])
	}
	if stats["healthy"].Delivered != 5 {
		t.Fatalf("healthy sink affected by faulty one: %+v", stats["healthy"])
	}
}

func TestDispatcher_DrainReportsUncommittedDatabaseBatch(t *testing.T) {
	d := newTestDispatcher()
	repo := &stubReadingRepo{err: errors.New("database is locked")}
	d.Register(NewDatabaseSink(repo, 50), 256)
	d.Start()

	// Five readings buffer below the batch size; the drain flush fails, so
	// the summary must report them as dropped rather than delivered.
	for i := 0; i < 5; i++ {
		d.Dispatch(queuedReading(i))
	}
	stats, _ := d.Drain(2 * time.Second)

	st := stats["database"]
	if st.Dropped != 5 {
		t.Fatalf("dropped = %d, want 5 lost on drain", st.Dropped)
	}
	if st.Delivered != 0 {
		t.Fatalf("delivered = %d, nothing was committed", st.Delivered)
	}
	if st.Failures == 0 {
		t.Fatalf("drain flush failure not recorded: %+v", st)
	}
}

// stuckReporterSink wedges in Write and would report a sentinel tally if the
// dispatcher consulted Stats while its worker is still running.
type stuckReporterSink struct {
	stuckSink
}

func (s *stuckReporterSink) Stats() devicebridge.SinkStats {
	return devicebridge.SinkStats{Dropped: 999}
}

func TestDrain_SkipsStatsOfWedgedWorker(t *testing.T) {
	d := newTestDispatcher()
	stuck := &stuckReporterSink{stuckSink{release: make(chan struct{})}}
	d.Register(stuck, 8)
	d.Start()

	for i := 0; i < 20; i++ {
		d.Dispatch(queuedReading(i))
	}
	stats, clean := d.Drain(50 * time.Millisecond)

	if clean {
		t.Fatalf("drain reported clean with a wedged worker")
	}
	// Only queue-side accounting may appear; the sink's own tallies are
	// unreadable until its worker exits.
	if stats["stuck"].Dropped > 20 {
		t.Fatalf("stats include the wedged sink's own tally: %+v", stats["stuck"])
	}
	close(stuck.release)
}

func TestDispatcher_TapSeesEveryReading(t *testing.T) {
	d := newTestDispatcher()
	d.Register(&memorySink{name: "a"}, 16)

	var mu sync.Mutex
	var tapped []string
	d.Tap(func(r devicebridge.Reading) {
		mu.Lock()
		tapped = append(tapped, r.DeviceID)
		mu.Unlock()
	})
	d.Start()

	for i := 0; i < 3; i++ {
		d.Dispatch(queuedReading(i))
	}
	d.Drain(time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(tapped) != 3 || tapped[0] != "infusion_pump_000" {
		t.Fatalf("tap missed readings: %v", tapped)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}
