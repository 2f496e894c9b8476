package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"devicebridge"
	"devicebridge/internal/device"
	"devicebridge/internal/logger"
	"devicebridge/internal/metrics"
	"devicebridge/internal/scenario"
	"devicebridge/internal/sink"

	"github.com/google/uuid"
)

// ErrNoDevices means the configuration produced nothing to schedule; the
// run never starts.
var ErrNoDevices = errors.New("no devices to schedule")

// Scheduler owns the run lifecycle: it ticks every device simulator on its
// own jittered cadence, feeds the dispatcher, and is the single unit of
// cancellation for the whole run.
type Scheduler struct {
	log        *logger.Logger
	mets       *metrics.Metrics
	dispatcher *sink.Dispatcher
	scenarios  *scenario.Engine
	drainGrace time.Duration

	escalateTo    string
	escalateAfter time.Duration

	mu      sync.Mutex
	devices []*device.Simulator
	runID   string
	started time.Time
	total   atomic.Int64
	faults  map[string]int64
}

func New(dispatcher *sink.Dispatcher, scenarios *scenario.Engine, log *logger.Logger, mets *metrics.Metrics, drainGrace time.Duration) *Scheduler {
	if drainGrace <= 0 {
		drainGrace = 5 * time.Second
	}
	return &Scheduler{
		log:        log,
		mets:       mets,
		dispatcher: dispatcher,
		scenarios:  scenarios,
		drainGrace: drainGrace,
		faults:     make(map[string]int64),
	}
}

// EscalateAfter switches the active scenario partway through the run, e.g.
// normal_operation escalating to emergency.
func (s *Scheduler) EscalateAfter(name string, after time.Duration) {
	s.escalateTo = name
	s.escalateAfter = after
}

// Run blocks until duration elapses or ctx is cancelled, then drains the
// sinks and returns the summary. A tick error from one device is counted
// and logged; the device stays scheduled and no other device is affected.
func (s *Scheduler) Run(ctx context.Context, devices []*device.Simulator, duration time.Duration) (*devicebridge.RunSummary, error) {
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	s.mu.Lock()
	s.devices = devices
	s.runID = uuid.NewString()
	s.started = time.Now().UTC()
	s.mu.Unlock()

	s.log.Infow("run starting",
		"run_id", s.runID,
		"devices", len(devices),
		"duration", duration,
		"scenario", s.scenarios.Current().Name,
	)

	if s.escalateTo != "" {
		go s.escalate(runCtx)
	}

	var wg sync.WaitGroup
	for _, dev := range devices {
		wg.Add(1)
		go func(dev *device.Simulator) {
			defer wg.Done()
			s.runDevice(runCtx, dev)
		}(dev)
	}
	wg.Wait()

	sinkStats, clean := s.dispatcher.Drain(s.drainGrace)

	summary := s.buildSummary(sinkStats, clean)
	s.log.Infow("run finished",
		"run_id", summary.RunID,
		"readings", summary.TotalReadings,
		"rate_per_sec", summary.Rate(),
		"drained_clean", summary.DrainedClean,
	)
	return summary, nil
}

// runDevice is the per-device loop: wait a freshly jittered interval, tick,
// dispatch, repeat. Intervals are re-drawn after every tick so devices never
// fall into lockstep.
func (s *Scheduler) runDevice(ctx context.Context, dev *device.Simulator) {
	spec := dev.Spec()
	timer := time.NewTimer(dev.NextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		reading, err := dev.Tick(time.Now().UTC())
		if err != nil {
			s.recordFault(spec.ID)
			s.mets.DeviceFaults.WithLabelValues(spec.ID).Inc()
			s.log.Warnw("device tick fault", "device", spec.ID, "err", err)
		} else {
			s.dispatcher.Dispatch(reading)
			s.total.Add(1)
			s.mets.ReadingsProduced.WithLabelValues(spec.Kind).Inc()
		}

		timer.Reset(dev.NextInterval())
	}
}

func (s *Scheduler) escalate(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.escalateAfter):
	}
	if err := s.scenarios.Switch(s.escalateTo); err != nil {
		s.log.Errorw("scenario escalation failed", "to", s.escalateTo, "err", err)
		return
	}
	s.log.Infow("scenario escalated", "to", s.escalateTo, "after", s.escalateAfter)
}

func (s *Scheduler) recordFault(deviceID string) {
	s.mu.Lock()
	s.faults[deviceID]++
	s.mu.Unlock()
}

func (s *Scheduler) buildSummary(sinkStats map[string]devicebridge.SinkStats, clean bool) *devicebridge.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &devicebridge.RunSummary{
		RunID:          s.runID,
		Scenario:       s.scenarios.Current().Name,
		StartedAt:      s.started,
		EndedAt:        time.Now().UTC(),
		TotalReadings:  s.total.Load(),
		TicksByDevice:  make(map[string]int64, len(s.devices)),
		ReadingsByKind: make(map[string]int64),
		Sinks:          sinkStats,
		DrainedClean:   clean,
	}
	for _, dev := range s.devices {
		spec := dev.Spec()
		summary.TicksByDevice[spec.ID] = dev.Ticks()
		summary.ReadingsByKind[spec.Kind] += dev.Ticks()
	}
	if len(s.faults) > 0 {
		summary.DeviceFaults = make(map[string]int64, len(s.faults))
		for id, n := range s.faults {
			summary.DeviceFaults[id] = n
		}
	}
	return summary
}

// Snapshot reports live progress for the web summary endpoint. Valid while
// a run is in flight; sink tallies are only known after drain.
func (s *Scheduler) Snapshot() devicebridge.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := devicebridge.RunSummary{
		RunID:          s.runID,
		Scenario:       s.scenarios.Current().Name,
		StartedAt:      s.started,
		TotalReadings:  s.total.Load(),
		TicksByDevice:  make(map[string]int64, len(s.devices)),
		ReadingsByKind: make(map[string]int64),
	}
	for _, dev := range s.devices {
		spec := dev.Spec()
		snap.TicksByDevice[spec.ID] = dev.Ticks()
		snap.ReadingsByKind[spec.Kind] += dev.Ticks()
	}
	return snap
}
