package device

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"devicebridge"
	"devicebridge/internal/scenario"

	"github.com/google/uuid"
)

// State is the mutable side of a simulated device, owned exclusively by its
// Simulator. Once Failed is set the device emits failure-flagged degraded
// readings for the rest of the run; there is no auto-recovery.
type State struct {
	Alarming bool
	Failed   bool
	LastTick time.Time
}

// Simulator produces one Reading per tick for a single device. Not safe for
// concurrent use; the scheduler calls Tick from exactly one goroutine.
type Simulator struct {
	spec      devicebridge.DeviceSpec
	gen       Generator
	rng       *rand.Rand
	scenarios *scenario.Engine
	state     State
	ticks     atomic.Int64
}

// NewSimulator builds a simulator for the given spec. seed makes the
// device's random walk and interval jitter reproducible.
func NewSimulator(spec devicebridge.DeviceSpec, scenarios *scenario.Engine, seed int64) (*Simulator, error) {
	gen, err := newGenerator(spec.Kind)
	if err != nil {
		return nil, err
	}
	return &Simulator{
		spec:      spec,
		gen:       gen,
		rng:       rand.New(rand.NewSource(seed)),
		scenarios: scenarios,
	}, nil
}

// Spec returns the immutable device description.
func (d *Simulator) Spec() devicebridge.DeviceSpec { return d.spec }

// Ticks returns how many readings this device has produced. Safe to read
// concurrently for live progress reporting.
func (d *Simulator) Ticks() int64 { return d.ticks.Load() }

// Failed reports whether the device has entered its permanent failed state.
func (d *Simulator) Failed() bool { return d.state.Failed }

// Tick samples the active scenario, decides alarm/failure for this reading
// and produces the payload. Timestamps are clamped to be non-decreasing per
// device even if the wall clock steps backwards.
func (d *Simulator) Tick(now time.Time) (devicebridge.Reading, error) {
	sc := d.scenarios.Current()
	alarm, fail := scenario.Sample(sc, d.rng)

	if fail && !d.state.Failed {
		d.state.Failed = true
	}
	d.state.Alarming = alarm

	if now.Before(d.state.LastTick) {
		now = d.state.LastTick
	}
	var elapsed time.Duration
	if !d.state.LastTick.IsZero() {
		elapsed = now.Sub(d.state.LastTick)
	}

	var payload map[string]any
	if d.state.Failed {
		payload = d.gen.Degraded()
	} else {
		var err error
		payload, err = d.gen.Next(d.rng, elapsed)
		if err != nil {
			return devicebridge.Reading{}, fmt.Errorf("device %s: generate payload: %w", d.spec.ID, err)
		}
	}

	d.state.LastTick = now
	d.ticks.Add(1)

	return devicebridge.Reading{
		DeviceID:   d.spec.ID,
		DeviceType: d.spec.Kind,
		Location:   d.spec.Location,
		SessionID:  uuid.NewString()[:8],
		Timestamp:  now,
		Scenario:   sc.Name,
		Alarm:      alarm,
		Failure:    d.state.Failed,
		Payload:    payload,
	}, nil
}

// NextInterval draws the wait until the next tick uniformly from the
// device's configured range. Re-drawn after every tick so a fleet of
// devices never settles into lockstep.
func (d *Simulator) NextInterval() time.Duration {
	lo, hi := d.spec.IntervalMin, d.spec.IntervalMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(d.rng.Int63n(int64(hi-lo)))
}
