package devicebridge

import "time"

// Device kinds shipped with the simulator. The set is open: new kinds are
// added by registering a generator under internal/device.
const (
	KindInfusionPump = "infusion_pump"
	KindPatientBed   = "patient_bed"
	KindVitalSigns   = "vital_signs"
)

// DeviceSpec describes one simulated device. Built from configuration at run
// start and never mutated afterwards.
type DeviceSpec struct {
	ID          string        `json:"device_id"`
	Kind        string        `json:"device_type"`
	Location    string        `json:"location"`
	IntervalMin time.Duration `json:"interval_min"`
	IntervalMax time.Duration `json:"interval_max"`
}

// Scenario holds the probabilities injected into every tick while it is
// active. Immutable; switching scenarios swaps the whole snapshot.
type Scenario struct {
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	AlarmProbability   float64 `json:"alarm_probability"`
	FailureProbability float64 `json:"device_failure_probability"`
}

// Reading is the unit of data produced once per device tick. Immutable once
// created; sinks that need durability copy what they keep.
type Reading struct {
	DeviceID   string         `json:"device_id"`
	DeviceType string         `json:"device_type"`
	Location   string         `json:"location"`
	SessionID  string         `json:"session_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Scenario   string         `json:"scenario"`
	Alarm      bool           `json:"alarm"`
	Failure    bool           `json:"failure"`
	Payload    map[string]any `json:"payload"`
}

// SinkStats is the per-sink delivery tally accumulated over a run.
type SinkStats struct {
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Retries   int64 `json:"retries"`
	Failures  int64 `json:"failures"`
}

// RunSummary reports what a run actually did: tick counts, sink deliveries
// and every loss that backpressure or sink failure caused. Losses are
// reported here, never silent.
type RunSummary struct {
	RunID          string               `json:"run_id"`
	Scenario       string               `json:"scenario"`
	StartedAt      time.Time            `json:"started_at"`
	EndedAt        time.Time            `json:"ended_at"`
	TotalReadings  int64                `json:"total_readings"`
	TicksByDevice  map[string]int64     `json:"ticks_by_device"`
	ReadingsByKind map[string]int64     `json:"readings_by_kind"`
	DeviceFaults   map[string]int64     `json:"device_faults,omitempty"`
	Sinks          map[string]SinkStats `json:"sinks"`
	DrainedClean   bool                 `json:"drained_clean"`
}

// Rate returns the average readings-per-second over the run's wall time.
func (s *RunSummary) Rate() float64 {
	d := s.EndedAt.Sub(s.StartedAt).Seconds()
	if d <= 0 {
		return 0
	}
	return float64(s.TotalReadings) / d
}
