package device

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"devicebridge"
)

// Generator produces the device-kind-specific payload for each tick. A
// generator is stateful (small random walk around a baseline, not a fresh
// re-randomization) and owned by exactly one Simulator, so implementations
// need no locking.
type Generator interface {
	// Next advances the walk by elapsed wall time and returns a new payload.
	Next(rng *rand.Rand, elapsed time.Duration) (map[string]any, error)
	// Degraded returns the payload emitted while the device is failed.
	// It must not fabricate normal-looking fresh data.
	Degraded() map[string]any
}

// Factory builds a fresh generator with its baseline state.
type Factory func() Generator

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// Register adds a device kind. New kinds plug in here without touching the
// scheduler or dispatcher.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[kind] = f
}

// Kinds returns the registered device kinds, sorted.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func newGenerator(kind string) (Generator, error) {
	regMu.RLock()
	f, ok := registry[kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no generator registered for device kind %q", kind)
	}
	return f(), nil
}

func init() {
	Register(devicebridge.KindInfusionPump, func() Generator { return newInfusionPump() })
	Register(devicebridge.KindPatientBed, func() Generator { return newPatientBed() })
	Register(devicebridge.KindVitalSigns, func() Generator { return newVitalSigns() })
}

// ---------- infusion pump ----------

type infusionPump struct {
	flowRate       float64 // ml/hr
	pressure       float64 // psi
	batteryLevel   float64 // percent
	volumeInfused  float64 // ml
	targetFlowRate float64
	reservoirML    float64
}

func newInfusionPump() *infusionPump {
	return &infusionPump{
		flowRate:       5.0,
		pressure:       25.0,
		batteryLevel:   100.0,
		targetFlowRate: 5.0,
		reservoirML:    500.0,
	}
}

func (p *infusionPump) Next(rng *rand.Rand, elapsed time.Duration) (map[string]any, error) {
	p.flowRate = clamp(p.flowRate+uniform(rng, -0.2, 0.2), 0, 10)
	p.pressure = clamp(p.pressure+uniform(rng, -2, 2), 10, 50)
	p.batteryLevel = clamp(p.batteryLevel-uniform(rng, 0.01, 0.05), 0, 100)
	p.volumeInfused += p.flowRate * elapsed.Hours()

	var alarms []string
	if p.batteryLevel < 20 {
		alarms = append(alarms, "LOW_BATTERY")
	}
	if p.pressure > 45 {
		alarms = append(alarms, "HIGH_PRESSURE")
	}
	if p.volumeInfused > p.reservoirML*0.9 {
		alarms = append(alarms, "LOW_VOLUME")
	}

	return map[string]any{
		"flow_rate":        round2(p.flowRate),
		"target_flow_rate": p.targetFlowRate,
		"pressure":         round1(p.pressure),
		"battery_level":    round1(p.batteryLevel),
		"volume_infused":   round2(p.volumeInfused),
		"volume_remaining": round2(p.reservoirML - p.volumeInfused),
		"status":           "running",
		"alarms":           alarms,
		"temperature":      round1(uniform(rng, 20, 25)),
		"pump_cycles":      1000 + rng.Intn(4000),
	}, nil
}

// Degraded reports the pump as stopped: zero flow, failed status, battery
// and volume frozen at their last values.
func (p *infusionPump) Degraded() map[string]any {
	return map[string]any{
		"flow_rate":        0.0,
		"target_flow_rate": p.targetFlowRate,
		"pressure":         round1(p.pressure),
		"battery_level":    round1(p.batteryLevel),
		"volume_infused":   round2(p.volumeInfused),
		"volume_remaining": round2(p.reservoirML - p.volumeInfused),
		"status":           "failed",
		"alarms":           []string{"DEVICE_FAILURE"},
	}
}

// ---------- patient bed ----------

type patientBed struct {
	weight        float64 // kg
	positionAngle float64 // degrees
	occupancy     bool
	movementLevel int // 0-5
	bedExitRisk   string
	lastGood      map[string]any
}

func newPatientBed() *patientBed {
	return &patientBed{
		weight:        75.0,
		positionAngle: 30.0,
		occupancy:     true,
		movementLevel: 2,
		bedExitRisk:   "low",
	}
}

func (b *patientBed) Next(rng *rand.Rand, elapsed time.Duration) (map[string]any, error) {
	if b.occupancy {
		b.weight = clamp(b.weight+uniform(rng, -0.5, 0.5), 50, 150)
		b.positionAngle = clamp(b.positionAngle+uniform(rng, -5, 5), 0, 70)
		b.movementLevel = rng.Intn(6)
		switch {
		case b.movementLevel > 3 && rng.Float64() < 0.3:
			b.bedExitRisk = "high"
		case b.movementLevel > 1:
			b.bedExitRisk = "medium"
		default:
			b.bedExitRisk = "low"
		}
	} else if rng.Float64() < 0.05 {
		b.occupancy = true
		b.weight = uniform(rng, 60, 120)
	}

	callLight := false
	if rng.Float64() < 0.1 {
		callLight = rng.Intn(2) == 0
	}

	payload := map[string]any{
		"weight":           round1(b.weight),
		"position_angle":   round1(b.positionAngle),
		"occupancy":        b.occupancy,
		"movement_level":   b.movementLevel,
		"bed_exit_risk":    b.bedExitRisk,
		"rails_up":         rng.Intn(2) == 0,
		"call_light":       callLight,
		"room_temperature": round1(uniform(rng, 20, 24)),
		"humidity":         round1(uniform(rng, 40, 60)),
	}
	b.lastGood = payload
	return payload, nil
}

// Degraded re-emits the last known good measurements; the failure flag on
// the reading marks them stale.
func (b *patientBed) Degraded() map[string]any {
	if b.lastGood != nil {
		return b.lastGood
	}
	return map[string]any{
		"weight":         round1(b.weight),
		"position_angle": round1(b.positionAngle),
		"occupancy":      b.occupancy,
	}
}

// ---------- vital signs monitor ----------

type vitalSigns struct {
	heartRate   int
	bpSystolic  int
	bpDiastolic int
	oxygenSat   float64
	respRate    int
	temperature float64
	lastGood    map[string]any
}

func newVitalSigns() *vitalSigns {
	return &vitalSigns{
		heartRate:   75,
		bpSystolic:  120,
		bpDiastolic: 80,
		oxygenSat:   98,
		respRate:    16,
		temperature: 36.5,
	}
}

func (v *vitalSigns) Next(rng *rand.Rand, elapsed time.Duration) (map[string]any, error) {
	v.heartRate = clampInt(v.heartRate+rng.Intn(7)-3, 45, 150)
	v.bpSystolic = clampInt(v.bpSystolic+rng.Intn(11)-5, 90, 180)
	v.bpDiastolic = clampInt(v.bpDiastolic+rng.Intn(7)-3, 50, 110)
	v.oxygenSat = clamp(v.oxygenSat+uniform(rng, -1, 1), 85, 100)
	v.respRate = clampInt(v.respRate+rng.Intn(3)-1, 8, 30)
	v.temperature = clamp(v.temperature+uniform(rng, -0.2, 0.2), 35, 40)

	rhythms := []string{"normal", "irregular", "atrial_fib"}

	payload := map[string]any{
		"heart_rate": v.heartRate,
		"blood_pressure": map[string]any{
			"systolic":  v.bpSystolic,
			"diastolic": v.bpDiastolic,
		},
		"oxygen_saturation": round1(v.oxygenSat),
		"respiratory_rate":  v.respRate,
		"temperature":       round1(v.temperature),
		"ecg_rhythm":        rhythms[rng.Intn(len(rhythms))],
		"alerts":            v.alerts(),
	}
	v.lastGood = payload
	return payload, nil
}

func (v *vitalSigns) alerts() []string {
	var alerts []string
	if v.heartRate > 100 {
		alerts = append(alerts, "TACHYCARDIA")
	} else if v.heartRate < 60 {
		alerts = append(alerts, "BRADYCARDIA")
	}
	if v.bpSystolic > 140 {
		alerts = append(alerts, "HYPERTENSION")
	} else if v.bpSystolic < 100 {
		alerts = append(alerts, "HYPOTENSION")
	}
	if v.oxygenSat < 90 {
		alerts = append(alerts, "LOW_OXYGEN")
	}
	if v.temperature > 38 {
		alerts = append(alerts, "FEVER")
	}
	return alerts
}

// Degraded re-emits last known good vitals; failure flag marks them stale.
func (v *vitalSigns) Degraded() map[string]any {
	if v.lastGood != nil {
		return v.lastGood
	}
	return map[string]any{
		"heart_rate": v.heartRate,
		"blood_pressure": map[string]any{
			"systolic":  v.bpSystolic,
			"diastolic": v.bpDiastolic,
		},
	}
}

// ---------- helpers ----------

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 { return roundTo(v, 10) }
func round2(v float64) float64 { return roundTo(v, 100) }

func roundTo(v float64, scale float64) float64 {
	return math.Round(v*scale) / scale
}
