package config

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"devicebridge"
)

var knownKinds = []string{
	devicebridge.KindInfusionPump,
	devicebridge.KindPatientBed,
	devicebridge.KindVitalSigns,
}

const validYAML = `
simulation:
  duration_minutes: 10
  scenario: normal_operation
devices:
  infusion_pump:
    enabled: true
    count: 2
    update_interval_range: [1, 3]
  vital_signs:
    enabled: true
    count: 1
    update_interval_range: [0.5, 2]
data_sinks:
  console:
    enabled: true
    format: simple
  database:
    enabled: true
    file: test.db
scenarios:
  normal_operation:
    description: normal
    alarm_probability: 0.05
    device_failure_probability: 0.01
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML), knownKinds)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Simulation.DurationMinutes != 10 {
		t.Fatalf("duration = %d, want 10", cfg.Simulation.DurationMinutes)
	}
	if cfg.Devices[devicebridge.KindInfusionPump].Count != 2 {
		t.Fatalf("pump count = %d, want 2", cfg.Devices[devicebridge.KindInfusionPump].Count)
	}
	// defaults filled in
	if cfg.Sinks.Database.BatchSize != defaultDBBatchSize {
		t.Fatalf("db batch size default = %d", cfg.Sinks.Database.BatchSize)
	}
	if cfg.Sinks.API.QueueSize != defaultQueueSize {
		t.Fatalf("api queue size default = %d", cfg.Sinks.API.QueueSize)
	}
}

func TestLoad_ErrorsNameTheKey(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantKey string
	}{
		{
			name:    "non-positive duration",
			mutate:  func(s string) string { return strings.Replace(s, "duration_minutes: 10", "duration_minutes: 0", 1) },
			wantKey: "simulation.duration_minutes",
		},
		{
			name:    "unknown device type",
			mutate:  func(s string) string { return strings.Replace(s, "infusion_pump:", "espresso_machine:", 1) },
			wantKey: "devices.espresso_machine",
		},
		{
			name:    "inverted interval range",
			mutate:  func(s string) string { return strings.Replace(s, "[1, 3]", "[3, 1]", 1) },
			wantKey: "devices.infusion_pump.update_interval_range",
		},
		{
			name:    "zero interval minimum",
			mutate:  func(s string) string { return strings.Replace(s, "[1, 3]", "[0, 3]", 1) },
			wantKey: "devices.infusion_pump.update_interval_range",
		},
		{
			name: "alarm probability above one",
			mutate: func(s string) string {
				return strings.Replace(s, "alarm_probability: 0.05", "alarm_probability: 1.5", 1)
			},
			wantKey: "scenarios.normal_operation.alarm_probability",
		},
		{
			name: "starting scenario not in table",
			mutate: func(s string) string {
				return strings.Replace(s, "scenario: normal_operation", "scenario: meltdown", 1)
			},
			wantKey: "simulation.scenario",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.mutate(validYAML)), knownKinds)
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("want *ConfigError, got %v", err)
			}
			if cerr.Key != tc.wantKey {
				t.Fatalf("error key = %q, want %q (%v)", cerr.Key, tc.wantKey, err)
			}
		})
	}
}

func TestLoad_UnknownSinkRejected(t *testing.T) {
	yaml := strings.Replace(validYAML, "console:", "carrier_pigeon:", 1)
	_, err := Load(writeConfig(t, yaml), knownKinds)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("want *ConfigError, got %v", err)
	}
	if cerr.Key != "data_sinks.carrier_pigeon" {
		t.Fatalf("error key = %q", cerr.Key)
	}
}

func TestLoad_APISinkRequiresURL(t *testing.T) {
	yaml := strings.Replace(validYAML, "data_sinks:", "data_sinks:\n  api:\n    enabled: true", 1)
	_, err := Load(writeConfig(t, yaml), knownKinds)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("want *ConfigError, got %v", err)
	}
	if cerr.Key != "data_sinks.api.url" {
		t.Fatalf("error key = %q", cerr.Key)
	}
}

func TestDeviceSpecs_CountsAndRanges(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML), knownKinds)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	specs := cfg.DeviceSpecs(rand.New(rand.NewSource(1)))
	if len(specs) != 3 { // 2 pumps + 1 vitals
		t.Fatalf("got %d specs, want 3", len(specs))
	}
	for _, spec := range specs {
		if spec.IntervalMin <= 0 || spec.IntervalMax < spec.IntervalMin {
			t.Fatalf("bad interval range in %+v", spec)
		}
		if !strings.HasPrefix(spec.Location, "Room_") {
			t.Fatalf("bad location %q", spec.Location)
		}
	}
	if specs[0].ID != "infusion_pump_001" || specs[1].ID != "infusion_pump_002" {
		t.Fatalf("ids not numbered within kind: %v %v", specs[0].ID, specs[1].ID)
	}
	if specs[2].Kind != devicebridge.KindVitalSigns {
		t.Fatalf("specs not sorted by kind: %+v", specs[2])
	}
	if specs[2].IntervalMin != 500*time.Millisecond {
		t.Fatalf("fractional seconds not converted: %v", specs[2].IntervalMin)
	}
}

func TestDeviceSpecs_PerTypeOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML), knownKinds)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Simulation.DevicesPerType = 4

	specs := cfg.DeviceSpecs(rand.New(rand.NewSource(1)))
	if len(specs) != 8 { // 4 pumps + 4 vitals
		t.Fatalf("got %d specs, want 8", len(specs))
	}
}

func TestApplyMode(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML), knownKinds)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := cfg.ApplyMode(ModeQuick); err != nil {
		t.Fatalf("apply quick: %v", err)
	}
	if cfg.Simulation.DurationMinutes != 2 {
		t.Fatalf("quick duration = %d, want 2", cfg.Simulation.DurationMinutes)
	}
	if cfg.Devices[devicebridge.KindInfusionPump].Count != 2 {
		t.Fatalf("quick pump count = %d, want 2", cfg.Devices[devicebridge.KindInfusionPump].Count)
	}
	if cfg.Sinks.Console.Format != FormatSimple {
		t.Fatalf("quick console format = %q", cfg.Sinks.Console.Format)
	}

	if err := cfg.ApplyMode(ModeStress); err != nil {
		t.Fatalf("apply stress: %v", err)
	}
	if cfg.Sinks.Console.Enabled {
		t.Fatalf("stress mode must disable console sink")
	}

	if err := cfg.ApplyMode("leisurely"); err == nil {
		t.Fatalf("unknown mode must be rejected")
	}
}
