package config

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"devicebridge"

	"github.com/spf13/viper"
)

// Sink names accepted under data_sinks. Anything else is a config error.
const (
	SinkConsole  = "console"
	SinkFile     = "file"
	SinkDatabase = "database"
	SinkAPI      = "api"
)

// Console output formats.
const (
	FormatSimple   = "simple"
	FormatDetailed = "detailed"
)

// Run modes exposed to the CLI layer.
const (
	ModeQuick  = "quick"
	ModeDemo   = "demo"
	ModeStress = "stress"
	ModeCustom = "custom"
)

const (
	defaultQueueSize     = 256
	defaultDBBatchSize   = 50
	defaultAPIBatchSize  = 10
	defaultDrainGraceSec = 5
)

// ConfigError names the offending key so a bad file is diagnosable without
// reading the source.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

type SimulationConfig struct {
	DurationMinutes      int    `mapstructure:"duration_minutes"`
	DevicesPerType       int    `mapstructure:"devices_per_type"`
	Seed                 int64  `mapstructure:"seed"`
	Scenario             string `mapstructure:"scenario"`
	EscalateTo           string `mapstructure:"escalate_to"`
	EscalateAfterMinutes int    `mapstructure:"escalate_after_minutes"`
	DrainGraceSeconds    int    `mapstructure:"drain_grace_seconds"`
}

type DeviceClassConfig struct {
	Enabled             bool      `mapstructure:"enabled"`
	Count               int       `mapstructure:"count"`
	UpdateIntervalRange []float64 `mapstructure:"update_interval_range"`
}

type ConsoleSinkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Format    string `mapstructure:"format"`
	QueueSize int    `mapstructure:"queue_size"`
}

type FileSinkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Format    string `mapstructure:"format"`
	Directory string `mapstructure:"directory"`
	QueueSize int    `mapstructure:"queue_size"`
}

type DatabaseSinkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	File      string `mapstructure:"file"`
	BatchSize int    `mapstructure:"batch_size"`
	QueueSize int    `mapstructure:"queue_size"`
}

type APISinkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
	BatchSize int    `mapstructure:"batch_size"`
	QueueSize int    `mapstructure:"queue_size"`
}

type SinksConfig struct {
	Console  ConsoleSinkConfig  `mapstructure:"console"`
	File     FileSinkConfig     `mapstructure:"file"`
	Database DatabaseSinkConfig `mapstructure:"database"`
	API      APISinkConfig      `mapstructure:"api"`
}

type ScenarioConfig struct {
	Description              string  `mapstructure:"description"`
	AlarmProbability         float64 `mapstructure:"alarm_probability"`
	DeviceFailureProbability float64 `mapstructure:"device_failure_probability"`
}

type WebConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the validated, immutable set of run parameters.
type Config struct {
	Simulation SimulationConfig             `mapstructure:"simulation"`
	Devices    map[string]DeviceClassConfig `mapstructure:"devices"`
	Sinks      SinksConfig                  `mapstructure:"data_sinks"`
	Scenarios  map[string]ScenarioConfig    `mapstructure:"scenarios"`
	Web        WebConfig                    `mapstructure:"web"`
	Log        LogConfig                    `mapstructure:"log"`
}

// Load reads the YAML file at path, applies defaults and validates the
// result. knownKinds is the set of registered device generators; any other
// device key is rejected.
func Load(path string, knownKinds []string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Unknown sink sections are not representable in SinksConfig, so check
	// the raw keys before the struct swallows them.
	for key := range v.GetStringMap("data_sinks") {
		switch key {
		case SinkConsole, SinkFile, SinkDatabase, SinkAPI:
		default:
			return nil, &ConfigError{Key: "data_sinks." + key, Reason: "unknown sink type"}
		}
	}

	c.applyDefaults()
	if err := c.Validate(knownKinds); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Simulation.DrainGraceSeconds <= 0 {
		c.Simulation.DrainGraceSeconds = defaultDrainGraceSec
	}
	if c.Sinks.Console.Format == "" {
		c.Sinks.Console.Format = FormatDetailed
	}
	if c.Sinks.Console.QueueSize <= 0 {
		c.Sinks.Console.QueueSize = defaultQueueSize
	}
	if c.Sinks.File.Format == "" {
		c.Sinks.File.Format = "json"
	}
	if c.Sinks.File.Directory == "" {
		c.Sinks.File.Directory = "simulation_data"
	}
	if c.Sinks.File.QueueSize <= 0 {
		c.Sinks.File.QueueSize = defaultQueueSize
	}
	if c.Sinks.Database.File == "" {
		c.Sinks.Database.File = "simulation.db"
	}
	if c.Sinks.Database.BatchSize <= 0 {
		c.Sinks.Database.BatchSize = defaultDBBatchSize
	}
	if c.Sinks.Database.QueueSize <= 0 {
		c.Sinks.Database.QueueSize = defaultQueueSize
	}
	if c.Sinks.API.BatchSize <= 0 {
		c.Sinks.API.BatchSize = defaultAPIBatchSize
	}
	if c.Sinks.API.QueueSize <= 0 {
		c.Sinks.API.QueueSize = defaultQueueSize
	}
	if c.Web.Port == "" {
		c.Web.Port = "8090"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks every invariant the engine relies on. The first violation
// is returned as a *ConfigError naming the key.
func (c *Config) Validate(knownKinds []string) error {
	if c.Simulation.DurationMinutes <= 0 {
		return &ConfigError{Key: "simulation.duration_minutes", Reason: "must be > 0"}
	}
	if c.Simulation.DevicesPerType < 0 {
		return &ConfigError{Key: "simulation.devices_per_type", Reason: "must be >= 0"}
	}

	known := make(map[string]bool, len(knownKinds))
	for _, k := range knownKinds {
		known[k] = true
	}
	for kind, dc := range c.Devices {
		prefix := "devices." + kind
		if !known[kind] {
			return &ConfigError{Key: prefix, Reason: "unknown device type"}
		}
		if dc.Count < 0 {
			return &ConfigError{Key: prefix + ".count", Reason: "must be >= 0"}
		}
		if len(dc.UpdateIntervalRange) != 2 {
			return &ConfigError{Key: prefix + ".update_interval_range", Reason: "must be [min, max]"}
		}
		minSec, maxSec := dc.UpdateIntervalRange[0], dc.UpdateIntervalRange[1]
		if minSec <= 0 {
			return &ConfigError{Key: prefix + ".update_interval_range", Reason: "min must be > 0"}
		}
		if maxSec < minSec {
			return &ConfigError{Key: prefix + ".update_interval_range", Reason: "max must be >= min"}
		}
	}

	if len(c.Scenarios) == 0 {
		return &ConfigError{Key: "scenarios", Reason: "at least one scenario is required"}
	}
	for name, sc := range c.Scenarios {
		prefix := "scenarios." + name
		if sc.AlarmProbability < 0 || sc.AlarmProbability > 1 {
			return &ConfigError{Key: prefix + ".alarm_probability", Reason: "must be in [0, 1]"}
		}
		if sc.DeviceFailureProbability < 0 || sc.DeviceFailureProbability > 1 {
			return &ConfigError{Key: prefix + ".device_failure_probability", Reason: "must be in [0, 1]"}
		}
	}
	if c.Simulation.Scenario != "" {
		if _, ok := c.Scenarios[c.Simulation.Scenario]; !ok {
			return &ConfigError{Key: "simulation.scenario", Reason: "not in scenarios table"}
		}
	}
	if c.Simulation.EscalateTo != "" {
		if _, ok := c.Scenarios[c.Simulation.EscalateTo]; !ok {
			return &ConfigError{Key: "simulation.escalate_to", Reason: "not in scenarios table"}
		}
		if c.Simulation.EscalateAfterMinutes <= 0 {
			return &ConfigError{Key: "simulation.escalate_after_minutes", Reason: "must be > 0 when escalate_to is set"}
		}
	}

	if c.Sinks.Console.Enabled {
		switch c.Sinks.Console.Format {
		case FormatSimple, FormatDetailed:
		default:
			return &ConfigError{Key: "data_sinks.console.format", Reason: "must be simple or detailed"}
		}
	}
	if c.Sinks.API.Enabled && c.Sinks.API.URL == "" {
		return &ConfigError{Key: "data_sinks.api.url", Reason: "required when api sink is enabled"}
	}
	return nil
}

// ScenarioTable converts the configured scenarios into domain values.
func (c *Config) ScenarioTable() map[string]devicebridge.Scenario {
	out := make(map[string]devicebridge.Scenario, len(c.Scenarios))
	for name, sc := range c.Scenarios {
		out[name] = devicebridge.Scenario{
			Name:               name,
			Description:        sc.Description,
			AlarmProbability:   sc.AlarmProbability,
			FailureProbability: sc.DeviceFailureProbability,
		}
	}
	return out
}

// DeviceSpecs expands the device table into individual specs, numbering ids
// within each kind (pump-style "infusion_pump_001") and assigning a random
// room. devices_per_type, when set, overrides the per-kind counts.
func (c *Config) DeviceSpecs(rng *rand.Rand) []devicebridge.DeviceSpec {
	kinds := make([]string, 0, len(c.Devices))
	for kind := range c.Devices {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds) // deterministic ordering across runs

	var specs []devicebridge.DeviceSpec
	for _, kind := range kinds {
		dc := c.Devices[kind]
		if !dc.Enabled {
			continue
		}
		count := dc.Count
		if c.Simulation.DevicesPerType > 0 {
			count = c.Simulation.DevicesPerType
		}
		for i := 0; i < count; i++ {
			specs = append(specs, devicebridge.DeviceSpec{
				ID:          fmt.Sprintf("%s_%03d", kind, i+1),
				Kind:        kind,
				Location:    fmt.Sprintf("Room_%d", 100+rng.Intn(900)),
				IntervalMin: secondsToDuration(dc.UpdateIntervalRange[0]),
				IntervalMax: secondsToDuration(dc.UpdateIntervalRange[1]),
			})
		}
	}
	return specs
}

// ApplyMode overlays one of the preset run modes on top of the loaded
// configuration. ModeCustom leaves the file values untouched.
func (c *Config) ApplyMode(mode string) error {
	switch mode {
	case ModeQuick:
		c.Simulation.DurationMinutes = 2
		c.setCount(devicebridge.KindInfusionPump, 2)
		c.setCount(devicebridge.KindPatientBed, 2)
		c.setCount(devicebridge.KindVitalSigns, 1)
		c.Sinks.Console.Format = FormatSimple
	case ModeDemo:
		c.Simulation.DurationMinutes = 10
		c.setCount(devicebridge.KindInfusionPump, 10)
		c.setCount(devicebridge.KindPatientBed, 8)
		c.setCount(devicebridge.KindVitalSigns, 5)
		c.Sinks.Console.Format = FormatDetailed
	case ModeStress:
		c.Simulation.DurationMinutes = 5
		c.setCount(devicebridge.KindInfusionPump, 50)
		c.setCount(devicebridge.KindPatientBed, 30)
		c.setCount(devicebridge.KindVitalSigns, 20)
		c.Sinks.Console.Enabled = false // too much output at this rate
	case ModeCustom, "":
	default:
		return &ConfigError{Key: "mode", Reason: fmt.Sprintf("unknown run mode %q", mode)}
	}
	return nil
}

func (c *Config) setCount(kind string, n int) {
	dc, ok := c.Devices[kind]
	if !ok {
		return
	}
	dc.Count = n
	c.Devices[kind] = dc
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
