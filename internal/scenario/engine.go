package scenario

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"

	"devicebridge"
)

// ErrUnknownScenario is returned when a name is not in the configured table.
var ErrUnknownScenario = errors.New("unknown scenario")

// Engine owns the scenario table and the active scenario for a run. The
// active scenario is an immutable snapshot behind an atomic pointer:
// device goroutines read it on every tick, only Activate/Switch replace it.
// In-flight ticks keep whatever snapshot they sampled.
type Engine struct {
	table  map[string]devicebridge.Scenario
	active atomic.Pointer[devicebridge.Scenario]
}

// New builds an engine over the configured table. No scenario is active
// until Activate is called.
func New(table map[string]devicebridge.Scenario) *Engine {
	t := make(map[string]devicebridge.Scenario, len(table))
	for name, sc := range table {
		sc.Name = name
		t[name] = sc
	}
	return &Engine{table: t}
}

// Activate sets the starting scenario for the run.
func (e *Engine) Activate(name string) error {
	return e.swap(name)
}

// Switch atomically replaces the active scenario for all subsequent ticks.
func (e *Engine) Switch(name string) error {
	return e.swap(name)
}

func (e *Engine) swap(name string) error {
	sc, ok := e.table[name]
	if !ok {
		return fmt.Errorf("%w: %q (have %v)", ErrUnknownScenario, name, e.Names())
	}
	e.active.Store(&sc)
	return nil
}

// Current returns the presently active scenario. Safe for concurrent use.
// Before Activate it returns a zero-probability scenario so callers never
// observe a nil snapshot.
func (e *Engine) Current() devicebridge.Scenario {
	if sc := e.active.Load(); sc != nil {
		return *sc
	}
	return devicebridge.Scenario{Name: "inactive"}
}

// Names lists the configured scenario names, sorted.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.table))
	for name := range e.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sample draws the alarm and failure decisions for one reading from the
// given scenario. The two draws are independent.
func Sample(sc devicebridge.Scenario, rng *rand.Rand) (alarm, failure bool) {
	alarm = rng.Float64() < sc.AlarmProbability
	failure = rng.Float64() < sc.FailureProbability
	return alarm, failure
}
