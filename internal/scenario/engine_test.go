package scenario

import (
	"errors"
	"math/rand"
	"testing"

	"devicebridge"
)

func testTable() map[string]devicebridge.Scenario {
	return map[string]devicebridge.Scenario{
		"normal_operation": {Description: "normal", AlarmProbability: 0.05, FailureProbability: 0.01},
		"emergency":        {Description: "emergency", AlarmProbability: 0.30, FailureProbability: 0.05},
	}
}

func TestActivate_UnknownScenario(t *testing.T) {
	e := New(testTable())
	err := e.Activate("apocalypse")
	if !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("want ErrUnknownScenario, got %v", err)
	}
}

func TestCurrent_BeforeActivateIsInert(t *testing.T) {
	e := New(testTable())
	sc := e.Current()
	if sc.AlarmProbability != 0 || sc.FailureProbability != 0 {
		t.Fatalf("inactive engine must have zero probabilities, got %+v", sc)
	}
}

func TestActivateAndSwitch(t *testing.T) {
	e := New(testTable())
	if err := e.Activate("normal_operation"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got := e.Current().Name; got != "normal_operation" {
		t.Fatalf("current = %q, want normal_operation", got)
	}

	before := e.Current() // snapshot sampled before the switch

	if err := e.Switch("emergency"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if got := e.Current().Name; got != "emergency" {
		t.Fatalf("current = %q, want emergency", got)
	}

	// the pre-switch snapshot is unaffected: no retroactive mutation
	if before.Name != "normal_operation" || before.AlarmProbability != 0.05 {
		t.Fatalf("pre-switch snapshot mutated: %+v", before)
	}

	if err := e.Switch("apocalypse"); !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("switch to unknown: want ErrUnknownScenario, got %v", err)
	}
	// failed switch keeps the previous scenario
	if got := e.Current().Name; got != "emergency" {
		t.Fatalf("after failed switch current = %q, want emergency", got)
	}
}

func TestSample_ZeroProbabilitiesNeverFire(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sc := devicebridge.Scenario{AlarmProbability: 0, FailureProbability: 0}
	for i := 0; i < 10_000; i++ {
		alarm, failure := Sample(sc, rng)
		if alarm || failure {
			t.Fatalf("draw %d fired with zero probabilities: alarm=%v failure=%v", i, alarm, failure)
		}
	}
}

func TestSample_CertainAlarmAlwaysFires(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	sc := devicebridge.Scenario{AlarmProbability: 1, FailureProbability: 0}
	for i := 0; i < 10_000; i++ {
		alarm, failure := Sample(sc, rng)
		if !alarm {
			t.Fatalf("draw %d: alarm_probability=1 must always alarm", i)
		}
		if failure {
			t.Fatalf("draw %d: failure fired with probability 0", i)
		}
	}
}

func TestNames_Sorted(t *testing.T) {
	e := New(testTable())
	names := e.Names()
	if len(names) != 2 || names[0] != "emergency" || names[1] != "normal_operation" {
		t.Fatalf("unexpected names: %v", names)
	}
}
