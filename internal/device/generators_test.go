package device

import (
	"math/rand"
	"testing"
	"time"
)

func TestInfusionPump_WalkStaysBounded(t *testing.T) {
	p := newInfusionPump()
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 5000; i++ {
		payload, err := p.Next(rng, 2*time.Second)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		flow := payload["flow_rate"].(float64)
		if flow < 0 || flow > 10 {
			t.Fatalf("flow_rate %v outside [0, 10]", flow)
		}
		pressure := payload["pressure"].(float64)
		if pressure < 10 || pressure > 50 {
			t.Fatalf("pressure %v outside [10, 50]", pressure)
		}
		battery := payload["battery_level"].(float64)
		if battery < 0 || battery > 100 {
			t.Fatalf("battery_level %v outside [0, 100]", battery)
		}
	}
}

func TestInfusionPump_VolumeAccumulates(t *testing.T) {
	p := newInfusionPump()
	rng := rand.New(rand.NewSource(12))

	var last float64
	for i := 0; i < 100; i++ {
		payload, err := p.Next(rng, time.Minute)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		vol := payload["volume_infused"].(float64)
		if vol < last {
			t.Fatalf("volume_infused went backwards: %v then %v", last, vol)
		}
		last = vol
	}
	if last == 0 {
		t.Fatalf("expected volume to accumulate over 100 minutes of flow")
	}
}

func TestInfusionPump_DegradedReportsStoppedPump(t *testing.T) {
	p := newInfusionPump()
	rng := rand.New(rand.NewSource(13))
	if _, err := p.Next(rng, time.Second); err != nil {
		t.Fatalf("next: %v", err)
	}

	d := p.Degraded()
	if d["flow_rate"] != 0.0 {
		t.Fatalf("degraded flow_rate = %v, want 0", d["flow_rate"])
	}
	if d["status"] != "failed" {
		t.Fatalf("degraded status = %v, want failed", d["status"])
	}
}

func TestPatientBed_DegradedReemitsLastGood(t *testing.T) {
	b := newPatientBed()
	rng := rand.New(rand.NewSource(14))
	payload, err := b.Next(rng, time.Second)
	if err != nil {
		t.Fatalf("next: %v", err)
	}

	d := b.Degraded()
	if d["weight"] != payload["weight"] {
		t.Fatalf("degraded weight = %v, want last good %v", d["weight"], payload["weight"])
	}
	if d["position_angle"] != payload["position_angle"] {
		t.Fatalf("degraded position = %v, want last good %v", d["position_angle"], payload["position_angle"])
	}
}

func TestVitalSigns_WalkStaysBounded(t *testing.T) {
	v := newVitalSigns()
	rng := rand.New(rand.NewSource(15))

	for i := 0; i < 5000; i++ {
		payload, err := v.Next(rng, time.Second)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		hr := payload["heart_rate"].(int)
		if hr < 45 || hr > 150 {
			t.Fatalf("heart_rate %d outside [45, 150]", hr)
		}
		spo2 := payload["oxygen_saturation"].(float64)
		if spo2 < 85 || spo2 > 100 {
			t.Fatalf("oxygen_saturation %v outside [85, 100]", spo2)
		}
		bp := payload["blood_pressure"].(map[string]any)
		sys := bp["systolic"].(int)
		if sys < 90 || sys > 180 {
			t.Fatalf("systolic %d outside [90, 180]", sys)
		}
	}
}

func TestVitalSigns_AlertsMatchThresholds(t *testing.T) {
	v := newVitalSigns()
	v.heartRate = 120
	v.bpSystolic = 150
	v.oxygenSat = 88
	v.temperature = 38.5

	alerts := v.alerts()
	want := map[string]bool{"TACHYCARDIA": false, "HYPERTENSION": false, "LOW_OXYGEN": false, "FEVER": false}
	for _, a := range alerts {
		if _, ok := want[a]; ok {
			want[a] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("expected alert %s in %v", name, alerts)
		}
	}
}

func TestRegister_NewKindIsUsable(t *testing.T) {
	Register("test_oximeter", func() Generator { return newVitalSigns() })

	gen, err := newGenerator("test_oximeter")
	if err != nil {
		t.Fatalf("newGenerator: %v", err)
	}
	if _, err := gen.Next(rand.New(rand.NewSource(1)), time.Second); err != nil {
		t.Fatalf("next: %v", err)
	}
}
