package sink

import (
	"context"
	"fmt"
	"io"
	"os"

	"devicebridge"
)

// ConsoleSink prints readings to a writer. It never returns an error that
// would abort anything; a broken pipe just loses output.
type ConsoleSink struct {
	out      io.Writer
	detailed bool
}

// NewConsoleSink writes to stdout. format "detailed" prints per-kind key
// metrics; anything else prints one summary line per reading.
func NewConsoleSink(format string) *ConsoleSink {
	return &ConsoleSink{out: os.Stdout, detailed: format == "detailed"}
}

// NewConsoleSinkTo writes to an arbitrary writer, for tests.
func NewConsoleSinkTo(w io.Writer, format string) *ConsoleSink {
	return &ConsoleSink{out: w, detailed: format == "detailed"}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Write(_ context.Context, r devicebridge.Reading) error {
	if !s.detailed {
		fmt.Fprintf(s.out, "%s %s: %s%s\n",
			r.DeviceType, r.DeviceID, r.Timestamp.Format("15:04:05.000"), flags(r))
		return nil
	}

	fmt.Fprintf(s.out, "[%s] %s %s @ %s%s\n",
		r.Timestamp.Format("15:04:05.000"), r.DeviceType, r.DeviceID, r.Location, flags(r))
	switch r.DeviceType {
	case devicebridge.KindInfusionPump:
		fmt.Fprintf(s.out, "   Flow: %v ml/hr, Pressure: %v psi\n",
			r.Payload["flow_rate"], r.Payload["pressure"])
	case devicebridge.KindPatientBed:
		fmt.Fprintf(s.out, "   Weight: %v kg, Position: %v deg\n",
			r.Payload["weight"], r.Payload["position_angle"])
	case devicebridge.KindVitalSigns:
		bp, _ := r.Payload["blood_pressure"].(map[string]any)
		fmt.Fprintf(s.out, "   HR: %v, BP: %v/%v\n",
			r.Payload["heart_rate"], bp["systolic"], bp["diastolic"])
	}
	return nil
}

func flags(r devicebridge.Reading) string {
	switch {
	case r.Failure && r.Alarm:
		return " [ALARM] [FAILED]"
	case r.Failure:
		return " [FAILED]"
	case r.Alarm:
		return " [ALARM]"
	}
	return ""
}

func (s *ConsoleSink) Flush(context.Context) error { return nil }
func (s *ConsoleSink) Close() error                { return nil }
