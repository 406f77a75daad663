package stream

import (
	"strings"
	"testing"

	"github.com/sdrkit/bladestream/internal/logging"
)

func TestReporterLastRegistrationWins(t *testing.T) {
	r := newReporter(logging.Discard())

	var first, second []Fault
	r.Register(func(f Fault) { first = append(first, f) })
	r.Register(func(f Fault) { second = append(second, f) })

	r.report(Fault{Type: Underflow})
	if len(first) != 0 {
		t.Fatalf("replaced handler must not fire, got %+v", first)
	}
	if len(second) != 1 || second[0].Type != Underflow {
		t.Fatalf("expected one Underflow on the live handler, got %+v", second)
	}
}

func TestReporterFallsBackToLog(t *testing.T) {
	var buf strings.Builder
	r := newReporter(logging.New(logging.Warn, logging.Text, &buf))

	r.report(Fault{Type: Overflow, Count: 42})
	if !strings.Contains(buf.String(), "overrun") || !strings.Contains(buf.String(), "42") {
		t.Fatalf("expected diagnostic line with the valid-sample count, got %q", buf.String())
	}
}

func TestReporterNilHandlerReverts(t *testing.T) {
	var buf strings.Builder
	r := newReporter(logging.New(logging.Warn, logging.Text, &buf))

	r.Register(func(Fault) { t.Fatal("unregistered handler fired") })
	r.Register(nil)
	r.report(Fault{Type: Late})
	if !strings.Contains(buf.String(), "scheduled time") {
		t.Fatalf("expected late diagnostic, got %q", buf.String())
	}
}

func TestFaultTypeStrings(t *testing.T) {
	cases := map[FaultType]string{
		Overflow:      "overflow",
		Underflow:     "underflow",
		Late:          "late",
		FaultType(99): "unknown",
	}
	for ft, want := range cases {
		if got := ft.String(); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}
