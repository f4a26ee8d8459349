package stream

import (
	"testing"
	"time"
)

func TestDeriveBuffering(t *testing.T) {
	tests := []struct {
		name string
		sig  Signals
		want BufferingState
	}{
		{"not started", Signals{}, Idle},
		{"started", Signals{Started: true}, Loading},
		{"parsed", Signals{Started: true, ManifestParsed: true}, Ready},
		{"retrying after parse", Signals{Started: true, ManifestParsed: true, Retrying: true}, Loading},
		{"engine stalled", Signals{Started: true, ManifestParsed: true, EngineStalled: true}, Buffering},
		{"element waiting", Signals{Started: true, ManifestParsed: true, ElementWaiting: true}, Buffering},
		{"both stalled", Signals{Started: true, ManifestParsed: true, EngineStalled: true, ElementWaiting: true}, Buffering},
		{"waiting before parse", Signals{Started: true, ElementWaiting: true}, Loading},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveBuffering(tt.sig); got != tt.want {
				t.Errorf("DeriveBuffering(%+v) = %v, want %v", tt.sig, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for attempt, w := range want {
		if got := p.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestRetryPolicy_zero_value_defaults(t *testing.T) {
	var p RetryPolicy
	if got := p.Delay(0); got != DefaultRetryBaseDelay {
		t.Errorf("zero policy Delay(0) = %v, want %v", got, DefaultRetryBaseDelay)
	}
	p = RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Millisecond}
	if got := p.Delay(3); got != time.Second {
		t.Errorf("MaxDelay below BaseDelay should clamp to BaseDelay, got %v", got)
	}
}

func TestBufferingState_String(t *testing.T) {
	if Buffering.String() != "buffering" || BufferingState(42).String() != "unknown" {
		t.Error("unexpected String output")
	}
	b, _ := Ready.MarshalText()
	if string(b) != "ready" {
		t.Errorf("MarshalText = %q", b)
	}
}
