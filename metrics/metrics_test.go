package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FramesCaptured.Inc()
	m.DownstreamFailures.WithLabelValues("completion").Inc()
	m.StartFailures.WithLabelValues("device").Inc()
	m.Listening.Set(1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"parley_audio_frames_captured_total",
		"parley_downstream_failures_total",
		"parley_start_failures_total",
		"parley_listening",
	} {
		if !names[want] {
			t.Errorf("Metric %s not registered", want)
		}
	}
}

func TestNewTwiceOnSeparateRegistries(t *testing.T) {
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
