package metrics

import (
	"math"
	"testing"
)

func TestStageValues(t *testing.T) {
	cases := []struct {
		stage Stage
		want  float64
	}{
		{StageDisconnected, 0},
		{StageHandshaking, 1},
		{StageIdentifying, 2},
		{StageResuming, 3},
		{StageConnected, 4},
	}
	for _, c := range cases {
		if got := c.stage.Value(); got != c.want {
			t.Fatalf("Stage(%d).Value() = %v, want %v", c.stage, got, c.want)
		}
	}

	if !math.IsNaN(Stage(99).Value()) {
		t.Fatalf("unknown stage must report NaN, got %v", Stage(99).Value())
	}
}

func TestNewRegistersCollectors(t *testing.T) {
	r := New()

	r.ShardEvents.WithLabelValues("0", "MESSAGE_CREATE").Inc()
	r.ShardLatency.WithLabelValues("0").Observe(0.05)
	r.ShardStatus.WithLabelValues("0").Observe(4)
	r.ClientLagged.WithLabelValues("0").Inc()

	families, err := r.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 4 {
		t.Fatalf("expected 4 metric families, got %d", len(families))
	}
}
