package slo

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Property: 任意样本序列与任意合法目标下，信誉分都在 [0,1] 内。
func TestProperty_ReputationBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := NewTracker(TrackerConfig{WindowSize: rapid.IntRange(1, 50).Draw(rt, "window")})
		objective := ServiceLevelObjective{
			P99LatencyMs: rapid.Float64Range(0.001, 10000).Draw(rt, "target_p99"),
			SuccessRate:  rapid.Float64Range(0, 1).Draw(rt, "target_rate"),
			Availability: rapid.Float64Range(0, 1).Draw(rt, "availability"),
		}
		require.NoError(rt, tr.SetSLO("s", objective))

		r := NewReputationSystem(tr, DefaultReputationConfig())
		n := rapid.IntRange(0, 200).Draw(rt, "samples")
		for i := 0; i < n; i++ {
			var latency *float64
			if rapid.Bool().Draw(rt, "has_latency") {
				v := rapid.Float64Range(0, 1e6).Draw(rt, "latency")
				latency = &v
			}
			tr.RecordMetric("s", latency, rapid.Bool().Draw(rt, "success"))

			s := r.Score("s")
			require.GreaterOrEqual(rt, s.Score, 0.0)
			require.LessOrEqual(rt, s.Score, 1.0)
		}

		decayed, err := r.ApplyDecay("s",
			rapid.Float64Range(0, 1).Draw(rt, "decay_rate"),
			rapid.Float64Range(0, 365).Draw(rt, "days"),
		)
		require.NoError(rt, err)
		require.GreaterOrEqual(rt, decayed.Score, 0.0)
		require.LessOrEqual(rt, decayed.Score, 1.0)
	})
}
