package humanoid

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/gatewalk/api/schemas"
)

func TestSmoothstep(t *testing.T) {
	assert.Equal(t, 0.0, smoothstep(0))
	assert.Equal(t, 1.0, smoothstep(1))
	assert.InDelta(t, 0.5, smoothstep(0.5), 1e-9)
	// Monotonic over the unit interval.
	prev := 0.0
	for i := 1; i <= 100; i++ {
		v := smoothstep(float64(i) / 100)
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}
}

func TestPlanPointerPath(t *testing.T) {
	from := schemas.Point{X: 10, Y: 20}
	to := schemas.Point{X: 640, Y: 410}

	t.Run("sample count follows duration", func(t *testing.T) {
		p := NewSeededPlanner(1)
		for _, d := range []float64{0.1, 0.25, 0.5, 0.77, 1, 1.5, 3} {
			path := p.PlanPointerPath(from, to, d)
			assert.Len(t, path, int(math.Round(d*SamplesPerSecond)), "duration %v", d)
		}
	})

	t.Run("final sample lands exactly on target", func(t *testing.T) {
		for seed := int64(0); seed < 50; seed++ {
			path := NewSeededPlanner(seed).PlanPointerPath(from, to, 0.8)
			require.NotEmpty(t, path)
			assert.Equal(t, to, path[len(path)-1].Point)
		}
	})

	t.Run("intermediate samples stay within jitter of the curve", func(t *testing.T) {
		path := NewSeededPlanner(7).PlanPointerPath(from, to, 1)
		n := len(path)
		for i, s := range path[:n-1] {
			e := smoothstep(float64(i+1) / float64(n))
			assert.InDelta(t, from.X+(to.X-from.X)*e, s.Point.X, 2.0001)
			assert.InDelta(t, from.Y+(to.Y-from.Y)*e, s.Point.Y, 2.0001)
		}
	})

	t.Run("delays split the duration evenly", func(t *testing.T) {
		path := NewSeededPlanner(3).PlanPointerPath(from, to, 0.5)
		var total time.Duration
		for _, s := range path {
			total += s.Delay
		}
		assert.InDelta(t, float64(500*time.Millisecond), float64(total), float64(time.Millisecond))
	})

	t.Run("zero duration yields no samples", func(t *testing.T) {
		assert.Empty(t, NewSeededPlanner(1).PlanPointerPath(from, to, 0))
	})

	t.Run("deterministic for a seed", func(t *testing.T) {
		a := NewSeededPlanner(42).PlanPointerPath(from, to, 0.6)
		b := NewSeededPlanner(42).PlanPointerPath(from, to, 0.6)
		assert.Equal(t, a, b)
	})
}

func TestPlanKeystrokes(t *testing.T) {
	const minMs, maxMs = 50, 150

	t.Run("one keystroke per character with bounded delays", func(t *testing.T) {
		text := "correct horse battery staple, ünïcode"
		for seed := int64(0); seed < 20; seed++ {
			plan := NewSeededPlanner(seed).PlanKeystrokes(text, minMs, maxMs)
			require.Len(t, plan, len([]rune(text)))
			for i, ks := range plan {
				assert.Equal(t, []rune(text)[i], ks.Char)
				if ks.ThinkingPause {
					assert.Greater(t, ks.Delay, maxMs*time.Millisecond)
					continue
				}
				assert.GreaterOrEqual(t, ks.Delay, minMs*time.Millisecond)
				assert.LessOrEqual(t, ks.Delay, maxMs*time.Millisecond)
			}
		}
	})

	t.Run("thinking pauses occur at roughly the configured rate", func(t *testing.T) {
		text := make([]rune, 5000)
		for i := range text {
			text[i] = 'a'
		}
		plan := NewSeededPlanner(99).PlanKeystrokes(string(text), minMs, maxMs)
		pauses := 0
		for _, ks := range plan {
			if ks.ThinkingPause {
				pauses++
			}
		}
		assert.InDelta(t, 0.1, float64(pauses)/float64(len(plan)), 0.03)
	})

	t.Run("thinking pause exceeds a large max delay", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Seed = 5
		cfg.ThinkingPauseProbability = 1
		plan := NewPlanner(cfg).PlanKeystrokes("abc", 900, 1000)
		for _, ks := range plan {
			assert.True(t, ks.ThinkingPause)
			assert.Greater(t, ks.Delay, 1000*time.Millisecond)
		}
	})

	t.Run("thinking pause is longer than max delay even with a zero pause range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Seed = 3
		cfg.ThinkingPauseProbability = 1
		cfg.ThinkingPauseMinMs = 0
		cfg.ThinkingPauseMaxMs = 0
		for _, ks := range NewPlanner(cfg).PlanKeystrokes("abc", minMs, maxMs) {
			assert.True(t, ks.ThinkingPause)
			assert.Greater(t, ks.Delay, maxMs*time.Millisecond)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		assert.Empty(t, NewSeededPlanner(1).PlanKeystrokes("", minMs, maxMs))
	})

	t.Run("inverted bounds are normalised", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Seed = 2
		cfg.ThinkingPauseProbability = 0
		for _, ks := range NewPlanner(cfg).PlanKeystrokes("hello", 200, 100) {
			assert.GreaterOrEqual(t, ks.Delay, 100*time.Millisecond)
			assert.LessOrEqual(t, ks.Delay, 200*time.Millisecond)
		}
	})
}

func TestPlanScroll(t *testing.T) {
	sum := func(plan []ScrollStep) float64 {
		total := 0.0
		for _, s := range plan {
			total += s.Delta
		}
		return total
	}

	t.Run("deltas add up to the distance", func(t *testing.T) {
		for seed := int64(0); seed < 30; seed++ {
			p := NewSeededPlanner(seed)
			assert.InDelta(t, 2400.0, sum(p.PlanScroll(0, 2400)), 1e-6)
			assert.InDelta(t, -730.0, sum(p.PlanScroll(1000, 270)), 1e-6)
		}
	})

	t.Run("chunks are variable and bounded", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Seed = 11
		cfg.MicroAdjustProbability = 0
		plan := NewPlanner(cfg).PlanScroll(0, 5000)
		seen := map[float64]bool{}
		for i, s := range plan {
			if i < len(plan)-1 {
				assert.GreaterOrEqual(t, s.Delta, cfg.ScrollChunkMin)
			}
			assert.LessOrEqual(t, s.Delta, cfg.ScrollChunkMax)
			seen[s.Delta] = true
		}
		assert.Greater(t, len(seen), 1)
	})

	t.Run("corrections scroll against the direction of travel", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Seed = 4
		cfg.MicroAdjustProbability = 1
		plan := NewPlanner(cfg).PlanScroll(0, 1000)
		corrections := 0
		for _, s := range plan {
			if s.Correction {
				corrections++
				assert.Less(t, s.Delta, 0.0)
				assert.GreaterOrEqual(t, -s.Delta, cfg.MicroAdjustMin)
				assert.LessOrEqual(t, -s.Delta, cfg.MicroAdjustMax)
			}
		}
		assert.Positive(t, corrections)
		assert.InDelta(t, 1000.0, sum(plan), 1e-6)
	})

	t.Run("reading pauses are long", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Seed = 8
		cfg.ReadingPauseProbability = 1
		for _, s := range NewPlanner(cfg).PlanScroll(0, 600) {
			require.True(t, s.Reading)
			assert.GreaterOrEqual(t, s.Delay, cfg.ReadingPauseMin+cfg.ScrollDelayMin)
		}
	})

	t.Run("no distance no plan", func(t *testing.T) {
		assert.Empty(t, NewSeededPlanner(1).PlanScroll(300, 300))
	})
}
