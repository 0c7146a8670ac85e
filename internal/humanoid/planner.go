package humanoid

import (
	"math"
	"math/rand"
	"time"

	"github.com/xkilldash9x/gatewalk/api/schemas"
)

// maxScrollSteps bounds a scroll plan in case of a degenerate configuration.
const maxScrollSteps = 10000

// PathSample is one frame of a planned pointer movement.
type PathSample struct {
	Point schemas.Point
	// Delay is the wait after moving to Point.
	Delay time.Duration
}

// Keystroke is one planned character with the pause that follows it.
type Keystroke struct {
	Char          rune
	Delay         time.Duration
	ThinkingPause bool
}

// ScrollStep is one planned wheel chunk. Delta is signed, positive scrolls down.
type ScrollStep struct {
	Delta      float64
	Delay      time.Duration
	Reading    bool
	Correction bool
}

// Planner produces input plans. It performs no I/O and, given the same
// seed and inputs, always returns the same plans.
type Planner struct {
	cfg Config
	rng *rand.Rand
}

// NewPlanner creates a planner from the config's random source.
func NewPlanner(cfg Config) *Planner {
	return &Planner{cfg: cfg, rng: cfg.newRand()}
}

// NewSeededPlanner creates a planner with the default config and a fixed seed.
func NewSeededPlanner(seed int64) *Planner {
	cfg := DefaultConfig()
	cfg.Rng = rand.New(rand.NewSource(seed))
	return NewPlanner(cfg)
}

// smoothstep is the cubic ease-in-ease-out curve t²(3-2t).
func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

// PlanPointerPath interpolates from -> to over durationSeconds at SamplesPerSecond.
// Every sample but the last carries uniform jitter; the last is exactly to.
func (p *Planner) PlanPointerPath(from, to schemas.Point, durationSeconds float64) []PathSample {
	n := int(math.Round(durationSeconds * SamplesPerSecond))
	if n <= 0 {
		return nil
	}
	interval := time.Duration(durationSeconds / float64(n) * float64(time.Second))

	path := make([]PathSample, 0, n)
	for i := 1; i <= n; i++ {
		if i == n {
			path = append(path, PathSample{Point: to, Delay: interval})
			break
		}
		e := smoothstep(float64(i) / float64(n))
		pt := schemas.Point{
			X: from.X + (to.X-from.X)*e + p.jitter(),
			Y: from.Y + (to.Y-from.Y)*e + p.jitter(),
		}
		path = append(path, PathSample{Point: pt, Delay: interval})
	}
	return path
}

func (p *Planner) jitter() float64 {
	return (p.rng.Float64()*2 - 1) * p.cfg.JitterPx
}

// PlanKeystrokes returns one keystroke per character of text. Regular delays are
// uniform in [minDelayMs, maxDelayMs]; a thinking pause is stacked on top of
// maxDelayMs so it is always longer than any regular gap.
func (p *Planner) PlanKeystrokes(text string, minDelayMs, maxDelayMs int) []Keystroke {
	if minDelayMs < 0 {
		minDelayMs = 0
	}
	if maxDelayMs < minDelayMs {
		minDelayMs, maxDelayMs = maxDelayMs, minDelayMs
		if minDelayMs < 0 {
			minDelayMs = 0
		}
	}

	runes := []rune(text)
	plan := make([]Keystroke, 0, len(runes))
	for _, r := range runes {
		delayMs := minDelayMs + p.rng.Intn(maxDelayMs-minDelayMs+1)
		ks := Keystroke{Char: r}
		if p.rng.Float64() < p.cfg.ThinkingPauseProbability {
			delayMs = maxDelayMs + p.intBetween(max(p.cfg.ThinkingPauseMinMs, 1), max(p.cfg.ThinkingPauseMaxMs, 1))
			ks.ThinkingPause = true
		}
		ks.Delay = time.Duration(delayMs) * time.Millisecond
		plan = append(plan, ks)
	}
	return plan
}

// PlanScroll approaches to from from in variable chunks. Occasionally it scrolls
// back a little mid-way and re-covers the distance, and occasionally it lingers to read.
// The deltas always sum to to-from.
func (p *Planner) PlanScroll(from, to float64) []ScrollStep {
	distance := to - from
	if distance == 0 {
		return nil
	}
	dir := 1.0
	if distance < 0 {
		dir = -1
	}
	remaining := math.Abs(distance)

	var plan []ScrollStep
	for remaining > 0 && len(plan) < maxScrollSteps {
		chunk := math.Min(p.floatBetween(p.cfg.ScrollChunkMin, p.cfg.ScrollChunkMax), remaining)
		if chunk <= 0 {
			chunk = remaining
		}
		step := ScrollStep{Delta: dir * chunk, Delay: p.durationBetween(p.cfg.ScrollDelayMin, p.cfg.ScrollDelayMax)}
		if p.rng.Float64() < p.cfg.ReadingPauseProbability {
			step.Delay += p.durationBetween(p.cfg.ReadingPauseMin, p.cfg.ReadingPauseMax)
			step.Reading = true
		}
		plan = append(plan, step)
		remaining -= chunk

		if remaining > 0 && p.rng.Float64() < p.cfg.MicroAdjustProbability {
			adj := p.floatBetween(p.cfg.MicroAdjustMin, p.cfg.MicroAdjustMax)
			if adj > 0 {
				plan = append(plan, ScrollStep{
					Delta:      -dir * adj,
					Delay:      p.durationBetween(p.cfg.ScrollDelayMin, p.cfg.ScrollDelayMax),
					Correction: true,
				})
				remaining += adj
			}
		}
	}
	if remaining > 0 {
		plan = append(plan, ScrollStep{Delta: dir * remaining})
	}
	return plan
}

// MoveDuration picks a movement time in seconds, shorter for short hops.
func (p *Planner) MoveDuration(from, to schemas.Point) float64 {
	base := p.durationBetween(p.cfg.MoveDurationMin, p.cfg.MoveDurationMax).Seconds()
	dist := math.Hypot(to.X-from.X, to.Y-from.Y)
	return base * math.Min(1, 0.4+dist/1000)
}

// ClickDelay picks the settle time between arriving and pressing.
func (p *Planner) ClickDelay() time.Duration {
	return p.durationBetween(p.cfg.ClickDelayMin, p.cfg.ClickDelayMax)
}

func (p *Planner) intBetween(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + p.rng.Intn(hi-lo+1)
}

func (p *Planner) floatBetween(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + p.rng.Float64()*(hi-lo)
}

func (p *Planner) durationBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.rng.Int63n(int64(hi-lo)+1))
}
