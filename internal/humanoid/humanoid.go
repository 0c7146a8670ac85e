package humanoid

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/api/schemas"
)

// driftInterval is how often the cursor is nudged while idling (20Hz).
const driftInterval = 50 * time.Millisecond

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Humanoid executes input plans against whatever surface it is handed.
// The only state it keeps between calls is where it left the cursor.
type Humanoid struct {
	// mu protects currentPos and the planner's random source.
	mu         sync.Mutex
	cfg        Config
	logger     *zap.Logger
	planner    *Planner
	sleep      SleepFunc
	currentPos schemas.Point
	noiseX     *perlin.Perlin
	noiseY     *perlin.Perlin
}

// New creates a Humanoid. The cursor is assumed to start at the origin.
func New(cfg Config, logger *zap.Logger) *Humanoid {
	if logger == nil {
		logger = zap.NewNop()
	}
	rng := cfg.newRand()
	cfg.Rng = rng
	seed := rng.Int63()

	// Standard Perlin parameters.
	alpha, beta, n := 2.0, 2.0, int32(3)

	return &Humanoid{
		cfg:     cfg,
		logger:  logger.Named("humanoid"),
		planner: NewPlanner(cfg),
		sleep:   Sleep,
		noiseX:  perlin.NewPerlin(alpha, beta, n, seed),
		noiseY:  perlin.NewPerlin(alpha, beta, n, seed+1),
	}
}

// NewTestHumanoid creates a deterministic Humanoid whose pauses return immediately.
func NewTestHumanoid(seed int64) *Humanoid {
	cfg := DefaultConfig()
	cfg.Rng = rand.New(rand.NewSource(seed))
	h := New(cfg, zap.NewNop())
	h.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return h
}

// SetSleep replaces the pause implementation.
func (h *Humanoid) SetSleep(fn SleepFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sleep = fn
}

// Position returns where the cursor was last moved to.
func (h *Humanoid) Position() schemas.Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos
}

// Planner exposes the underlying planner.
func (h *Humanoid) Planner() *Planner {
	return h.planner
}

// MoveTo glides the cursor to target along a planned path.
func (h *Humanoid) MoveTo(ctx context.Context, s schemas.BrowserSurface, target schemas.Point) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.moveTo(ctx, s, target)
}

// moveTo assumes the caller holds the lock.
func (h *Humanoid) moveTo(ctx context.Context, s schemas.BrowserSurface, target schemas.Point) error {
	duration := h.planner.MoveDuration(h.currentPos, target)
	path := h.planner.PlanPointerPath(h.currentPos, target, duration)
	if len(path) == 0 {
		path = []PathSample{{Point: target}}
	}

	h.logger.Debug("Moving pointer",
		zap.Float64("from_x", h.currentPos.X), zap.Float64("from_y", h.currentPos.Y),
		zap.Float64("to_x", target.X), zap.Float64("to_y", target.Y),
		zap.Int("samples", len(path)))

	for _, sample := range path {
		if err := s.MoveTo(ctx, sample.Point); err != nil {
			return fmt.Errorf("pointer move failed: %w", err)
		}
		h.currentPos = sample.Point
		if err := h.sleep(ctx, sample.Delay); err != nil {
			return err
		}
	}
	return nil
}

// Click moves to p, pauses briefly and presses the primary button there.
func (h *Humanoid) Click(ctx context.Context, s schemas.BrowserSurface, target string, p schemas.Point) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.moveTo(ctx, s, p); err != nil {
		return err
	}
	if err := h.sleep(ctx, h.planner.ClickDelay()); err != nil {
		return err
	}
	if err := s.Click(ctx, target, p); err != nil {
		return fmt.Errorf("click on %q failed: %w", target, err)
	}
	return nil
}

// ClickElement clicks the geometric center of el.
func (h *Humanoid) ClickElement(ctx context.Context, s schemas.BrowserSurface, el schemas.Element) error {
	return h.Click(ctx, s, el.Selector, el.Box.Center())
}

// Type focuses selector (when non-empty) with a click and types text with a planned cadence.
func (h *Humanoid) Type(ctx context.Context, s schemas.BrowserSurface, selector, text string) error {
	if selector != "" {
		el, err := s.QueryOne(ctx, selector)
		if err != nil {
			return fmt.Errorf("could not locate input %q: %w", selector, err)
		}
		if el == nil {
			return fmt.Errorf("input %q not found", selector)
		}
		if err := h.ClickElement(ctx, s, *el); err != nil {
			return err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	plan := h.planner.PlanKeystrokes(text, h.cfg.KeyDelayMinMs, h.cfg.KeyDelayMaxMs)
	for _, ks := range plan {
		if err := s.TypeText(ctx, "", string(ks.Char), 0); err != nil {
			return fmt.Errorf("typing failed: %w", err)
		}
		if err := h.sleep(ctx, ks.Delay); err != nil {
			return err
		}
	}
	return nil
}

// Scroll moves the page vertically by delta pixels in planned chunks.
func (h *Humanoid) Scroll(ctx context.Context, s schemas.BrowserSurface, delta float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	plan := h.planner.PlanScroll(0, delta)
	for _, step := range plan {
		if err := s.Evaluate(ctx, fmt.Sprintf("window.scrollBy(0, %.0f)", step.Delta), nil); err != nil {
			return fmt.Errorf("scroll step failed: %w", err)
		}
		if step.Reading {
			if err := h.hesitate(ctx, s, step.Delay); err != nil {
				return err
			}
			continue
		}
		if err := h.sleep(ctx, step.Delay); err != nil {
			return err
		}
	}
	return nil
}

// EnsureInView scrolls el into the middle band of the viewport when it sits outside it.
// It returns the element with its box shifted by the amount scrolled.
func (h *Humanoid) EnsureInView(ctx context.Context, s schemas.BrowserSurface, el schemas.Element) (schemas.Element, error) {
	var viewportHeight float64
	if err := s.Evaluate(ctx, "window.innerHeight", &viewportHeight); err != nil || viewportHeight <= 0 {
		// Without a viewport height there is nothing sensible to aim for.
		return el, nil
	}
	if el.Box.Y >= 0 && el.Box.Y+el.Box.Height <= viewportHeight {
		return el, nil
	}

	delta := el.Box.Y - viewportHeight/3
	if err := h.Scroll(ctx, s, delta); err != nil {
		return el, err
	}
	el.Box.Y -= delta
	return el, nil
}

// Pause waits for d without moving.
func (h *Humanoid) Pause(ctx context.Context, d time.Duration) error {
	return h.sleep(ctx, d)
}

// Hesitate idles for d while the cursor drifts around its current position.
func (h *Humanoid) Hesitate(ctx context.Context, s schemas.BrowserSurface, d time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hesitate(ctx, s, d)
}

// hesitate assumes the caller holds the lock. Elapsed time is accumulated from the
// planned intervals rather than the wall clock so the drift stays reproducible.
func (h *Humanoid) hesitate(ctx context.Context, s schemas.BrowserSurface, d time.Duration) error {
	start := h.currentPos
	const driftFrequency = 0.5 // Hz

	for elapsed := time.Duration(0); elapsed < d; elapsed += driftInterval {
		if err := ctx.Err(); err != nil {
			return err
		}
		secs := elapsed.Seconds()
		pos := schemas.Point{
			X: start.X + h.noiseX.Noise1D(secs*driftFrequency)*h.cfg.DriftAmplitude,
			Y: start.Y + h.noiseY.Noise1D(secs*driftFrequency)*h.cfg.DriftAmplitude,
		}
		if err := s.MoveTo(ctx, pos); err != nil {
			return fmt.Errorf("idle drift failed: %w", err)
		}
		h.currentPos = pos

		step := driftInterval
		if remaining := d - elapsed; remaining < step {
			step = remaining
		}
		if err := h.sleep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}
