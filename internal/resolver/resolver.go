// Package resolver drives a classified challenge towards resolution with
// bounded rounds, escalating checkbox strategies and oracle-guided puzzle clicks.
package resolver

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/classifier"
	"github.com/xkilldash9x/gatewalk/internal/config"
	"github.com/xkilldash9x/gatewalk/internal/humanoid"
)

// State is a resolver state machine state.
type State string

const (
	StateIdle               State = "IDLE"
	StateAttemptingCheckbox State = "ATTEMPTING_CHECKBOX"
	StateAttemptingPuzzle   State = "ATTEMPTING_PUZZLE"
	StateVerifying          State = "VERIFYING"
	StateResolved           State = "RESOLVED"
	StateExhausted          State = "EXHAUSTED"
)

const checkedPollInterval = 250 * time.Millisecond

// Resolution is the result of a Resolve call. Exhaustion is reported here, never as an error.
type Resolution struct {
	Resolved bool                        `json:"resolved"`
	State    State                       `json:"state"`
	Rounds   int                         `json:"rounds"`
	Attempts []schemas.ResolutionAttempt `json:"attempts,omitempty"`
}

// Resolver owns no browser state; the surface is borrowed for each Resolve call.
type Resolver struct {
	cfg        config.ResolverConfig
	classifier *classifier.Classifier
	oracle     schemas.PerceptionOracle
	human      *humanoid.Humanoid
	logger     *zap.Logger
	rng        *rand.Rand
}

// New creates a Resolver. oracle may be nil, in which case every puzzle is an abstention.
func New(cfg config.ResolverConfig, c *classifier.Classifier, oracle schemas.PerceptionOracle, h *humanoid.Humanoid, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CheckboxRounds < 1 {
		cfg.CheckboxRounds = 1
	}
	if cfg.PuzzleRounds < 1 {
		cfg.PuzzleRounds = 1
	}
	return &Resolver{
		cfg:        cfg,
		classifier: c,
		oracle:     oracle,
		human:      h,
		logger:     logger.Named("resolver"),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// round tracks one pass of the state machine.
type round struct {
	n        int
	state    State
	attempts []schemas.ResolutionAttempt
}

func (rd *round) record(strategy schemas.Strategy, outcome schemas.AttemptOutcome, detail string) {
	rd.attempts = append(rd.attempts, schemas.ResolutionAttempt{Round: rd.n, Strategy: strategy, Outcome: outcome, Detail: detail})
}

// Resolve runs Idle -> Attempting* -> Verifying until the page is clear or the
// round budget for the challenge is spent. Every failure inside a round is
// recorded as an attempt and the next round starts.
func (r *Resolver) Resolve(ctx context.Context, s schemas.BrowserSurface, verdict schemas.ChallengeVerdict) Resolution {
	res := Resolution{State: StateIdle}
	if verdict.Kind == schemas.NoChallenge {
		res.Resolved = true
		res.State = StateResolved
		return res
	}
	if !verdict.Kind.IsChallenge() {
		r.logger.Debug("Nothing for the resolver to do", zap.String("kind", string(verdict.Kind)))
		return res
	}

	kind := verdict.Kind
	budget := r.budgetFor(kind)
	r.logger.Info("Engaging challenge", zap.String("kind", string(kind)), zap.Int("budget", budget))

	for n := 1; n <= budget; n++ {
		if ctx.Err() != nil {
			break
		}
		rd := &round{n: n, state: StateIdle}

		switch kind {
		case schemas.GridPuzzleChallenge:
			r.transition(rd, StateAttemptingPuzzle)
			r.attemptPuzzle(ctx, s, rd)
		default:
			r.transition(rd, StateAttemptingCheckbox)
			if !r.attemptCheckbox(ctx, s, rd) {
				if widget, _ := r.classifier.Widget(ctx, s); widget == schemas.GridPuzzleChallenge {
					budget = max(budget, r.cfg.PuzzleRounds)
					r.transition(rd, StateAttemptingPuzzle)
					r.attemptPuzzle(ctx, s, rd)
				}
			}
		}

		r.transition(rd, StateVerifying)
		res.Rounds = n
		resolved, next := r.verify(ctx, s)
		res.Attempts = append(res.Attempts, rd.attempts...)
		if resolved {
			res.Resolved = true
			res.State = StateResolved
			r.logger.Info("Challenge resolved", zap.Int("round", n))
			return res
		}
		if next == schemas.GridPuzzleChallenge {
			budget = max(budget, r.cfg.PuzzleRounds)
		}
		kind = next

		if n < budget {
			wait := r.interAttemptDelay()
			r.logger.Info("Round failed, backing off",
				zap.Int("round", n), zap.Int("budget", budget),
				zap.String("next", string(kind)), zap.Duration("wait", wait))
			if err := r.human.Pause(ctx, wait); err != nil {
				break
			}
		}
	}

	res.State = StateExhausted
	r.logger.Warn("Challenge not resolved, continuing anyway", zap.Int("rounds", res.Rounds))
	return res
}

func (r *Resolver) budgetFor(kind schemas.ChallengeKind) int {
	if kind == schemas.GridPuzzleChallenge {
		return r.cfg.PuzzleRounds
	}
	return r.cfg.CheckboxRounds
}

func (r *Resolver) transition(rd *round, to State) {
	r.logger.Debug("State transition", zap.Int("round", rd.n), zap.String("from", string(rd.state)), zap.String("to", string(to)))
	rd.state = to
}

// attemptCheckbox runs the strategies in order until one lands a click, then
// waits for the checked marker. It reports whether the widget shows as checked.
func (r *Resolver) attemptCheckbox(ctx context.Context, s schemas.BrowserSurface, rd *round) bool {
	for _, strategy := range r.checkboxStrategies() {
		if ctx.Err() != nil {
			return false
		}
		outcome, detail := strategy.run(ctx, s)
		rd.record(strategy.name, outcome, detail)
		r.logger.Info("Checkbox strategy finished",
			zap.Int("round", rd.n), zap.String("strategy", string(strategy.name)),
			zap.String("outcome", string(outcome)), zap.String("detail", detail))
		if outcome == schemas.AttemptSuccess {
			return r.waitChecked(ctx, s)
		}
	}
	return false
}

// waitChecked polls the widget frames for a checked marker for up to CheckedTimeout.
func (r *Resolver) waitChecked(ctx context.Context, s schemas.BrowserSurface) bool {
	polls := int(r.cfg.CheckedTimeout/checkedPollInterval) + 1
	for i := 0; i < polls; i++ {
		for _, frame := range r.cfg.CheckboxFrameSelectors {
			if _, ok := firstVisibleInFrame(ctx, s, frame, r.cfg.CheckedSelectors); ok {
				r.logger.Debug("Checkbox shows as checked", zap.String("frame", frame))
				return true
			}
		}
		if _, ok := firstVisible(ctx, s, r.cfg.CheckedSelectors); ok {
			return true
		}
		if i < polls-1 {
			if err := r.human.Pause(ctx, checkedPollInterval); err != nil {
				return false
			}
		}
	}
	return false
}

// attemptPuzzle screenshots the puzzle, asks the oracle for regions, clicks the
// surviving ones and submits. An oracle failure is an abstention.
func (r *Resolver) attemptPuzzle(ctx context.Context, s schemas.BrowserSurface, rd *round) {
	frameSel, frame, hasFrame := r.puzzleFrame(ctx, s)

	regions := 9
	if r.isFourByFour(ctx, s, frameSel) {
		regions = 16
	}
	pc := schemas.PromptContext{GridSize: regions, Hint: r.instructionHint(ctx, s, frameSel)}

	var clip *schemas.Box
	origin := schemas.Point{}
	if hasFrame {
		box := frame.Box
		clip = &box
		origin = schemas.Point{X: box.X, Y: box.Y}
	}

	var tiles []int
	var verdictNote string
	if r.oracle == nil {
		verdictNote = "no oracle configured"
	} else if shot, err := s.Screenshot(ctx, clip); err != nil {
		verdictNote = fmt.Sprintf("screenshot failed: %v", err)
	} else if analysis, err := r.oracle.ClassifyRegions(ctx, shot, pc); err != nil {
		verdictNote = fmt.Sprintf("oracle failed: %v", err)
		r.logger.Warn("Oracle failed, abstaining", zap.Int("round", rd.n), zap.Error(err))
	} else {
		tiles = analysis.MatchingRegionIDs
		verdictNote = fmt.Sprintf("instruction %q, regions %v", analysis.InstructionText, tiles)
	}

	layout := r.cfg.Grid3x3
	if regions == 16 {
		layout = r.cfg.Grid4x4
	}
	for _, id := range tiles {
		p, err := TileCenter(id, regions, layout, origin)
		if err != nil {
			r.logger.Warn("Skipping region", zap.Int("region", id), zap.Error(err))
			continue
		}
		if err := r.human.Click(ctx, s, fmt.Sprintf("region-%d", id), p); err != nil {
			rd.record(schemas.StrategyPuzzleOracle, schemas.AttemptFailed, fmt.Sprintf("%s; clicking region %d: %v", verdictNote, id, err))
			return
		}
		if err := r.human.Pause(ctx, r.between(300*time.Millisecond, 700*time.Millisecond)); err != nil {
			rd.record(schemas.StrategyPuzzleOracle, schemas.AttemptFailed, err.Error())
			return
		}
	}

	if len(tiles) == 0 && !r.cfg.SubmitOnAbstain {
		if r.clickControl(ctx, s, frameSel, r.cfg.ReloadSelectors) {
			rd.record(schemas.StrategyPuzzleOracle, schemas.AttemptNotFound, verdictNote+"; requested a new puzzle")
		} else {
			rd.record(schemas.StrategyPuzzleOracle, schemas.AttemptFailed, verdictNote+"; reload control not found")
		}
		return
	}

	if !r.clickControl(ctx, s, frameSel, r.cfg.VerifySelectors) {
		rd.record(schemas.StrategyPuzzleOracle, schemas.AttemptFailed, verdictNote+"; verify control not found")
		return
	}
	outcome := schemas.AttemptSuccess
	if len(tiles) == 0 {
		outcome = schemas.AttemptNotFound
		verdictNote += "; submitted without selecting"
	}
	rd.record(schemas.StrategyPuzzleOracle, outcome, verdictNote)
}

// puzzleFrame finds the visible puzzle frame element and the selector that matched it.
func (r *Resolver) puzzleFrame(ctx context.Context, s schemas.BrowserSurface) (string, schemas.Element, bool) {
	for _, sel := range r.cfg.PuzzleFrameSelectors {
		if el, ok := firstVisible(ctx, s, []string{sel}); ok {
			return sel, el, true
		}
	}
	return "", schemas.Element{}, false
}

func (r *Resolver) isFourByFour(ctx context.Context, s schemas.BrowserSurface, frameSel string) bool {
	if frameSel != "" {
		for _, sel := range r.cfg.Grid4x4Selectors {
			if els, err := s.QueryInFrame(ctx, frameSel, sel); err == nil && len(els) > 0 {
				return true
			}
		}
	}
	for _, sel := range r.cfg.Grid4x4Selectors {
		if el, err := s.QueryOne(ctx, sel); err == nil && el != nil {
			return true
		}
	}
	return false
}

// instructionHint reads the instruction text shown above the grid, if any.
func (r *Resolver) instructionHint(ctx context.Context, s schemas.BrowserSurface, frameSel string) string {
	if frameSel != "" {
		if el, ok := firstVisibleInFrame(ctx, s, frameSel, r.cfg.InstructionSelectors); ok && el.Text != "" {
			return el.Text
		}
	}
	if el, ok := firstVisible(ctx, s, r.cfg.InstructionSelectors); ok {
		return el.Text
	}
	return ""
}

// clickControl clicks the first visible match for selectors, inside the puzzle
// frame first and then in the top document.
func (r *Resolver) clickControl(ctx context.Context, s schemas.BrowserSurface, frameSel string, selectors []string) bool {
	var (
		el schemas.Element
		ok bool
	)
	if frameSel != "" {
		el, ok = firstVisibleInFrame(ctx, s, frameSel, selectors)
	}
	if !ok {
		el, ok = firstVisible(ctx, s, selectors)
	}
	if !ok {
		return false
	}
	if err := r.human.ClickElement(ctx, s, el); err != nil {
		r.logger.Warn("Control click failed", zap.String("selector", el.Selector), zap.Error(err))
		return false
	}
	return true
}

// verify waits for the page to settle and reclassifies it. When the page is
// not clear it also returns the kind to attack in the next round.
func (r *Resolver) verify(ctx context.Context, s schemas.BrowserSurface) (bool, schemas.ChallengeKind) {
	if err := r.human.Pause(ctx, r.cfg.SettleDelay); err != nil {
		return false, schemas.UnknownChallenge
	}

	v := r.classifier.Classify(ctx, s)
	url, _ := s.CurrentURL(ctx)
	if v.Kind == schemas.NoChallenge || r.classifier.IsContentURL(url) {
		return true, schemas.NoChallenge
	}
	if el, ok := firstVisible(ctx, s, r.cfg.SuccessSelectors); ok {
		r.logger.Debug("Success indicator present", zap.String("selector", el.Selector))
		return true, schemas.NoChallenge
	}

	if v.Kind.IsChallenge() {
		return false, v.Kind
	}
	// A login-path URL can still carry a widget.
	if widget, _ := r.classifier.Widget(ctx, s); widget != schemas.NoChallenge {
		return false, widget
	}
	return false, schemas.UnknownChallenge
}

func (r *Resolver) interAttemptDelay() time.Duration {
	return r.between(r.cfg.InterAttemptMin, r.cfg.InterAttemptMax)
}

func (r *Resolver) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.rng.Int63n(int64(hi-lo)))
}
