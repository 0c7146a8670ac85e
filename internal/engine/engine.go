// Package engine exposes the single caller-facing operation: make sure the
// browser is signed in, past any challenge and showing the requested page.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/classifier"
	"github.com/xkilldash9x/gatewalk/internal/config"
	"github.com/xkilldash9x/gatewalk/internal/guardian"
	"github.com/xkilldash9x/gatewalk/internal/humanoid"
	"github.com/xkilldash9x/gatewalk/internal/login"
	"github.com/xkilldash9x/gatewalk/internal/resolver"
	"github.com/xkilldash9x/gatewalk/internal/session"
)

// -- Interfaces for Dependency Inversion --

// Classifier reads the page state.
type Classifier interface {
	Classify(ctx context.Context, s schemas.BrowserSurface) schemas.ChallengeVerdict
	Widget(ctx context.Context, s schemas.BrowserSurface) (schemas.ChallengeKind, []string)
	IsAuthenticated(ctx context.Context, s schemas.BrowserSurface) bool
	IsContentURL(url string) bool
}

// Resolver works a challenge until it clears or the budget runs out.
type Resolver interface {
	Resolve(ctx context.Context, s schemas.BrowserSurface, verdict schemas.ChallengeVerdict) resolver.Resolution
}

// Navigator performs verified navigation.
type Navigator interface {
	GotoVerified(ctx context.Context, s schemas.BrowserSurface, target string, maxRetries int) bool
	VerifyCurrent(ctx context.Context, s schemas.BrowserSurface) bool
	RecoverContinueURL(ctx context.Context, s schemas.BrowserSurface) bool
}

// Sessions restores and saves authenticated state.
type Sessions interface {
	Restore(ctx context.Context, s schemas.BrowserSurface) bool
	Persist(ctx context.Context, s schemas.BrowserSurface) error
}

// Authenticator performs an interactive login.
type Authenticator interface {
	Login(ctx context.Context, s schemas.BrowserSurface) error
}

// Components are the collaborators the engine sequences.
type Components struct {
	Classifier    Classifier
	Resolver      Resolver
	Navigator     Navigator
	Sessions      Sessions
	Authenticator Authenticator
}

// Engine holds no browser state between calls.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger
	Components
}

// New wires the default components from cfg. oracle may be nil, in which case
// every grid puzzle is submitted without a selection.
func New(cfg *config.Config, oracle schemas.PerceptionOracle, h *humanoid.Humanoid, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if h == nil {
		h = humanoid.New(cfg.Browser.Humanoid, logger)
	}
	c := classifier.New(cfg.Classifier, logger)
	return NewWithComponents(cfg, Components{
		Classifier:    c,
		Resolver:      resolver.New(cfg.Resolver, c, oracle, h, logger),
		Navigator:     guardian.New(cfg.Guardian, c, h, logger),
		Sessions:      session.NewManager(cfg.Session, cfg.Target.Domain, c, h, cfg.Guardian.SettleDelay, logger),
		Authenticator: login.New(cfg.Login, c, h, logger),
	}, logger)
}

// NewWithComponents creates an Engine from explicit collaborators.
func NewWithComponents(cfg *config.Config, comps Components, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "engine")),
		Components: comps,
	}
}

// run carries the per-call state.
type run struct {
	log      *zap.Logger
	out      schemas.Outcome
	loggedIn bool
}

// EnsureAuthenticatedAndChallengeFree restores or creates an authenticated
// session, navigates to target, and resolves any challenge in the way. It
// never returns an error; the Outcome says how far it got. An empty target
// means the configured target URL.
func (e *Engine) EnsureAuthenticatedAndChallengeFree(ctx context.Context, s schemas.BrowserSurface, target string) schemas.Outcome {
	if target == "" {
		target = e.cfg.Target.URL
	}
	r := &run{out: schemas.Outcome{RunID: uuid.NewString(), ChallengeResolved: true}}
	r.log = e.logger.With(zap.String("run_id", r.out.RunID), zap.String("target", target))
	r.log.Info("Run started")

	if timeout := e.cfg.Target.RunTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r.out.SessionRestored = e.Sessions.Restore(ctx, s)
	if !r.out.SessionRestored {
		r.log.Info("No usable session, cold start")
	}

	reached := e.Navigator.GotoVerified(ctx, s, target, e.cfg.Guardian.MaxRetries)
	if !reached && ctx.Err() == nil {
		r.log.Info("Target is behind a login wall, signing in")
		if err := e.Authenticator.Login(ctx, s); err != nil {
			r.log.Warn("Interactive login failed", zap.Error(err))
		} else {
			r.loggedIn = true
			r.out.LoggedIn = true
			e.clearChallenge(ctx, s, r)
			reached = e.Navigator.GotoVerified(ctx, s, target, e.cfg.Guardian.MaxRetries)
		}
	}

	if reached {
		e.clearChallenge(ctx, s, r)
	}
	verified := reached && e.Navigator.VerifyCurrent(ctx, s)

	final := e.Classifier.Classify(ctx, s)
	r.out.FinalURL, _ = s.CurrentURL(ctx)
	r.out.Success = verified && !final.Kind.IsChallenge() && final.Kind != schemas.LoginWall

	if r.loggedIn && r.out.Success && (e.Classifier.IsAuthenticated(ctx, s) || e.Classifier.IsContentURL(r.out.FinalURL)) {
		persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer persistCancel()
		if err := e.Sessions.Persist(persistCtx, s); err != nil {
			r.log.Warn("Could not save session", zap.Error(err))
		}
	}

	r.log.Info("Run finished",
		zap.Bool("success", r.out.Success),
		zap.String("final_url", r.out.FinalURL),
		zap.Bool("session_restored", r.out.SessionRestored),
		zap.Bool("logged_in", r.out.LoggedIn),
		zap.Bool("challenge_resolved", r.out.ChallengeResolved),
		zap.Int("attempts", len(r.out.Attempts)))
	return r.out
}

// clearChallenge classifies the page and runs the resolver when a challenge is
// showing. A login-path URL that carries a widget, such as a checkpoint page,
// is treated as the widget. After an exhausted resolver the continue URL of an
// interstitial is tried.
func (e *Engine) clearChallenge(ctx context.Context, s schemas.BrowserSurface, r *run) {
	if ctx.Err() != nil {
		return
	}
	verdict := e.Classifier.Classify(ctx, s)
	if verdict.Kind == schemas.LoginWall {
		if widget, evidence := e.Classifier.Widget(ctx, s); widget != schemas.NoChallenge {
			verdict = schemas.ChallengeVerdict{Kind: widget, Evidence: evidence}
		}
	}
	if !verdict.Kind.IsChallenge() {
		return
	}

	r.log.Info("Challenge detected", zap.String("kind", string(verdict.Kind)), zap.Strings("evidence", verdict.Evidence))
	res := e.Resolver.Resolve(ctx, s, verdict)
	r.out.Attempts = append(r.out.Attempts, res.Attempts...)
	if res.Resolved {
		return
	}

	r.out.ChallengeResolved = false
	if e.Navigator.RecoverContinueURL(ctx, s) {
		if after := e.Classifier.Classify(ctx, s); !after.Kind.IsChallenge() {
			r.log.Info("Left the interstitial through its continue URL")
			r.out.ChallengeResolved = true
		}
	}
}
