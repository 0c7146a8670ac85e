// Package login performs an interactive sign-in when no saved session works.
package login

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/classifier"
	"github.com/xkilldash9x/gatewalk/internal/config"
	"github.com/xkilldash9x/gatewalk/internal/humanoid"
)

var (
	ErrMissingCredentials = errors.New("login credentials are not configured")
	ErrLoginTimeout       = errors.New("timed out waiting for manual login")
)

// Authenticator signs in either by typing configured credentials or by
// waiting for an operator to do it in the visible browser.
type Authenticator struct {
	cfg        config.LoginConfig
	classifier *classifier.Classifier
	human      *humanoid.Humanoid
	logger     *zap.Logger
}

// New creates an Authenticator.
func New(cfg config.LoginConfig, c *classifier.Classifier, h *humanoid.Humanoid, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{cfg: cfg, classifier: c, human: h, logger: logger.Named("login")}
}

// Login opens the login page and signs in. In credentials mode it returns once
// the form is submitted; whatever the site shows next (feed, checkpoint,
// challenge) is for the caller to inspect.
func (a *Authenticator) Login(ctx context.Context, s schemas.BrowserSurface) error {
	if err := s.Navigate(ctx, a.cfg.URL); err != nil {
		return fmt.Errorf("opening login page: %w", err)
	}
	if err := a.human.Pause(ctx, a.cfg.SettleDelay); err != nil {
		return err
	}
	if a.classifier.IsAuthenticated(ctx, s) {
		a.logger.Info("Already signed in")
		return nil
	}

	switch a.cfg.Mode {
	case config.LoginModeCredentials:
		return a.loginWithCredentials(ctx, s)
	default:
		return a.waitForOperator(ctx, s)
	}
}

func (a *Authenticator) loginWithCredentials(ctx context.Context, s schemas.BrowserSurface) error {
	if a.cfg.Username == "" || a.cfg.Password == "" {
		return ErrMissingCredentials
	}
	a.logger.Info("Signing in with configured credentials", zap.String("url", a.cfg.URL))

	if err := a.human.Type(ctx, s, a.cfg.UsernameSelector, a.cfg.Username); err != nil {
		return fmt.Errorf("entering username: %w", err)
	}
	if err := a.human.Pause(ctx, a.human.Planner().ClickDelay()); err != nil {
		return err
	}
	if err := a.human.Type(ctx, s, a.cfg.PasswordSelector, a.cfg.Password); err != nil {
		return fmt.Errorf("entering password: %w", err)
	}

	submitted := false
	if a.cfg.SubmitSelector != "" {
		el, err := s.QueryOne(ctx, a.cfg.SubmitSelector)
		if err == nil && el != nil && el.Visible {
			if err := a.human.ClickElement(ctx, s, *el); err != nil {
				return fmt.Errorf("clicking submit: %w", err)
			}
			submitted = true
		}
	}
	if !submitted {
		if err := s.PressKey(ctx, schemas.KeyEnter); err != nil {
			return fmt.Errorf("submitting login form: %w", err)
		}
	}

	if err := a.human.Pause(ctx, a.cfg.SettleDelay); err != nil {
		return err
	}
	current, _ := s.CurrentURL(ctx)
	a.logger.Info("Login form submitted", zap.String("landed", current))
	return nil
}

// waitForOperator polls until the page shows a signed-in state or ManualTimeout passes.
func (a *Authenticator) waitForOperator(ctx context.Context, s schemas.BrowserSurface) error {
	interval := a.cfg.PollInterval
	if interval <= 0 {
		interval = config.Default().Login.PollInterval
	}
	polls := int(a.cfg.ManualTimeout / interval)
	if polls < 1 {
		polls = 1
	}
	a.logger.Info("Waiting for manual login in the browser window", zap.Duration("timeout", a.cfg.ManualTimeout))

	for i := 0; i < polls; i++ {
		if err := a.human.Pause(ctx, interval); err != nil {
			return err
		}
		current, _ := s.CurrentURL(ctx)
		if a.classifier.IsAuthenticated(ctx, s) || a.classifier.IsContentURL(current) {
			a.logger.Info("Manual login detected", zap.String("url", current))
			return nil
		}
	}
	return fmt.Errorf("%w after %s", ErrLoginTimeout, a.cfg.ManualTimeout)
}
