// Package guardian wraps cross-page navigation with login-wall detection,
// overlay dismissal and back/reload recovery.
package guardian

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/classifier"
	"github.com/xkilldash9x/gatewalk/internal/config"
	"github.com/xkilldash9x/gatewalk/internal/humanoid"
)

// Guardian is the only component that moves the surface through its history.
type Guardian struct {
	cfg        config.GuardianConfig
	classifier *classifier.Classifier
	human      *humanoid.Humanoid
	logger     *zap.Logger
}

// New creates a Guardian.
func New(cfg config.GuardianConfig, c *classifier.Classifier, h *humanoid.Humanoid, logger *zap.Logger) *Guardian {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guardian{cfg: cfg, classifier: c, human: h, logger: logger.Named("guardian")}
}

// GotoVerified navigates to target and checks the result is not a login wall.
// A wall sends the surface back one step and the navigation is retried up to
// maxRetries times after the first attempt. It never resolves challenges itself.
func (g *Guardian) GotoVerified(ctx context.Context, s schemas.BrowserSurface, target string, maxRetries int) bool {
	attempts := max(maxRetries, 0) + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		log := g.logger.With(zap.String("url", target), zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		if err := s.Navigate(ctx, target); err != nil {
			log.Warn("Navigation failed", zap.Error(err))
			if err := g.human.Pause(ctx, g.cfg.SettleDelay); err != nil {
				return false
			}
			continue
		}
		if err := g.human.Pause(ctx, g.cfg.SettleDelay); err != nil {
			return false
		}
		g.DismissPopups(ctx, s, g.cfg.PopupPasses)

		wall, evidence := g.classifier.DetectLoginWall(ctx, s)
		if !wall {
			g.DismissPopups(ctx, s, 1)
			log.Info("Navigation verified")
			return true
		}

		current, _ := s.CurrentURL(ctx)
		log.Warn("Login wall after navigation", zap.String("landed", current), zap.Strings("evidence", evidence))
		if attempt == attempts {
			break
		}
		g.stepBack(ctx, s)
	}
	g.logger.Warn("Navigation retries exhausted", zap.String("url", target))
	return false
}

// VerifyCurrent runs the post-navigation checks on whatever page is showing.
func (g *Guardian) VerifyCurrent(ctx context.Context, s schemas.BrowserSurface) bool {
	g.DismissPopups(ctx, s, g.cfg.PopupPasses)
	wall, evidence := g.classifier.DetectLoginWall(ctx, s)
	if wall {
		g.logger.Info("Current page is behind a login wall", zap.Strings("evidence", evidence))
	}
	return !wall
}

func (g *Guardian) stepBack(ctx context.Context, s schemas.BrowserSurface) {
	if err := s.GoBack(ctx); err != nil {
		g.logger.Debug("Back navigation failed, reloading instead", zap.Error(err))
		if err := s.Reload(ctx); err != nil {
			g.logger.Debug("Reload failed", zap.Error(err))
		}
	}
	_ = g.human.Pause(ctx, g.cfg.SettleDelay)
}

// DismissPopups runs up to passes rounds of overlay dismissal and returns how
// many overlays were closed. Each pass tries Escape, the dismiss buttons, a
// click on the backdrop and a close control inside any open dialog. An action
// counts only when fewer overlays are visible after it. It stops early after a
// pass that closed nothing.
func (g *Guardian) DismissPopups(ctx context.Context, s schemas.BrowserSurface, passes int) int {
	total := 0
	for pass := 1; pass <= passes; pass++ {
		if ctx.Err() != nil {
			break
		}
		closed := g.dismissPass(ctx, s)
		g.logger.Debug("Popup pass finished", zap.Int("pass", pass), zap.Int("closed", closed))
		total += closed
		if closed == 0 {
			break
		}
	}
	if total > 0 {
		g.logger.Info("Dismissed overlays", zap.Int("count", total))
	}
	return total
}

func (g *Guardian) dismissPass(ctx context.Context, s schemas.BrowserSurface) int {
	closed := 0
	open := g.overlayCount(ctx, s)
	// shrank re-counts after an action and reports whether anything went away.
	shrank := func() bool {
		now := g.overlayCount(ctx, s)
		fewer := now < open
		open = now
		return fewer
	}

	if err := s.PressKey(ctx, schemas.KeyEscape); err == nil {
		if open > 0 {
			_ = g.human.Pause(ctx, g.human.Planner().ClickDelay())
		}
		if shrank() {
			closed++
		}
	}

	for _, sel := range g.cfg.DismissSelectors {
		if g.clickFirstVisible(ctx, s, sel) && shrank() {
			closed++
		}
	}

	for _, sel := range g.cfg.BackdropSelectors {
		if g.clickFirstVisible(ctx, s, sel) {
			if shrank() {
				closed++
			}
			break
		}
	}

	for _, dialog := range g.cfg.DialogSelectors {
		for _, closeSel := range g.cfg.CloseSelectors {
			if g.clickFirstVisible(ctx, s, dialog+" "+closeSel) {
				if shrank() {
					closed++
				}
				break
			}
		}
	}
	return closed
}

// overlayCount is the number of visible dialogs, backdrops and dismissable
// banners. An element matched by several selectors counts once per selector.
func (g *Guardian) overlayCount(ctx context.Context, s schemas.BrowserSurface) int {
	n := 0
	selectors := append(append(append([]string{}, g.cfg.DialogSelectors...), g.cfg.BackdropSelectors...), g.cfg.DismissSelectors...)
	for _, sel := range selectors {
		els, err := s.QueryAll(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if el.Visible {
				n++
			}
		}
	}
	return n
}

// clickFirstVisible clicks the center of the first visible match for sel.
func (g *Guardian) clickFirstVisible(ctx context.Context, s schemas.BrowserSurface, sel string) bool {
	els, err := s.QueryAll(ctx, sel)
	if err != nil {
		return false
	}
	for _, el := range els {
		if !el.Visible || el.Box.Empty() {
			continue
		}
		if err := g.human.ClickElement(ctx, s, el); err != nil {
			g.logger.Debug("Overlay click failed", zap.String("selector", sel), zap.Error(err))
			return false
		}
		_ = g.human.Pause(ctx, g.human.Planner().ClickDelay())
		return true
	}
	return false
}

// RecoverContinueURL leaves a rate-limit interstitial by navigating straight
// to the URL it carries in its continue parameter.
func (g *Guardian) RecoverContinueURL(ctx context.Context, s schemas.BrowserSurface) bool {
	current, err := s.CurrentURL(ctx)
	if err != nil {
		return false
	}
	next := ContinueURL(current, g.cfg.ContinueParam)
	if next == "" {
		return false
	}
	g.logger.Info("Following continue URL", zap.String("from", current), zap.String("to", next))
	if err := s.Navigate(ctx, next); err != nil {
		g.logger.Warn("Continue URL navigation failed", zap.Error(err))
		return false
	}
	return g.human.Pause(ctx, g.cfg.SettleDelay) == nil
}

// ContinueURL extracts and decodes the param query parameter from raw. Only
// absolute http(s) URLs are returned.
func ContinueURL(raw, param string) string {
	if param == "" {
		param = "continue"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	next := u.Query().Get(param)
	if next == "" {
		return ""
	}
	// Some interstitials encode the target twice.
	if !strings.HasPrefix(next, "http://") && !strings.HasPrefix(next, "https://") {
		if decoded, err := url.QueryUnescape(next); err == nil {
			next = decoded
		}
	}
	target, err := url.Parse(next)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return ""
	}
	return target.String()
}
