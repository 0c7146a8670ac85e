package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/api/schemas"
)

// ErrFrameInaccessible is returned when a frame matches but neither the tab's
// DOM nor an attached frame target exposes its document.
var ErrFrameInaccessible = errors.New("frame document is not accessible")

var keyNames = map[string]string{
	schemas.KeyEscape: kb.Escape,
	schemas.KeyEnter:  kb.Enter,
	schemas.KeyTab:    kb.Tab,
}

// Surface drives one Chrome tab through the DevTools protocol.
type Surface struct {
	ctx        context.Context
	cancel     context.CancelFunc
	id         string
	logger     *zap.Logger
	navTimeout time.Duration
	manager    *Manager

	mu     sync.Mutex
	frames map[target.ID]attachedFrame
}

var (
	_ schemas.BrowserSurface = (*Surface)(nil)
	_ schemas.FrameEvaluator = (*Surface)(nil)
)

// ID identifies the tab within its manager.
func (s *Surface) ID() string { return s.id }

// Context returns the chromedp context of the tab.
func (s *Surface) Context() context.Context { return s.ctx }

// Close closes the tab.
func (s *Surface) Close() {
	if s.manager != nil {
		s.manager.unregister(s.id)
	}
	s.mu.Lock()
	for id, f := range s.frames {
		f.cancel()
		delete(s.frames, id)
	}
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// actionContext derives a context from tab that is also cancelled with opCtx.
func actionContext(tab, opCtx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(tab)
	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	return runCtx, cancel
}

func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	return s.runOn(s.ctx, ctx, actions...)
}

// runOn runs actions against tab, which is the page or an attached frame target.
func (s *Surface) runOn(tab, ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := actionContext(tab, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (s *Surface) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))
	if s.navTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.navTimeout)
		defer cancel()
	}
	if err := s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (s *Surface) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := s.run(ctx, chromedp.Location(&u))
	return u, err
}

func (s *Surface) Title(ctx context.Context) (string, error) {
	var t string
	err := s.run(ctx, chromedp.Title(&t))
	return t, err
}

func (s *Surface) QueryOne(ctx context.Context, selector string) (*schemas.Element, error) {
	els, err := s.QueryAll(ctx, selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return &els[0], nil
}

func (s *Surface) QueryAll(ctx context.Context, selector string) ([]schemas.Element, error) {
	var items []queryItem
	if err := s.run(ctx, chromedp.Evaluate(buildQuery(selector), &items)); err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	return toElements(items, selector, "", schemas.Point{}), nil
}

// QueryInFrame returns nil without error when no frame matches frameSelector.
// Cross-origin frames are reached through the DevTools protocol.
func (s *Surface) QueryInFrame(ctx context.Context, frameSelector, selector string) ([]schemas.Element, error) {
	var items []queryItem
	origin, found, err := s.inFrame(ctx, frameSelector, buildQuery(selector), &items)
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	if !found {
		return nil, nil
	}
	return toElements(items, selector, frameSelector, origin), nil
}

// EvaluateInFrame runs script with the frame's document and window as globals.
func (s *Surface) EvaluateInFrame(ctx context.Context, frameSelector, script string, res any) (schemas.Point, bool, error) {
	return s.inFrame(ctx, frameSelector, script, res)
}

func toElements(items []queryItem, selector, frame string, origin schemas.Point) []schemas.Element {
	out := make([]schemas.Element, 0, len(items))
	for i, it := range items {
		out = append(out, schemas.Element{
			Selector: selector,
			Index:    i,
			Frame:    frame,
			Visible:  it.Visible,
			Box:      schemas.Box{X: it.X + origin.X, Y: it.Y + origin.Y, Width: it.Width, Height: it.Height},
			Text:     it.Text,
		})
	}
	return out
}

func (s *Surface) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *Surface) Click(ctx context.Context, target string, p schemas.Point) error {
	s.logger.Debug("Clicking", zap.String("target", target), zap.Float64("x", p.X), zap.Float64("y", p.Y))
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := input.DispatchMouseEvent(input.MousePressed, p.X, p.Y).
			WithButton(input.Left).WithClickCount(1).Do(ctx); err != nil {
			return err
		}
		return input.DispatchMouseEvent(input.MouseReleased, p.X, p.Y).
			WithButton(input.Left).WithClickCount(1).Do(ctx)
	}))
}

func (s *Surface) MoveTo(ctx context.Context, p schemas.Point) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y).Do(ctx)
	}))
}

func (s *Surface) TypeText(ctx context.Context, target, text string, perCharDelay time.Duration) error {
	if target != "" {
		var focused bool
		if err := s.run(ctx, chromedp.Evaluate(buildFocus(target), &focused)); err != nil {
			return fmt.Errorf("focusing %q failed: %w", target, err)
		}
	}
	for _, r := range text {
		if err := s.run(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return err
		}
		if perCharDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(perCharDelay):
			}
		}
	}
	return nil
}

func (s *Surface) PressKey(ctx context.Context, key string) error {
	if k, ok := keyNames[key]; ok {
		key = k
	}
	return s.run(ctx, chromedp.KeyEvent(key))
}

func (s *Surface) Screenshot(ctx context.Context, clip *schemas.Box) ([]byte, error) {
	var buf []byte
	if clip == nil || clip.Empty() {
		err := s.run(ctx, chromedp.CaptureScreenshot(&buf))
		return buf, err
	}
	// Clips are document-relative, boxes are viewport-relative.
	var offset [2]float64
	if err := s.run(ctx, chromedp.Evaluate(scrollOffsetScript, &offset)); err != nil {
		return nil, err
	}
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{X: clip.X + offset[0], Y: clip.Y + offset[1], Width: clip.Width, Height: clip.Height, Scale: 1}).
			Do(ctx)
		return err
	}))
	return buf, err
}

func (s *Surface) Evaluate(ctx context.Context, script string, res any) error {
	return s.run(ctx, chromedp.Evaluate(script, res))
}

func (s *Surface) GoBack(ctx context.Context) error {
	return s.run(ctx, chromedp.NavigateBack())
}

func (s *Surface) Reload(ctx context.Context) error {
	return s.run(ctx, chromedp.Reload())
}

// Cookies returns every cookie of the browser context, not only the current page's.
func (s *Surface) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("reading cookies failed: %w", err)
	}
	out := make([]schemas.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, fromNetworkCookie(c))
	}
	return out, nil
}

func (s *Surface) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, toCookieParam(c))
	}
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
}

func fromNetworkCookie(c *network.Cookie) schemas.Cookie {
	expires := c.Expires
	if c.Session {
		expires = -1
	}
	return schemas.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  expires,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite.String(),
	}
}

func toCookieParam(c schemas.Cookie) *network.CookieParam {
	p := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if c.Expires > 0 {
		sec := int64(c.Expires)
		nsec := int64((c.Expires - float64(sec)) * 1e9)
		t := cdp.TimeSinceEpoch(time.Unix(sec, nsec))
		p.Expires = &t
	}
	switch {
	case strings.EqualFold(c.SameSite, "strict"):
		p.SameSite = network.CookieSameSiteStrict
	case strings.EqualFold(c.SameSite, "lax"):
		p.SameSite = network.CookieSameSiteLax
	case strings.EqualFold(c.SameSite, "none"):
		p.SameSite = network.CookieSameSiteNone
	}
	return p
}
