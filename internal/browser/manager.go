// Package browser runs Chrome through chromedp and exposes each tab as a
// schemas.BrowserSurface.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/internal/browser/stealth"
	"github.com/xkilldash9x/gatewalk/internal/config"
)

// Manager owns the Chrome process and the tabs opened in it.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	surfaces map[string]*Surface
	mu       sync.Mutex
}

// NewManager prepares the allocator. Chrome itself starts with the first tab.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		surfaces: make(map[string]*Surface),
	}

	opts, err := AllocatorOptions(cfg.Browser, cfg.Network)
	if err != nil {
		return nil, err
	}
	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)

	m.logger.Info("Browser manager initialized",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.Bool("stealth", cfg.Browser.Stealth),
		zap.String("proxy", cfg.Network.Proxy),
		zap.String("user_data_dir", cfg.Browser.UserDataDir),
	)
	return m, nil
}

// AllocatorOptions translates the browser and network settings into Chrome flags.
func AllocatorOptions(b config.BrowserConfig, n config.NetworkConfig) ([]chromedp.ExecAllocatorOption, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	// The defaults start headless; a visible window is needed for manual login.
	opts = append(opts, chromedp.Flag("headless", b.Headless))
	if b.Headless {
		opts = append(opts, chromedp.DisableGPU)
	}

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("ignore-certificate-errors", b.IgnoreTLSErrors),
	)

	if b.DisableSiteIsolation {
		opts = append(opts,
			chromedp.Flag("disable-site-isolation-trials", true),
			chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		)
	}
	if b.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.ExecPath))
	}
	if b.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(b.UserDataDir))
	}
	if b.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.UserAgent))
	}
	if b.Viewport.Width > 0 && b.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(b.Viewport.Width, b.Viewport.Height))
	}

	if n.Proxy != "" {
		proxy := n.Proxy
		if !strings.Contains(proxy, "://") {
			proxy = "http://" + proxy
		}
		if _, err := url.Parse(proxy); err != nil {
			return nil, fmt.Errorf("invalid proxy address %q: %w", n.Proxy, err)
		}
		opts = append(opts, chromedp.ProxyServer(proxy))
	}

	for _, arg := range b.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts, nil
}

// NewSurface opens a tab. It stays open until Close, Shutdown or the
// cancellation of ctx.
func (m *Manager) NewSurface(ctx context.Context) (*Surface, error) {
	tabCtx, cancel := chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-tabCtx.Done():
		}
	}()

	actions := []chromedp.Action{}
	if m.cfg.Browser.Stealth {
		actions = append(actions, stealth.Apply(stealth.PersonaFromConfig(m.cfg.Browser), m.logger))
	}
	if vp := m.cfg.Browser.Viewport; vp.Width > 0 && vp.Height > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height)))
	}
	actions = append(actions, chromedp.Navigate("about:blank"))
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	id := uuid.NewString()
	s := &Surface{
		ctx:        tabCtx,
		cancel:     cancel,
		id:         id,
		logger:     m.logger.Named("surface").With(zap.String("surface_id", id)),
		navTimeout: m.cfg.Browser.NavigationTimeout,
		manager:    m,
	}
	m.mu.Lock()
	m.surfaces[id] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.surfaces, id)
}

// Shutdown closes every tab and stops Chrome.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager")

	m.mu.Lock()
	open := make([]*Surface, 0, len(m.surfaces))
	for _, s := range m.surfaces {
		open = append(open, s)
	}
	m.surfaces = make(map[string]*Surface)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range open {
		wg.Add(1)
		go func(s *Surface) {
			defer wg.Done()
			closeErr := chromedp.Cancel(s.ctx)
			if closeErr != nil && ctx.Err() == nil {
				m.logger.Debug("Tab did not close cleanly", zap.String("surface_id", s.id), zap.Error(closeErr))
			}
			s.cancel()
		}(s)
	}
	wg.Wait()

	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}
	m.logger.Info("Browser manager shutdown complete")
	return nil
}
