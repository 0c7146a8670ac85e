// Package session persists and restores the authenticated browser state so a
// run can skip the login and challenge sequence.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/classifier"
	"github.com/xkilldash9x/gatewalk/internal/config"
	"github.com/xkilldash9x/gatewalk/internal/humanoid"
)

const (
	readStorageScript = `(() => {
  const out = [];
  for (let i = 0; i < window.localStorage.length; i++) {
    const k = window.localStorage.key(i);
    out.push({name: k, value: window.localStorage.getItem(k)});
  }
  return out;
})()`

	writeStorageScript = `(() => {
  const items = %s;
  for (const it of items) window.localStorage.setItem(it.name, it.value);
  return items.length;
})()`
)

// Manager owns the snapshot file for one target domain.
type Manager struct {
	cfg        config.SessionConfig
	domain     string
	store      *FileStore
	classifier *classifier.Classifier
	human      *humanoid.Humanoid
	logger     *zap.Logger
	settle     time.Duration
	now        func() time.Time
}

// NewManager creates a Manager for domain.
func NewManager(cfg config.SessionConfig, domain string, c *classifier.Classifier, h *humanoid.Humanoid, settle time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		domain:     domain,
		store:      NewFileStore(cfg.Dir, cfg.Path),
		classifier: c,
		human:      h,
		logger:     logger.Named("session"),
		settle:     settle,
		now:        time.Now,
	}
}

// Store exposes the underlying file store.
func (m *Manager) Store() *FileStore {
	return m.store
}

// Restore seeds the surface from a valid snapshot, opens the authenticated URL
// and confirms the login took. Any failure means a cold start; the snapshot
// itself is never modified.
func (m *Manager) Restore(ctx context.Context, s schemas.BrowserSurface) bool {
	snap, err := m.store.Load(m.domain)
	if err != nil {
		m.logColdStart(err)
		return false
	}
	auth, err := Validate(snap, m.cfg.AuthCookie, m.now())
	if err != nil {
		m.logColdStart(err)
		return false
	}
	m.logger.Info("Restoring session", zap.String("path", m.store.Path(m.domain)), zap.Int("cookies", len(snap.Cookies)), zap.String("auth_cookie", auth.Name))

	if err := s.SetCookies(ctx, snap.Cookies); err != nil {
		m.logger.Warn("Could not seed cookies", zap.Error(err))
		return false
	}
	if err := s.Navigate(ctx, m.cfg.AuthenticatedURL); err != nil {
		m.logger.Warn("Could not open authenticated URL", zap.String("url", m.cfg.AuthenticatedURL), zap.Error(err))
		return false
	}
	m.seedStorage(ctx, s, snap)
	if err := m.human.Pause(ctx, m.settle); err != nil {
		return false
	}

	markers := m.classifier.LoggedInMarkerCount(ctx, s)
	current, _ := s.CurrentURL(ctx)
	if !m.classifier.IsAuthenticated(ctx, s) {
		m.logger.Warn("Restored session is not logged in", zap.String("url", current), zap.Int("markers", markers))
		return false
	}
	m.logger.Info("Session restored", zap.String("url", current), zap.Int("markers", markers))
	return true
}

func (m *Manager) logColdStart(err error) {
	switch {
	case errors.Is(err, ErrSnapshotMissing):
		m.logger.Info("No saved session, starting cold", zap.Error(err))
	default:
		m.logger.Warn("Saved session unusable, starting cold", zap.Error(err))
	}
}

// seedStorage writes the snapshot's localStorage for the current origin. Failures are ignored.
func (m *Manager) seedStorage(ctx context.Context, s schemas.BrowserSurface, snap *Snapshot) {
	current, err := s.CurrentURL(ctx)
	if err != nil {
		return
	}
	origin := originOf(current)
	for _, o := range snap.Origins {
		if o.Origin != origin || len(o.LocalStorage) == 0 {
			continue
		}
		items, err := json.Marshal(o.LocalStorage)
		if err != nil {
			return
		}
		if err := s.Evaluate(ctx, fmt.Sprintf(writeStorageScript, items), nil); err != nil {
			m.logger.Debug("Could not seed localStorage", zap.String("origin", origin), zap.Error(err))
		}
		return
	}
}

// Persist snapshots the surface's cookies and the current origin's
// localStorage, replacing any previous snapshot.
func (m *Manager) Persist(ctx context.Context, s schemas.BrowserSurface) error {
	cookies, err := s.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("reading cookies: %w", err)
	}
	snap := &Snapshot{Cookies: cookies}

	if current, err := s.CurrentURL(ctx); err == nil {
		var items []StorageItem
		if err := s.Evaluate(ctx, readStorageScript, &items); err != nil {
			m.logger.Debug("Could not read localStorage", zap.Error(err))
		} else if origin := originOf(current); origin != "" {
			snap.Origins = append(snap.Origins, OriginState{Origin: origin, LocalStorage: items})
		}
	}

	if _, err := Validate(snap, m.cfg.AuthCookie, m.now()); err != nil {
		m.logger.Warn("Persisting a snapshot that will not restore", zap.Error(err))
	}
	if err := m.store.Save(m.domain, snap); err != nil {
		return err
	}
	m.logger.Info("Session saved", zap.String("path", m.store.Path(m.domain)), zap.Int("cookies", len(cookies)))
	return nil
}

// CookieStatus describes one tracked cookie in a snapshot.
type CookieStatus struct {
	Name    string
	Present bool
	// Expires is zero for session cookies.
	Expires time.Time
}

// Status is the result of Check.
type Status struct {
	Path  string
	Valid bool
	// Err explains why the snapshot is not valid.
	Err error
	// ExpiresIn is the time left on the auth cookie, zero for a session cookie.
	ExpiresIn time.Duration
	Tracked   []CookieStatus
}

// Check reports on the snapshot without touching a browser.
func (m *Manager) Check() Status {
	st := Status{Path: m.store.Path(m.domain)}
	snap, err := m.store.Load(m.domain)
	if err != nil {
		st.Err = err
		return st
	}

	now := m.now()
	auth, err := Validate(snap, m.cfg.AuthCookie, now)
	st.Valid = err == nil
	st.Err = err
	if err == nil && auth.Expires > 0 {
		st.ExpiresIn = time.Unix(int64(auth.Expires), 0).Sub(now)
	}

	for _, name := range m.cfg.TrackedCookies {
		cs := CookieStatus{Name: name}
		for _, c := range snap.Cookies {
			if c.Name != name {
				continue
			}
			cs.Present = true
			if c.Expires > 0 {
				cs.Expires = time.Unix(int64(c.Expires), 0)
			}
			break
		}
		st.Tracked = append(st.Tracked, cs)
	}
	return st
}

// Delete removes the snapshot.
func (m *Manager) Delete() error {
	return m.store.Delete(m.domain)
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
