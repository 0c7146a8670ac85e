package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/config"
)

func TestCookieConversion(t *testing.T) {
	t.Run("session cookie", func(t *testing.T) {
		c := fromNetworkCookie(&network.Cookie{Name: "JSESSIONID", Value: "ajax:1", Domain: ".www.linkedin.com", Path: "/", Expires: 0, Session: true, SameSite: network.CookieSameSiteNone})
		assert.Equal(t, -1.0, c.Expires)
		assert.Equal(t, "None", c.SameSite)
	})

	t.Run("round trip", func(t *testing.T) {
		in := schemas.Cookie{Name: "li_at", Value: "AQEDAR", Domain: ".www.linkedin.com", Path: "/", Expires: 1798761600.5, HTTPOnly: true, Secure: true, SameSite: "lax"}
		p := toCookieParam(in)
		require.NotNil(t, p.Expires)
		assert.Equal(t, int64(1798761600), time.Time(*p.Expires).Unix())
		assert.Equal(t, network.CookieSameSiteLax, p.SameSite)
		assert.True(t, p.HTTPOnly)
		assert.True(t, p.Secure)
	})

	t.Run("no expiry and unknown same-site", func(t *testing.T) {
		p := toCookieParam(schemas.Cookie{Name: "a", Value: "b", Expires: -1, SameSite: "whatever"})
		assert.Nil(t, p.Expires)
		assert.Empty(t, p.SameSite)
	})
}

func TestBuildQuery(t *testing.T) {
	script := buildQuery(`a[title="x"]`)
	assert.Contains(t, script, `return collect(document, "a[title=\"x\"]");`)
	assert.NotContains(t, script, "contentDocument", "frames are entered through the protocol")

	fn := asFunction(script)
	assert.True(t, strings.HasPrefix(fn, "function() { return ("))
	assert.True(t, strings.HasSuffix(fn, "); }"))
}

func TestToElements(t *testing.T) {
	els := toElements([]queryItem{
		{Visible: true, X: 10, Y: 20, Width: 30, Height: 40, Text: "Sign in"},
		{Visible: false},
	}, "button", "iframe", schemas.Point{X: 40, Y: 300})
	require.Len(t, els, 2)
	assert.Equal(t, schemas.Element{Selector: "button", Index: 0, Frame: "iframe", Visible: true, Box: schemas.Box{X: 50, Y: 320, Width: 30, Height: 40}, Text: "Sign in"}, els[0])
	assert.Equal(t, 1, els[1].Index)
}

func TestAllocatorOptions(t *testing.T) {
	cfg := config.Default()

	opts, err := AllocatorOptions(cfg.Browser, cfg.Network)
	require.NoError(t, err)
	base := len(opts)

	cfg.Network.Proxy = "127.0.0.1:8080"
	cfg.Browser.Args = []string{"--lang=en-US", "mute-audio", "--"}
	opts, err = AllocatorOptions(cfg.Browser, cfg.Network)
	require.NoError(t, err)
	assert.Equal(t, base+3, len(opts), "proxy plus two usable args")

	cfg.Network.Proxy = "[::1"
	_, err = AllocatorOptions(cfg.Browser, cfg.Network)
	assert.Error(t, err)
}

// chromeAvailable skips when no Chrome binary can be found.
func chromeAvailable(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser test skipped in short mode")
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no Chrome binary on PATH")
}

func TestSurface_Live(t *testing.T) {
	chromeAvailable(t)

	widget := newWidgetServer()
	defer widget.Close()
	srv := newFixtureServer(widget.URL + "/anchor")
	defer srv.Close()

	cfg := config.Default()
	cfg.Browser.Headless = true
	cfg.Browser.NavigationTimeout = 20 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	m, err := NewManager(ctx, zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	s, err := m.NewSurface(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Navigate(ctx, srv.URL))
	require.NoError(t, s.WaitFor(ctx, `iframe`, 5*time.Second))

	title, err := s.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Fixture", title)

	q, err := s.QueryOne(ctx, "#q")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.True(t, q.Visible)
	assert.InDelta(t, 100, q.Box.X, 1)

	hidden, err := s.QueryOne(ctx, ".gone")
	require.NoError(t, err)
	require.NotNil(t, hidden)
	assert.False(t, hidden.Visible)

	missing, err := s.QueryInFrame(ctx, `iframe[title="nope"]`, "#recaptcha-anchor")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.Eventually(t, func() bool {
		els, err := s.QueryInFrame(ctx, `iframe[title="reCAPTCHA"]`, "#recaptcha-anchor")
		return err == nil && len(els) == 1
	}, 5*time.Second, 100*time.Millisecond)
	els, err := s.QueryInFrame(ctx, `iframe[title="reCAPTCHA"]`, "#recaptcha-anchor")
	require.NoError(t, err)
	assert.InDelta(t, 50, els[0].Box.X, 1, "frame offset is applied")
	assert.InDelta(t, 320, els[0].Box.Y, 1)

	var blocked bool
	require.NoError(t, s.Evaluate(ctx, `(() => { try { return document.querySelector("iframe").contentDocument === null; } catch (e) { return true; } })()`, &blocked))
	assert.True(t, blocked, "the page itself cannot read the widget document")

	var port string
	_, found, err := s.EvaluateInFrame(ctx, `iframe[title="reCAPTCHA"]`, "location.port", &port)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, strings.HasSuffix(widget.URL, ":"+port))

	require.NoError(t, s.SetCookies(ctx, []schemas.Cookie{{Name: "li_at", Value: "v", Domain: "127.0.0.1", Path: "/", Expires: float64(time.Now().Add(time.Hour).Unix())}}))
	cookies, err := s.Cookies(ctx)
	require.NoError(t, err)
	var names []string
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "li_at")

	shot, err := s.Screenshot(ctx, &els[0].Box)
	require.NoError(t, err)
	assert.NotEmpty(t, shot)
}

// newWidgetServer serves the checkbox document on its own origin.
func newWidgetServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body style="margin:0">
			<button id="recaptcha-anchor" role="checkbox" style="position:absolute;left:10px;top:20px;width:28px;height:28px"></button>
		</body></html>`)
	}))
}

func newFixtureServer(frameURL string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>Fixture</title></head><body style="margin:0">
			<input id="q" style="position:absolute;left:100px;top:20px;width:300px;height:30px">
			<div hidden class="gone">x</div>
			<iframe title="reCAPTCHA" src="%s" style="position:absolute;left:40px;top:300px;width:304px;height:78px;border:0"></iframe>
		</body></html>`, frameURL)
	}))
}

// The widget is served from localhost while the page is on 127.0.0.1, so
// with site isolation on Chrome renders the frame out of process.
func TestSurface_LiveOutOfProcessFrame(t *testing.T) {
	chromeAvailable(t)

	widget := newWidgetServer()
	defer widget.Close()
	srv := newFixtureServer(strings.Replace(widget.URL, "127.0.0.1", "localhost", 1) + "/anchor")
	defer srv.Close()

	cfg := config.Default()
	cfg.Browser.Headless = true
	cfg.Browser.DisableSiteIsolation = false
	cfg.Browser.NavigationTimeout = 20 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	m, err := NewManager(ctx, zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	s, err := m.NewSurface(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Navigate(ctx, srv.URL))

	var els []schemas.Element
	require.Eventually(t, func() bool {
		els, err = s.QueryInFrame(ctx, `iframe[title="reCAPTCHA"]`, "#recaptcha-anchor")
		return err == nil && len(els) == 1
	}, 10*time.Second, 200*time.Millisecond)
	assert.InDelta(t, 50, els[0].Box.X, 1)
	assert.InDelta(t, 320, els[0].Box.Y, 1)

	var host string
	_, found, err := s.EvaluateInFrame(ctx, `iframe[title="reCAPTCHA"]`, "location.hostname", &host)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "localhost", host)
}
