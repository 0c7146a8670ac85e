package login

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/browser/static"
	"github.com/xkilldash9x/gatewalk/internal/classifier"
	"github.com/xkilldash9x/gatewalk/internal/config"
	"github.com/xkilldash9x/gatewalk/internal/humanoid"
)

const loginURL = "https://www.linkedin.com/login"

var (
	loginPage = static.Page{Title: "LinkedIn Login, Sign in | LinkedIn", HTML: `<html><body><form>
		<input id="username" name="session_key" data-box="100,200,300,40">
		<input id="password" name="session_password" type="password" data-box="100,260,300,40">
		<button type="submit" data-box="100,330,300,48">Sign in</button>
	</form></body></html>`}
	feedPage = static.Page{URL: "https://www.linkedin.com/feed/", Title: "Feed | LinkedIn", HTML: `<html><body>
		<nav aria-label="Primary"><a href="/mynetwork/">Network</a></nav>
	</body></html>`}
)

func newAuthenticator(t *testing.T, mutate func(*config.LoginConfig)) *Authenticator {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg.Login)
	}
	return New(cfg.Login, classifier.New(cfg.Classifier, zaptest.NewLogger(t)), humanoid.NewTestHumanoid(11), zaptest.NewLogger(t))
}

func TestLogin_Credentials(t *testing.T) {
	a := newAuthenticator(t, func(lc *config.LoginConfig) {
		lc.Mode = config.LoginModeCredentials
		lc.Username = "gopher@example.com"
		lc.Password = "hunter2"
	})
	s := static.New().Route(loginURL, loginPage)
	s.OnClick = func(s *static.Surface, c static.Click) {
		if c.Target == `button[type="submit"]` {
			_ = s.Show(feedPage)
		}
	}

	require.NoError(t, a.Login(context.Background(), s))
	assert.Equal(t, "gopher@example.comhunter2", s.Typed())

	var targets []string
	for _, c := range s.Clicks() {
		targets = append(targets, c.Target)
	}
	assert.Equal(t, []string{"#username", "#password", `button[type="submit"]`}, targets)

	url, _ := s.CurrentURL(context.Background())
	assert.Equal(t, "https://www.linkedin.com/feed/", url)
}

func TestLogin_CredentialsSubmitWithEnter(t *testing.T) {
	a := newAuthenticator(t, func(lc *config.LoginConfig) {
		lc.Mode = config.LoginModeCredentials
		lc.Username = "u"
		lc.Password = "p"
		lc.SubmitSelector = "#no-such-button"
	})
	s := static.New().Route(loginURL, loginPage)

	require.NoError(t, a.Login(context.Background(), s))
	assert.Equal(t, []string{schemas.KeyEnter}, s.Keys())
}

func TestLogin_MissingCredentials(t *testing.T) {
	a := newAuthenticator(t, func(lc *config.LoginConfig) { lc.Mode = config.LoginModeCredentials })
	s := static.New().Route(loginURL, loginPage)

	assert.ErrorIs(t, a.Login(context.Background(), s), ErrMissingCredentials)
	assert.Empty(t, s.Typed())
}

func TestLogin_AlreadySignedIn(t *testing.T) {
	a := newAuthenticator(t, func(lc *config.LoginConfig) { lc.Mode = config.LoginModeCredentials })
	s := static.New().Route(loginURL, feedPage)

	require.NoError(t, a.Login(context.Background(), s))
	assert.Empty(t, s.Clicks())
}

func TestLogin_ManualDetectsOperator(t *testing.T) {
	a := newAuthenticator(t, func(lc *config.LoginConfig) {
		lc.ManualTimeout = 30 * time.Second
		lc.PollInterval = time.Second
	})
	s := static.New().Route(loginURL, loginPage)

	polls := 0
	a.human.SetSleep(func(ctx context.Context, d time.Duration) error {
		if d == time.Second {
			polls++
			if polls == 3 {
				_ = s.Show(feedPage)
			}
		}
		return ctx.Err()
	})

	require.NoError(t, a.Login(context.Background(), s))
	assert.Equal(t, 3, polls)
}

func TestLogin_ManualTimeout(t *testing.T) {
	a := newAuthenticator(t, func(lc *config.LoginConfig) {
		lc.ManualTimeout = 5 * time.Second
		lc.PollInterval = time.Second
	})
	s := static.New().Route(loginURL, loginPage)

	err := a.Login(context.Background(), s)
	assert.ErrorIs(t, err, ErrLoginTimeout)
}
