package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/browser/static"
	"github.com/xkilldash9x/gatewalk/internal/config"
	"github.com/xkilldash9x/gatewalk/internal/mocks"
)

const (
	feedHTML = `<html><body>
		<nav aria-label="Primary">
			<a href="/mynetwork/">My Network</a>
			<a href="/jobs/">Jobs</a>
			<a href="/messaging/">Messaging</a>
		</nav>
		<main>posts</main>
	</body></html>`

	checkboxHTML = `<html><body>
		<div class="g-recaptcha" data-sitekey="abc">
			<iframe title="reCAPTCHA" src="https://www.google.com/recaptcha/api2/anchor?k=abc" data-box="40,300,304,78"></iframe>
		</div>
		<iframe title="recaptcha challenge expires in two minutes" src="https://www.google.com/recaptcha/api2/bframe" style="visibility: hidden"></iframe>
	</body></html>`

	puzzleHTML = `<html><body>
		<div class="g-recaptcha" data-sitekey="abc">
			<iframe title="reCAPTCHA" src="https://www.google.com/recaptcha/api2/anchor?k=abc"></iframe>
		</div>
		<iframe title="recaptcha challenge expires in two minutes" src="https://www.google.com/recaptcha/api2/bframe" data-box="20,80,400,580"></iframe>
	</body></html>`

	loginHTML = `<html><body>
		<form action="/uas/login-submit">
			<input id="username" name="session_key" type="text">
			<input id="password" name="session_password" type="password">
			<button type="submit">Sign in</button>
		</form>
	</body></html>`
)

func newClassifier(t *testing.T) *Classifier {
	t.Helper()
	return New(config.Default().Classifier, zaptest.NewLogger(t))
}

func surfaceAt(t *testing.T, url, title, html string) *static.Surface {
	t.Helper()
	s := static.New()
	s.Route(url, static.Page{Title: title, HTML: html})
	require.NoError(t, s.Navigate(context.Background(), url))
	return s
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name     string
		url      string
		title    string
		html     string
		want     schemas.ChallengeKind
		evidence string
	}{
		{
			name:  "home feed is content",
			url:   "https://www.linkedin.com/feed/",
			title: "Home Feed",
			html:  `<html><body><main>posts</main></body></html>`,
			want:  schemas.NoChallenge,
		},
		{
			name:     "checkpoint url is a login wall regardless of dom",
			url:      "https://www.linkedin.com/checkpoint/challenge/AgE",
			title:    "Security Verification | LinkedIn",
			html:     puzzleHTML,
			want:     schemas.LoginWall,
			evidence: "url:/checkpoint",
		},
		{
			name:     "visible checkbox widget",
			url:      "https://www.google.com/sorry/index?continue=x",
			title:    "Google",
			html:     checkboxHTML,
			want:     schemas.CheckboxChallenge,
			evidence: `checkbox:iframe[title*="reCAPTCHA"]`,
		},
		{
			name:     "visible puzzle outranks the checkbox",
			url:      "https://www.google.com/sorry/index",
			html:     puzzleHTML,
			want:     schemas.GridPuzzleChallenge,
			evidence: `puzzle:iframe[src*="recaptcha/api2/bframe"]`,
		},
		{
			name:     "challenge title without widgets",
			url:      "https://example.com/",
			title:    "Just a moment...",
			html:     `<html><body>checking your browser</body></html>`,
			want:     schemas.UnknownChallenge,
			evidence: "title:just a moment",
		},
		{
			name:     "login title",
			url:      "https://www.linkedin.com/",
			title:    "LinkedIn Login, Sign in | LinkedIn",
			html:     `<html><body></body></html>`,
			want:     schemas.LoginWall,
			evidence: "title:sign in",
		},
		{
			name:     "challenge url keyword",
			url:      "https://www.google.com/sorry/index",
			title:    "Google",
			html:     `<html><body></body></html>`,
			want:     schemas.UnknownChallenge,
			evidence: "url:/sorry",
		},
		{
			name:     "logged-in markers without a content url",
			url:      "https://www.linkedin.com/",
			title:    "LinkedIn",
			html:     feedHTML,
			want:     schemas.NoChallenge,
			evidence: `logged-in:nav[aria-label="Primary"]`,
		},
		{
			name:     "visible credential fields",
			url:      "https://www.linkedin.com/",
			title:    "LinkedIn",
			html:     loginHTML,
			want:     schemas.LoginWall,
			evidence: `login-field:input[name="session_key"]`,
		},
		{
			name:  "hidden widgets are ignored",
			url:   "https://example.com/",
			title: "Example",
			html:  `<html><body><div class="g-recaptcha" hidden></div></body></html>`,
			want:  schemas.NoChallenge,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newClassifier(t)
			s := surfaceAt(t, tc.url, tc.title, tc.html)

			v := c.Classify(context.Background(), s)
			assert.Equal(t, tc.want, v.Kind)
			if tc.evidence != "" {
				assert.Contains(t, v.Evidence, tc.evidence)
			}
		})
	}
}

func TestClassify_KeywordHitsAlwaysReachEvidence(t *testing.T) {
	c := newClassifier(t)
	s := surfaceAt(t, "https://www.google.com/sorry/index?continue=https://www.google.com/", "Security check", checkboxHTML)

	v := c.Classify(context.Background(), s)
	assert.Equal(t, schemas.CheckboxChallenge, v.Kind, "the widget rule decides")
	assert.Contains(t, v.Evidence, "url:/sorry")
	assert.Contains(t, v.Evidence, "title:security check")
}

func TestClassify_ContentURLSkipsMarkerProbing(t *testing.T) {
	cfg := config.Default().Classifier
	s := new(mocks.MockSurface)
	s.On("CurrentURL", mock.Anything).Return("https://www.linkedin.com/feed/", nil)
	s.On("Title", mock.Anything).Return("Home Feed", nil)
	for _, sel := range append(append([]string{}, cfg.PuzzleSelectors...), cfg.CheckboxSelectors...) {
		s.On("QueryAll", mock.Anything, sel).Return([]schemas.Element{}, nil)
	}

	v := New(cfg, zaptest.NewLogger(t)).Classify(context.Background(), s)
	assert.Equal(t, schemas.NoChallenge, v.Kind)
	for _, sel := range cfg.LoggedInMarkers {
		s.AssertNotCalled(t, "QueryAll", mock.Anything, sel)
	}
	for _, sel := range cfg.LoginFieldSelectors {
		s.AssertNotCalled(t, "QueryAll", mock.Anything, sel)
	}
}

func TestClassify_QueryErrorsCountAsAbsent(t *testing.T) {
	s := new(mocks.MockSurface)
	s.On("CurrentURL", mock.Anything).Return("https://example.com/page", nil)
	s.On("Title", mock.Anything).Return("Example", nil)
	s.On("QueryAll", mock.Anything, mock.Anything).Return(nil, errors.New("target closed"))

	v := newClassifier(t).Classify(context.Background(), s)
	assert.Equal(t, schemas.NoChallenge, v.Kind)
}

func TestDetectLoginWall(t *testing.T) {
	c := newClassifier(t)
	ctx := context.Background()

	wall, evidence := c.DetectLoginWall(ctx, surfaceAt(t, "https://www.linkedin.com/authwall?trk=x", "LinkedIn", "<html></html>"))
	assert.True(t, wall)
	assert.Contains(t, evidence, "url:authwall")

	wall, _ = c.DetectLoginWall(ctx, surfaceAt(t, "https://www.linkedin.com/in/someone/", "Someone | LinkedIn", loginHTML))
	assert.True(t, wall, "two visible credential fields make a wall")

	oneField := `<html><body><input type="password" id="pin"></body></html>`
	wall, _ = c.DetectLoginWall(ctx, surfaceAt(t, "https://www.linkedin.com/in/someone/", "Someone | LinkedIn", oneField))
	assert.False(t, wall)

	wall, _ = c.DetectLoginWall(ctx, surfaceAt(t, "https://www.linkedin.com/feed/", "Feed", feedHTML))
	assert.False(t, wall)
}

func TestLoggedInMarkerCount(t *testing.T) {
	c := newClassifier(t)
	s := surfaceAt(t, "https://www.linkedin.com/feed/", "Feed", feedHTML)
	assert.Equal(t, 4, c.LoggedInMarkerCount(context.Background(), s))
	assert.True(t, c.IsAuthenticated(context.Background(), s))

	s = surfaceAt(t, "https://www.linkedin.com/", "LinkedIn", loginHTML)
	assert.Zero(t, c.LoggedInMarkerCount(context.Background(), s))
	assert.False(t, c.IsAuthenticated(context.Background(), s))
}

func TestIsContentURL(t *testing.T) {
	c := newClassifier(t)
	assert.True(t, c.IsContentURL("https://www.linkedin.com/feed/"))
	assert.True(t, c.IsContentURL("https://www.linkedin.com/search/results/people/?keywords=go"))
	assert.False(t, c.IsContentURL("https://www.linkedin.com/login?session_redirect=%2Ffeed%2F"))
	assert.False(t, c.IsContentURL("https://www.google.com/sorry/index"))
}
