// Package classifier decides what kind of page the browser is looking at:
// real content, a login wall, or one of the challenge widgets.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/config"
)

// Classifier inspects a surface and produces a ChallengeVerdict. It keeps no
// state between calls; every verdict is a fresh snapshot.
type Classifier struct {
	cfg    config.ClassifierConfig
	logger *zap.Logger
}

// New creates a Classifier from the classifier section of the config.
func New(cfg config.ClassifierConfig, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LoggedInThreshold < 1 {
		cfg.LoggedInThreshold = 2
	}
	if cfg.LoginFieldThreshold < 1 {
		cfg.LoginFieldThreshold = 2
	}
	return &Classifier{cfg: cfg, logger: logger.Named("classifier")}
}

// Classify evaluates the rules in order and returns the first match. A URL on
// a login path is a login wall whatever the DOM holds. Otherwise visible puzzle
// and checkbox widgets win, then a content URL short-circuits to NoChallenge,
// then title keywords, URL keywords, the logged-in marker count and finally
// visible login fields are consulted. Title and URL keyword hits are recorded
// as evidence whichever rule decides.
func (c *Classifier) Classify(ctx context.Context, s schemas.BrowserSurface) schemas.ChallengeVerdict {
	var evidence []string
	verdict := func(kind schemas.ChallengeKind, rule string) schemas.ChallengeVerdict {
		c.logger.Debug("Page classified",
			zap.String("kind", string(kind)),
			zap.String("rule", rule),
			zap.Strings("evidence", evidence))
		return schemas.ChallengeVerdict{Kind: kind, Evidence: evidence}
	}

	url, _ := s.CurrentURL(ctx)
	title, _ := s.Title(ctx)
	lowerURL := strings.ToLower(url)
	lowerTitle := strings.ToLower(title)

	loginURLHits := prefixed("url", matchKeywords(lowerURL, c.cfg.LoginURLKeywords))
	challengeTitleHits := prefixed("title", matchKeywords(lowerTitle, c.cfg.ChallengeTitleKeywords))
	loginTitleHits := prefixed("title", matchKeywords(lowerTitle, c.cfg.LoginTitleKeywords))
	challengeURLHits := prefixed("url", matchKeywords(lowerURL, c.cfg.ChallengeURLKeywords))
	evidence = append(evidence, loginURLHits...)
	evidence = append(evidence, challengeTitleHits...)
	evidence = append(evidence, loginTitleHits...)
	evidence = append(evidence, challengeURLHits...)

	widgetKind, widgetEvidence := c.Widget(ctx, s)
	evidence = append(evidence, widgetEvidence...)

	if len(loginURLHits) > 0 {
		return verdict(schemas.LoginWall, "login url")
	}
	if widgetKind != schemas.NoChallenge {
		return verdict(widgetKind, "widget markers")
	}
	if c.IsContentURL(url) {
		evidence = append(evidence, "content-url:"+url)
		return verdict(schemas.NoChallenge, "content url")
	}

	if len(challengeTitleHits) > 0 {
		return verdict(schemas.UnknownChallenge, "challenge title")
	}
	if len(loginTitleHits) > 0 {
		return verdict(schemas.LoginWall, "login title")
	}
	if len(challengeURLHits) > 0 {
		return verdict(schemas.UnknownChallenge, "challenge url")
	}

	loggedIn, markers := c.loggedInMarkers(ctx, s)
	evidence = append(evidence, prefixed("logged-in", markers)...)
	if loggedIn >= c.cfg.LoggedInThreshold {
		return verdict(schemas.NoChallenge, "logged-in markers")
	}

	fields := c.visibleMatches(ctx, s, c.cfg.LoginFieldSelectors)
	evidence = append(evidence, prefixed("login-field", fields)...)
	if len(fields) >= c.cfg.LoginFieldThreshold {
		return verdict(schemas.LoginWall, "login fields")
	}

	return verdict(schemas.NoChallenge, "default")
}

// Widget reports which challenge widget is visible, looking only at the DOM.
// A visible puzzle outranks a checkbox since the checkbox frame stays on the
// page while the puzzle is open.
func (c *Classifier) Widget(ctx context.Context, s schemas.BrowserSurface) (schemas.ChallengeKind, []string) {
	var evidence []string
	puzzle := c.visibleMatches(ctx, s, c.cfg.PuzzleSelectors)
	evidence = append(evidence, prefixed("puzzle", puzzle)...)
	checkbox := c.visibleMatches(ctx, s, c.cfg.CheckboxSelectors)
	evidence = append(evidence, prefixed("checkbox", checkbox)...)

	switch {
	case len(puzzle) > 0:
		return schemas.GridPuzzleChallenge, evidence
	case len(checkbox) > 0:
		return schemas.CheckboxChallenge, evidence
	}
	return schemas.NoChallenge, evidence
}

// DetectLoginWall applies only the login-wall rules: a login URL path, a login
// title, or enough visible credential fields.
func (c *Classifier) DetectLoginWall(ctx context.Context, s schemas.BrowserSurface) (bool, []string) {
	url, _ := s.CurrentURL(ctx)
	title, _ := s.Title(ctx)

	if hits := matchKeywords(strings.ToLower(url), c.cfg.LoginURLKeywords); len(hits) > 0 {
		return true, prefixed("url", hits)
	}
	if hits := matchKeywords(strings.ToLower(title), c.cfg.LoginTitleKeywords); len(hits) > 0 {
		return true, prefixed("title", hits)
	}
	fields := c.visibleMatches(ctx, s, c.cfg.LoginFieldSelectors)
	if len(fields) >= c.cfg.LoginFieldThreshold {
		return true, prefixed("login-field", fields)
	}
	return false, nil
}

// LoggedInMarkerCount returns how many of the logged-in navigation markers are visible.
func (c *Classifier) LoggedInMarkerCount(ctx context.Context, s schemas.BrowserSurface) int {
	n, _ := c.loggedInMarkers(ctx, s)
	return n
}

// IsAuthenticated reports whether enough logged-in markers are visible.
func (c *Classifier) IsAuthenticated(ctx context.Context, s schemas.BrowserSurface) bool {
	return c.LoggedInMarkerCount(ctx, s) >= c.cfg.LoggedInThreshold
}

// IsContentURL reports whether url points into the site's authenticated content area.
func (c *Classifier) IsContentURL(url string) bool {
	lower := strings.ToLower(url)
	for _, kw := range c.cfg.LoginURLKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	return len(matchKeywords(lower, c.cfg.ContentURLMarkers)) > 0
}

func (c *Classifier) loggedInMarkers(ctx context.Context, s schemas.BrowserSurface) (int, []string) {
	hits := c.visibleMatches(ctx, s, c.cfg.LoggedInMarkers)
	return len(hits), hits
}

// visibleMatches returns the selectors that match at least one visible element.
// Query failures count as no match.
func (c *Classifier) visibleMatches(ctx context.Context, s schemas.BrowserSurface, selectors []string) []string {
	var hits []string
	for _, sel := range selectors {
		els, err := s.QueryAll(ctx, sel)
		if err != nil {
			c.logger.Debug("Marker query failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		for _, el := range els {
			if el.Visible {
				hits = append(hits, sel)
				break
			}
		}
	}
	return hits
}

func matchKeywords(haystack string, keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			hits = append(hits, kw)
		}
	}
	return hits
}

func prefixed(kind string, values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprintf("%s:%s", kind, v))
	}
	return out
}
