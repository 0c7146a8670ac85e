package schemas

import (
	"context"
	"time"
)

// Point is a position in CSS pixels relative to the top-left of the viewport.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned rectangle in viewport coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the geometric center of the box.
func (b Box) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Element is a snapshot of a DOM element returned by a surface query.
// It carries no live reference to the node, so it stays valid after navigation.
type Element struct {
	Selector string `json:"selector"`
	// Index is the position of the element in the query result.
	Index int `json:"index"`
	// Frame is the selector of the iframe the element was found in, empty for the top document.
	Frame   string `json:"frame,omitempty"`
	Visible bool   `json:"visible"`
	Box     Box    `json:"box"`
	Text    string `json:"text,omitempty"`
}

// Cookie mirrors the storage-state cookie layout used for session snapshots.
// Expires is seconds since the epoch, -1 for a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Key names understood by BrowserSurface.PressKey.
const (
	KeyEscape = "Escape"
	KeyEnter  = "Enter"
	KeyTab    = "Tab"
)

// BrowserSurface is a live page driven by some automation backend.
// It is owned by the caller and borrowed by the engine for the duration of a call;
// no component keeps a reference to it between calls.
type BrowserSurface interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)

	// QueryOne returns the first element matching selector, or nil when nothing matches.
	QueryOne(ctx context.Context, selector string) (*Element, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// QueryInFrame runs selector inside the document of the first iframe matching frameSelector.
	QueryInFrame(ctx context.Context, frameSelector, selector string) ([]Element, error)
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error

	// Click presses and releases the primary button at p. target is informational and may be empty.
	Click(ctx context.Context, target string, p Point) error
	MoveTo(ctx context.Context, p Point) error
	// TypeText focuses target (when non-empty) and types text, pausing perCharDelay after each character.
	TypeText(ctx context.Context, target, text string, perCharDelay time.Duration) error
	PressKey(ctx context.Context, key string) error

	// Screenshot captures the viewport, or only clip when it is non-nil.
	Screenshot(ctx context.Context, clip *Box) ([]byte, error)
	// Evaluate runs script in the page and decodes its result into res (which may be nil).
	Evaluate(ctx context.Context, script string, res any) error

	GoBack(ctx context.Context) error
	Reload(ctx context.Context) error

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
}

// FrameEvaluator is implemented by surfaces that can run a script inside an
// iframe's document whatever its origin. The script sees the frame's own
// document and window. found is false when no frame matches frameSelector;
// origin is the frame's content origin in top-level viewport coordinates.
type FrameEvaluator interface {
	EvaluateInFrame(ctx context.Context, frameSelector, script string, res any) (origin Point, found bool, err error)
}
