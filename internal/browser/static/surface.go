// Package static implements schemas.BrowserSurface over saved HTML documents.
// Selectors are evaluated with goquery, navigation follows a route table and
// every pointer and keyboard action is recorded. It backs offline classification
// of captured pages and the engine's tests.
package static

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/xkilldash9x/gatewalk/api/schemas"
)

var (
	ErrNoRoute           = errors.New("no route registered")
	ErrScriptUnsupported = errors.New("script evaluation not supported by static surface")
	ErrWaitTimeout       = errors.New("selector did not appear")
	ErrNoHistory         = errors.New("no previous history entry")
	ErrFrameNotFound     = errors.New("frame not found")
)

const defaultViewportHeight = 800.0

// Page is one document served by the surface. An empty URL means the page is
// served at the requested URL; a different URL models a redirect.
type Page struct {
	URL   string
	Title string
	HTML  string
	// SetCookies are added to the jar when the page is served.
	SetCookies []schemas.Cookie
}

// Click is a recorded pointer press.
type Click struct {
	Target string
	Point  schemas.Point
}

type entry struct {
	requested string
	page      Page
	doc       *goquery.Document
}

// Surface is a scripted, in-memory page.
type Surface struct {
	mu sync.Mutex

	routes  map[string][]Page
	visits  map[string]int
	history []entry
	cur     int
	cookies []schemas.Cookie

	clicks      []Click
	moves       []schemas.Point
	keys        []string
	typed       strings.Builder
	scrolls     []float64
	navigations []string
	backs       int
	reloads     int

	// OnClick runs after a click is recorded, with the lock released.
	OnClick func(s *Surface, c Click)
	// OnKey runs after a key press is recorded, with the lock released.
	OnKey func(s *Surface, key string)
	// EvalFunc answers scripts the surface does not understand itself.
	EvalFunc func(script string) (any, error)
	// FrameEvalFunc answers EvaluateInFrame for a matched frame.
	FrameEvalFunc func(frameSelector, script string) (any, error)
	// Shot is returned by Screenshot.
	Shot []byte
}

var (
	_ schemas.BrowserSurface = (*Surface)(nil)
	_ schemas.FrameEvaluator = (*Surface)(nil)
)

// New creates an empty surface on about:blank.
func New() *Surface {
	s := &Surface{
		routes: make(map[string][]Page),
		visits: make(map[string]int),
		cur:    -1,
		Shot:   []byte("\x89PNG\r\n\x1a\n"),
	}
	_ = s.Show(Page{URL: "about:blank", HTML: "<html><head></head><body></body></html>"})
	return s
}

// Route registers the pages served for url. Successive visits walk the list
// and the last page repeats once the list is exhausted.
func (s *Surface) Route(url string, pages ...Page) *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[url] = pages
	s.visits[url] = 0
	return s
}

// Show makes page current without a navigation, as if a script replaced the document.
func (s *Surface) Show(page Page) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return fmt.Errorf("parsing page %s: %w", page.URL, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur >= 0 {
		s.history[s.cur] = entry{requested: s.history[s.cur].requested, page: page, doc: doc}
		return nil
	}
	s.history = append(s.history, entry{requested: page.URL, page: page, doc: doc})
	s.cur = 0
	return nil
}

// Navigate serves the next page routed for url and pushes it onto the history.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, url)
	e, err := s.serve(url)
	if err != nil {
		return err
	}
	s.history = append(s.history[:s.cur+1], e)
	s.cur = len(s.history) - 1
	return nil
}

// serve assumes the lock is held.
func (s *Surface) serve(url string) (entry, error) {
	pages, ok := s.routes[url]
	if !ok || len(pages) == 0 {
		return entry{}, fmt.Errorf("%w: %s", ErrNoRoute, url)
	}
	idx := s.visits[url]
	if idx >= len(pages) {
		idx = len(pages) - 1
	}
	s.visits[url]++

	page := pages[idx]
	if page.URL == "" {
		page.URL = url
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return entry{}, fmt.Errorf("parsing page %s: %w", page.URL, err)
	}
	s.cookies = mergeCookies(s.cookies, page.SetCookies)
	return entry{requested: url, page: page, doc: doc}, nil
}

func (s *Surface) current() entry {
	return s.history[s.cur]
}

func (s *Surface) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current().page.URL, ctx.Err()
}

func (s *Surface) Title(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.current()
	if e.page.Title != "" {
		return e.page.Title, ctx.Err()
	}
	return strings.TrimSpace(e.doc.Find("title").First().Text()), ctx.Err()
}

func (s *Surface) QueryOne(ctx context.Context, selector string) (*schemas.Element, error) {
	els, err := s.QueryAll(ctx, selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return &els[0], nil
}

func (s *Surface) QueryAll(ctx context.Context, selector string) ([]schemas.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return query(s.current().doc.Selection, selector, "", schemas.Point{})
}

func (s *Surface) QueryInFrame(ctx context.Context, frameSelector, selector string) ([]schemas.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := cascadia.Compile(frameSelector)
	if err != nil {
		return nil, fmt.Errorf("invalid frame selector %q: %w", frameSelector, err)
	}
	frame := s.current().doc.FindMatcher(m).First()
	if frame.Length() == 0 {
		return nil, nil
	}
	srcdoc, ok := frame.Attr("srcdoc")
	if !ok {
		return nil, fmt.Errorf("%w: %s has no inline document", ErrFrameNotFound, frameSelector)
	}
	inner, err := goquery.NewDocumentFromReader(strings.NewReader(srcdoc))
	if err != nil {
		return nil, fmt.Errorf("parsing frame %s: %w", frameSelector, err)
	}
	origin := boxOf(frame, 0)
	return query(inner.Selection, selector, frameSelector, schemas.Point{X: origin.X, Y: origin.Y})
}

func (s *Surface) WaitFor(ctx context.Context, selector string, _ time.Duration) error {
	el, err := s.QueryOne(ctx, selector)
	if err != nil {
		return err
	}
	if el == nil {
		return fmt.Errorf("%w: %s", ErrWaitTimeout, selector)
	}
	return nil
}

func (s *Surface) Click(ctx context.Context, target string, p schemas.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := Click{Target: target, Point: p}
	s.mu.Lock()
	s.clicks = append(s.clicks, c)
	hook := s.OnClick
	s.mu.Unlock()
	if hook != nil {
		hook(s, c)
	}
	return nil
}

func (s *Surface) MoveTo(ctx context.Context, p schemas.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moves = append(s.moves, p)
	return nil
}

func (s *Surface) TypeText(ctx context.Context, _ string, text string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typed.WriteString(text)
	return nil
}

func (s *Surface) PressKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.keys = append(s.keys, key)
	hook := s.OnKey
	s.mu.Unlock()
	if hook != nil {
		hook(s, key)
	}
	return nil
}

func (s *Surface) Screenshot(ctx context.Context, _ *schemas.Box) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.Shot...), ctx.Err()
}

// Evaluate understands scrollBy, innerHeight and scrollY; anything else goes to EvalFunc.
func (s *Surface) Evaluate(ctx context.Context, script string, res any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	hook := s.EvalFunc
	var (
		value   any
		handled = true
	)
	switch {
	case strings.HasPrefix(script, "window.scrollBy("):
		args := strings.TrimSuffix(strings.TrimPrefix(script, "window.scrollBy("), ")")
		if parts := strings.Split(args, ","); len(parts) == 2 {
			if dy, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err == nil {
				s.scrolls = append(s.scrolls, dy)
			}
		}
	case script == "window.innerHeight":
		value = defaultViewportHeight
	case script == "window.scrollY":
		value = 0
	default:
		handled = false
	}
	s.mu.Unlock()

	if !handled {
		if hook == nil {
			return ErrScriptUnsupported
		}
		v, err := hook(script)
		if err != nil {
			return err
		}
		value = v
	}
	return decode(value, res)
}

// EvaluateInFrame hands script to FrameEvalFunc when frameSelector matches.
// The origin is the frame element's box.
func (s *Surface) EvaluateInFrame(ctx context.Context, frameSelector, script string, res any) (schemas.Point, bool, error) {
	if err := ctx.Err(); err != nil {
		return schemas.Point{}, false, err
	}
	m, err := cascadia.Compile(frameSelector)
	if err != nil {
		return schemas.Point{}, false, fmt.Errorf("invalid frame selector %q: %w", frameSelector, err)
	}
	s.mu.Lock()
	frame := s.current().doc.FindMatcher(m).First()
	found := frame.Length() > 0
	var origin schemas.Point
	if found {
		box := boxOf(frame, 0)
		origin = schemas.Point{X: box.X, Y: box.Y}
	}
	hook := s.FrameEvalFunc
	s.mu.Unlock()

	if !found {
		return schemas.Point{}, false, nil
	}
	if hook == nil {
		return origin, true, ErrScriptUnsupported
	}
	v, err := hook(frameSelector, script)
	if err != nil {
		return origin, true, err
	}
	return origin, true, decode(v, res)
}

func decode(value, res any) error {
	if res == nil || value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, res)
}

func (s *Surface) GoBack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur <= 0 {
		return ErrNoHistory
	}
	s.cur--
	s.backs++
	return nil
}

// Reload serves the route of the current entry again.
func (s *Surface) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads++
	requested := s.current().requested
	if _, ok := s.routes[requested]; !ok {
		return nil
	}
	e, err := s.serve(requested)
	if err != nil {
		return err
	}
	s.history[s.cur] = e
	return nil
}

func (s *Surface) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.Cookie(nil), s.cookies...), ctx.Err()
}

func (s *Surface) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = mergeCookies(s.cookies, cookies)
	return nil
}

// -- Recorded activity --

func (s *Surface) Clicks() []Click {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Click(nil), s.clicks...)
}

func (s *Surface) Moves() []schemas.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.Point(nil), s.moves...)
}

func (s *Surface) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func (s *Surface) Typed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typed.String()
}

func (s *Surface) Scrolls() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.scrolls...)
}

func (s *Surface) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

func (s *Surface) Backs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backs
}

func (s *Surface) Reloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}

// -- Helpers --

func query(root *goquery.Selection, selector, frame string, offset schemas.Point) ([]schemas.Element, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	var out []schemas.Element
	root.FindMatcher(m).Each(func(i int, sel *goquery.Selection) {
		box := boxOf(sel, i)
		box.X += offset.X
		box.Y += offset.Y
		out = append(out, schemas.Element{
			Selector: selector,
			Index:    i,
			Frame:    frame,
			Visible:  visible(sel),
			Box:      box,
			Text:     strings.TrimSpace(sel.Text()),
		})
	})
	return out, nil
}

// boxOf reads data-box="x,y,w,h". Elements without one are laid out in a column.
func boxOf(sel *goquery.Selection, index int) schemas.Box {
	if raw, ok := sel.Attr("data-box"); ok {
		parts := strings.Split(raw, ",")
		if len(parts) == 4 {
			vals := make([]float64, 4)
			valid := true
			for i, p := range parts {
				v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
				if err != nil {
					valid = false
					break
				}
				vals[i] = v
			}
			if valid {
				return schemas.Box{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
			}
		}
	}
	return schemas.Box{X: 10, Y: 10 + float64(index)*30, Width: 100, Height: 20}
}

// visible walks up the tree looking for anything that hides the element.
func visible(sel *goquery.Selection) bool {
	if t, _ := sel.Attr("type"); strings.EqualFold(t, "hidden") {
		return false
	}
	for n := sel; n.Length() > 0; n = n.Parent() {
		if _, hidden := n.Attr("hidden"); hidden {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(n.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func mergeCookies(jar, add []schemas.Cookie) []schemas.Cookie {
	for _, c := range add {
		replaced := false
		for i := range jar {
			if jar[i].Name == c.Name && jar[i].Domain == c.Domain && jar[i].Path == c.Path {
				jar[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			jar = append(jar, c)
		}
	}
	return jar
}
