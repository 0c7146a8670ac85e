package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/api/schemas"
)

// checkboxStrategy is one way of getting a click onto a checkbox widget.
// The resolver tries them in slice order and stops at the first success.
type checkboxStrategy struct {
	name schemas.Strategy
	run  func(ctx context.Context, s schemas.BrowserSurface) (schemas.AttemptOutcome, string)
}

func (r *Resolver) checkboxStrategies() []checkboxStrategy {
	return []checkboxStrategy{
		{name: schemas.StrategyDirectClick, run: r.directClick},
		{name: schemas.StrategyFrameLocatorScan, run: r.frameLocatorScan},
		{name: schemas.StrategyScriptProbe, run: r.scriptProbe},
	}
}

// directClick clicks the center of the widget element in the top document.
func (r *Resolver) directClick(ctx context.Context, s schemas.BrowserSurface) (schemas.AttemptOutcome, string) {
	selectors := append(append([]string{}, r.cfg.CheckboxFrameSelectors...), r.cfg.CheckboxCandidates...)
	el, ok := firstVisible(ctx, s, selectors)
	if !ok {
		return schemas.AttemptNotFound, "no visible checkbox widget"
	}
	el, err := r.human.EnsureInView(ctx, s, el)
	if err != nil {
		return schemas.AttemptFailed, fmt.Sprintf("scrolling %s into view: %v", el.Selector, err)
	}
	if err := r.human.ClickElement(ctx, s, el); err != nil {
		return schemas.AttemptFailed, err.Error()
	}
	return schemas.AttemptSuccess, el.Selector
}

// frameLocatorScan looks inside each widget frame for a known checkbox candidate.
func (r *Resolver) frameLocatorScan(ctx context.Context, s schemas.BrowserSurface) (schemas.AttemptOutcome, string) {
	for _, frame := range r.cfg.CheckboxFrameSelectors {
		for _, candidate := range r.cfg.CheckboxCandidates {
			els, err := s.QueryInFrame(ctx, frame, candidate)
			if err != nil {
				r.logger.Debug("Frame query failed", zap.String("frame", frame), zap.String("selector", candidate), zap.Error(err))
				break
			}
			for _, el := range els {
				if !el.Visible || el.Box.Empty() {
					continue
				}
				if err := r.human.ClickElement(ctx, s, el); err != nil {
					return schemas.AttemptFailed, err.Error()
				}
				return schemas.AttemptSuccess, frame + " >> " + candidate
			}
		}
	}
	return schemas.AttemptNotFound, "no candidate inside any widget frame"
}

type probeResult struct {
	Found bool    `json:"found"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// probeScript walks the document and every reachable frame document for the
// first rendered candidate and reports its center in top-level coordinates.
const probeScript = `(() => {
  const selectors = %s;
  const probe = (doc, offX, offY) => {
    for (const sel of selectors) {
      let el = null;
      try { el = doc.querySelector(sel); } catch (e) { continue; }
      if (!el) continue;
      const r = el.getBoundingClientRect();
      if (r.width > 0 && r.height > 0) {
        return {found: true, x: offX + r.left + r.width / 2, y: offY + r.top + r.height / 2};
      }
    }
    for (const frame of doc.querySelectorAll('iframe')) {
      let inner = null;
      try { inner = frame.contentDocument; } catch (e) { continue; }
      if (!inner) continue;
      const fr = frame.getBoundingClientRect();
      const hit = probe(inner, offX + fr.left, offY + fr.top);
      if (hit.found) return hit;
    }
    return {found: false, x: 0, y: 0};
  };
  return probe(document, 0, 0);
})()`

// scriptProbe locates the checkbox with an in-page script and clicks the
// coordinates it reports. Frames the page script cannot enter are probed
// separately when the surface can evaluate inside them.
func (r *Resolver) scriptProbe(ctx context.Context, s schemas.BrowserSurface) (schemas.AttemptOutcome, string) {
	list, err := json.Marshal(r.cfg.CheckboxCandidates)
	if err != nil {
		return schemas.AttemptFailed, err.Error()
	}
	script := fmt.Sprintf(probeScript, list)
	var res probeResult
	if err := s.Evaluate(ctx, script, &res); err != nil {
		return schemas.AttemptFailed, fmt.Sprintf("probe script: %v", err)
	}
	if !res.Found {
		res = r.probeFrames(ctx, s, script)
	}
	if !res.Found {
		return schemas.AttemptNotFound, "probe found no checkbox markup"
	}
	p := schemas.Point{X: res.X, Y: res.Y}
	if err := r.human.Click(ctx, s, "script-probe", p); err != nil {
		return schemas.AttemptFailed, err.Error()
	}
	return schemas.AttemptSuccess, fmt.Sprintf("probe hit at (%.0f, %.0f)", p.X, p.Y)
}

// probeFrames runs the probe inside each widget frame and shifts a hit into
// top-level coordinates.
func (r *Resolver) probeFrames(ctx context.Context, s schemas.BrowserSurface, script string) probeResult {
	fe, ok := s.(schemas.FrameEvaluator)
	if !ok {
		return probeResult{}
	}
	for _, frame := range r.cfg.CheckboxFrameSelectors {
		var res probeResult
		origin, found, err := fe.EvaluateInFrame(ctx, frame, script, &res)
		if err != nil {
			r.logger.Debug("Frame probe failed", zap.String("frame", frame), zap.Error(err))
			continue
		}
		if found && res.Found {
			return probeResult{Found: true, X: origin.X + res.X, Y: origin.Y + res.Y}
		}
	}
	return probeResult{}
}

// firstVisible returns the first visible, non-empty element matching any selector.
func firstVisible(ctx context.Context, s schemas.BrowserSurface, selectors []string) (schemas.Element, bool) {
	for _, sel := range selectors {
		els, err := s.QueryAll(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if el.Visible && !el.Box.Empty() {
				return el, true
			}
		}
	}
	return schemas.Element{}, false
}

// firstVisibleInFrame is firstVisible scoped to the document of frame.
func firstVisibleInFrame(ctx context.Context, s schemas.BrowserSurface, frame string, selectors []string) (schemas.Element, bool) {
	for _, sel := range selectors {
		els, err := s.QueryInFrame(ctx, frame, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if el.Visible && !el.Box.Empty() {
				return el, true
			}
		}
	}
	return schemas.Element{}, false
}
