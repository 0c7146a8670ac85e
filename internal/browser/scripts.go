package browser

import (
	"encoding/json"
	"fmt"
)

// collectScript defines collect(root, sel), which reports geometry, visibility
// and text for every match of sel under root. Boxes are relative to the
// viewport of the document the script runs in.
const collectScript = `const collect = (root, sel) => {
  const items = [];
  for (const el of root.querySelectorAll(sel)) {
    const r = el.getBoundingClientRect();
    const view = el.ownerDocument.defaultView;
    const st = view ? view.getComputedStyle(el) : null;
    const visible = !!st && st.visibility !== "hidden" && st.display !== "none" &&
      parseFloat(st.opacity || "1") > 0 && el.getClientRects().length > 0;
    const text = (el.innerText || el.value || "").trim().slice(0, 200);
    items.push({ visible, x: r.left, y: r.top, width: r.width, height: r.height, text });
  }
  return items;
};`

// queryScript is an expression evaluating to the matches of a selector in the
// current document. Inside a frame it runs in the frame's own context.
const queryScript = `(() => { ` + collectScript + ` return collect(document, %s); })()`

// focusScript focuses the first match of a selector, if any.
const focusScript = `(() => { const el = document.querySelector(%s); if (el) { el.focus(); return true; } return false; })()`

const scrollOffsetScript = `[window.scrollX, window.scrollY]`

type queryItem struct {
	Visible bool    `json:"visible"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Text    string  `json:"text"`
}

// jsString encodes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func buildQuery(selector string) string {
	return fmt.Sprintf(queryScript, jsString(selector))
}

func buildFocus(selector string) string {
	return fmt.Sprintf(focusScript, jsString(selector))
}

// asFunction wraps an expression so it can be run with Runtime.callFunctionOn.
func asFunction(expr string) string {
	return "function() { return (" + expr + "); }"
}
