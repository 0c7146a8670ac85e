package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/gatewalk/api/schemas"
)

var (
	ErrNoJSONObject = errors.New("no JSON object found in response")
	digitsRe        = regexp.MustCompile(`\d+`)
)

// rawAnalysis is the wire shape. Tile ids may arrive as numbers or strings.
type rawAnalysis struct {
	Instruction     string                     `json:"instruction"`
	MatchingTiles   []json.RawMessage          `json:"matching_tiles"`
	MatchingRegions []json.RawMessage          `json:"matching_regions"`
	Reasoning       map[string]json.RawMessage `json:"reasoning"`
}

// ExtractJSONObject returns the first balanced {...} block in text, ignoring
// braces that appear inside JSON strings.
func ExtractJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", ErrNoJSONObject
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced braces", ErrNoJSONObject)
}

// ParseAnalysis decodes an oracle reply. The whole reply is tried first, then
// the first balanced object inside it.
func ParseAnalysis(text string) (*schemas.PuzzleAnalysis, error) {
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		block, extractErr := ExtractJSONObject(text)
		if extractErr != nil {
			return nil, extractErr
		}
		raw = rawAnalysis{}
		if err := json.Unmarshal([]byte(block), &raw); err != nil {
			return nil, fmt.Errorf("decoding extracted object: %w", err)
		}
	}

	tiles := raw.MatchingTiles
	if tiles == nil {
		tiles = raw.MatchingRegions
	}

	analysis := &schemas.PuzzleAnalysis{
		InstructionText:       strings.TrimSpace(raw.Instruction),
		MatchingRegionIDs:     make([]int, 0, len(tiles)),
		JustificationByRegion: make(map[int]string, len(raw.Reasoning)),
	}
	for _, t := range tiles {
		if id, ok := regionID(t); ok {
			analysis.MatchingRegionIDs = append(analysis.MatchingRegionIDs, id)
		}
	}
	for key, val := range raw.Reasoning {
		id, ok := firstInt(key)
		if !ok {
			continue
		}
		analysis.JustificationByRegion[id] = stringify(val)
	}
	return analysis, nil
}

func regionID(raw json.RawMessage) (int, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return firstInt(s)
	}
	return 0, false
}

func firstInt(s string) (int, bool) {
	m := digitsRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	return n, err == nil
}

func stringify(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// HedgeMatcher recognises hedging language in a justification.
type HedgeMatcher struct {
	re *regexp.Regexp
}

// NewHedgeMatcher builds a case-insensitive whole-word matcher. An empty list matches nothing.
func NewHedgeMatcher(words []string) *HedgeMatcher {
	var parts []string
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(strings.ToLower(w)))
	}
	if len(parts) == 0 {
		return &HedgeMatcher{}
	}
	return &HedgeMatcher{re: regexp.MustCompile(`(?i)\b(` + strings.Join(parts, "|") + `)\b`)}
}

// Match returns the first hedge found in text, if any.
func (h *HedgeMatcher) Match(text string) (string, bool) {
	if h.re == nil {
		return "", false
	}
	m := h.re.FindString(text)
	return m, m != ""
}

// Refine applies the post-processing rules to a decoded analysis: ids outside
// 1..regions and duplicates are dropped, ids without a justification or with
// a hedged one are dropped, and at most maxSelections of the survivors are kept
// in the order the oracle listed them.
func Refine(a *schemas.PuzzleAnalysis, regions, maxSelections int, hedges *HedgeMatcher) (*schemas.PuzzleAnalysis, []string) {
	var dropped []string
	out := &schemas.PuzzleAnalysis{
		InstructionText:       a.InstructionText,
		MatchingRegionIDs:     []int{},
		JustificationByRegion: make(map[int]string, len(a.JustificationByRegion)),
	}
	for id, reason := range a.JustificationByRegion {
		out.JustificationByRegion[id] = reason
	}

	seen := make(map[int]bool, len(a.MatchingRegionIDs))
	for _, id := range a.MatchingRegionIDs {
		switch reason, hasReason := a.JustificationByRegion[id]; {
		case id < 1 || id > regions:
			dropped = append(dropped, fmt.Sprintf("%d: out of range", id))
		case seen[id]:
			// duplicate
		case !hasReason || strings.TrimSpace(reason) == "":
			dropped = append(dropped, fmt.Sprintf("%d: no justification", id))
		default:
			if hedge, hedged := hedges.Match(reason); hedged {
				dropped = append(dropped, fmt.Sprintf("%d: hedged (%s)", id, hedge))
				break
			}
			if len(out.MatchingRegionIDs) >= maxSelections {
				dropped = append(dropped, fmt.Sprintf("%d: over selection cap", id))
				break
			}
			out.MatchingRegionIDs = append(out.MatchingRegionIDs, id)
		}
		seen[id] = true
	}
	return out, dropped
}
