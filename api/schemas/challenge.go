package schemas

import "context"

// ChallengeKind is the classification of the current page state.
type ChallengeKind string

const (
	NoChallenge         ChallengeKind = "NO_CHALLENGE"
	CheckboxChallenge   ChallengeKind = "CHECKBOX_CHALLENGE"
	GridPuzzleChallenge ChallengeKind = "GRID_PUZZLE_CHALLENGE"
	LoginWall           ChallengeKind = "LOGIN_WALL"
	UnknownChallenge    ChallengeKind = "UNKNOWN"
)

// IsChallenge reports whether the kind is something the resolver should engage on.
func (k ChallengeKind) IsChallenge() bool {
	switch k {
	case CheckboxChallenge, GridPuzzleChallenge, UnknownChallenge:
		return true
	}
	return false
}

// ChallengeVerdict is produced fresh by every classification and never mutated.
type ChallengeVerdict struct {
	Kind ChallengeKind `json:"kind"`
	// Evidence lists every matched selector or keyword, including signals
	// from rules that did not decide the kind.
	Evidence []string `json:"evidence,omitempty"`
}

// PuzzleAnalysis is the oracle's reading of a grid puzzle.
// MatchingRegionIDs are 1-based, row-major and unique.
type PuzzleAnalysis struct {
	InstructionText       string         `json:"instruction"`
	MatchingRegionIDs     []int          `json:"matching_tiles"`
	JustificationByRegion map[int]string `json:"reasoning"`
}

// PromptContext carries what the oracle needs to know beyond the image.
type PromptContext struct {
	// GridSize is the number of regions (9 or 16). Zero means 9.
	GridSize int
	// Hint is optional instruction text already read from the page.
	Hint string
}

// Regions returns the number of addressable regions, defaulting to a 3x3 grid.
func (pc PromptContext) Regions() int {
	if pc.GridSize == 16 {
		return 16
	}
	return 9
}

// PerceptionOracle reads a puzzle screenshot and reports which regions match.
type PerceptionOracle interface {
	ClassifyRegions(ctx context.Context, image []byte, pc PromptContext) (*PuzzleAnalysis, error)
}

// Strategy names a resolution technique.
type Strategy string

const (
	StrategyDirectClick      Strategy = "DIRECT_CLICK"
	StrategyFrameLocatorScan Strategy = "FRAME_LOCATOR_SCAN"
	StrategyScriptProbe      Strategy = "SCRIPT_PROBE"
	StrategyPuzzleOracle     Strategy = "PUZZLE_ORACLE"
)

// AttemptOutcome is the result of a single strategy attempt.
type AttemptOutcome string

const (
	AttemptSuccess  AttemptOutcome = "SUCCESS"
	AttemptNotFound AttemptOutcome = "NOT_FOUND"
	AttemptFailed   AttemptOutcome = "FAILED"
)

// ResolutionAttempt records one strategy execution. It is never persisted.
type ResolutionAttempt struct {
	Round    int            `json:"round"`
	Strategy Strategy       `json:"strategy"`
	Outcome  AttemptOutcome `json:"outcome"`
	Detail   string         `json:"detail,omitempty"`
}

// Outcome is what the caller of the engine gets back.
type Outcome struct {
	Success         bool   `json:"success"`
	FinalURL        string `json:"final_url"`
	RunID           string `json:"run_id"`
	SessionRestored bool   `json:"session_restored"`
	LoggedIn        bool   `json:"logged_in"`
	// ChallengeResolved is false when a challenge was met and the resolver ran out of rounds.
	ChallengeResolved bool                `json:"challenge_resolved"`
	Attempts          []ResolutionAttempt `json:"attempts,omitempty"`
}
