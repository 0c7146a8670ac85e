// Package oracle turns puzzle screenshots into region selections using a
// vision-capable model, and decides which of the model's picks are trustworthy.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/config"
	"github.com/xkilldash9x/gatewalk/internal/humanoid"
)

var (
	ErrEmptyImage        = errors.New("empty image")
	ErrEmptyResponse     = errors.New("oracle returned an empty response")
	ErrMalformedResponse = errors.New("oracle returned a malformed response")
	ErrUnavailable       = errors.New("oracle unavailable")
)

// VisionClient sends one prompt plus image to a model and returns its raw text.
type VisionClient interface {
	Complete(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// Adapter implements schemas.PerceptionOracle on top of a VisionClient.
type Adapter struct {
	client  VisionClient
	cfg     config.OracleConfig
	logger  *zap.Logger
	limiter *rate.Limiter
	hedges  *HedgeMatcher
	sleep   humanoid.SleepFunc
}

var _ schemas.PerceptionOracle = (*Adapter)(nil)

// NewAdapter wraps client with the retry, parsing and filtering policy from cfg.
func NewAdapter(client VisionClient, cfg config.OracleConfig, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MalformedRetries < 0 {
		cfg.MalformedRetries = 0
	}
	if cfg.HedgeWords == nil {
		cfg.HedgeWords = config.DefaultHedgeWords
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &Adapter{
		client:  client,
		cfg:     cfg,
		logger:  logger.Named("oracle"),
		limiter: rate.NewLimiter(limit, 1),
		hedges:  NewHedgeMatcher(cfg.HedgeWords),
		sleep:   humanoid.Sleep,
	}
}

// SetSleep replaces the backoff wait.
func (a *Adapter) SetSleep(fn humanoid.SleepFunc) {
	a.sleep = fn
}

// ClassifyRegions asks the model which regions of image match the on-screen instruction.
// Network failures are retried with backoff; a malformed reply is retried with the
// same input; an empty reply fails immediately.
func (a *Adapter) ClassifyRegions(ctx context.Context, image []byte, pc schemas.PromptContext) (*schemas.PuzzleAnalysis, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}

	prompt := BuildPrompt(pc)
	mimeType := http.DetectContentType(image)
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/png"
	}

	var lastErr error
	malformed := 0
	for attempt := 1; attempt <= a.cfg.MaxAttempts; {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		text, err := a.client.Complete(ctx, prompt, image, mimeType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			a.logger.Warn("Oracle call failed", zap.Int("attempt", attempt), zap.Int("max_attempts", a.cfg.MaxAttempts), zap.Error(err))
			if attempt == a.cfg.MaxAttempts {
				break
			}
			if err := a.sleep(ctx, a.backoff(attempt)); err != nil {
				return nil, err
			}
			attempt++
			continue
		}

		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyResponse
		}

		analysis, err := ParseAnalysis(text)
		if err != nil {
			if malformed < a.cfg.MalformedRetries {
				malformed++
				a.logger.Warn("Oracle reply was not valid JSON, asking again", zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}

		refined, dropped := Refine(analysis, pc.Regions(), a.cfg.MaxSelections, a.hedges)
		a.logger.Info("Oracle verdict",
			zap.String("instruction", refined.InstructionText),
			zap.Ints("proposed", analysis.MatchingRegionIDs),
			zap.Ints("selected", refined.MatchingRegionIDs),
			zap.Strings("dropped", dropped))
		return refined, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, a.cfg.MaxAttempts, lastErr)
}

// backoff doubles from BackoffBase, capped at BackoffMax.
func (a *Adapter) backoff(attempt int) time.Duration {
	d := a.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if a.cfg.BackoffMax > 0 && d > a.cfg.BackoffMax {
		d = a.cfg.BackoffMax
	}
	return d
}

// BuildPrompt renders the fixed instruction sent with every puzzle image.
func BuildPrompt(pc schemas.PromptContext) string {
	regions := pc.Regions()
	side := 3
	if regions == 16 {
		side = 4
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The image shows a %dx%d image-selection puzzle. ", side, side)
	fmt.Fprintf(&b, "Its regions are numbered 1 to %d, left to right, then top to bottom.\n", regions)
	b.WriteString("Read the instruction printed above the grid and decide which regions clearly contain what it asks for.\n")
	if pc.Hint != "" {
		fmt.Fprintf(&b, "The page reports the instruction as: %q.\n", pc.Hint)
	}
	b.WriteString("Reply with a single JSON object and nothing else, shaped exactly like:\n")
	b.WriteString(`{"instruction": "<instruction text>", "matching_tiles": [<region numbers>], "reasoning": {"<region number>": "<what you see in it>"}}`)
	b.WriteString("\nGive a reasoning entry for every region you list. ")
	b.WriteString("Leave out any region you are not certain about, and return an empty matching_tiles list when nothing clearly matches.")
	return b.String()
}
