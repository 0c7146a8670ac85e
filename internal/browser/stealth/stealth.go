// Package stealth masks the most common automation fingerprints of a
// chromedp-driven tab.
package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/internal/config"
)

// EvasionsJS is injected into every new document before page scripts run.
//
//go:embed evasions.js
var EvasionsJS string

// Persona is the browser identity presented to pages.
type Persona struct {
	UserAgent           string   `json:"userAgent"`
	Platform            string   `json:"platform"`
	Languages           []string `json:"languages"`
	Width               int      `json:"width"`
	Height              int      `json:"height"`
	HardwareConcurrency int      `json:"hardwareConcurrency,omitempty"`
	WebGLVendor         string   `json:"webglVendor,omitempty"`
	WebGLRenderer       string   `json:"webglRenderer,omitempty"`
}

// DefaultPersona is a current desktop Chrome on Windows.
var DefaultPersona = Persona{
	UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
	Platform:            "Win32",
	Languages:           []string{"en-US", "en"},
	Width:               1366,
	Height:              768,
	HardwareConcurrency: 8,
	WebGLVendor:         "Google Inc. (Intel)",
	WebGLRenderer:       "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)",
}

// PersonaFromConfig fills the default persona with whatever cfg overrides.
func PersonaFromConfig(cfg config.BrowserConfig) Persona {
	p := DefaultPersona
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if cfg.Platform != "" {
		p.Platform = cfg.Platform
	}
	if len(cfg.Languages) > 0 {
		p.Languages = append([]string(nil), cfg.Languages...)
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		p.Width = cfg.Viewport.Width
		p.Height = cfg.Viewport.Height
	}
	return p
}

// Script returns the evasion script with the persona bound in front of it.
func Script(p Persona) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode persona: %w", err)
	}
	return "window.__gatewalkPersona = " + string(data) + ";\n" + EvasionsJS, nil
}

// Apply overrides the user agent and registers the evasion script for every
// document the tab loads from now on.
func Apply(p Persona, logger *zap.Logger) chromedp.Action {
	if logger == nil {
		logger = zap.NewNop()
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ua := emulation.SetUserAgentOverride(p.UserAgent).WithPlatform(p.Platform)
		if len(p.Languages) > 0 {
			ua = ua.WithAcceptLanguage(strings.Join(p.Languages, ","))
		}
		if err := ua.Do(ctx); err != nil {
			return fmt.Errorf("failed to override user agent: %w", err)
		}

		script, err := Script(p)
		if err != nil {
			return err
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			return fmt.Errorf("failed to register evasion script: %w", err)
		}
		logger.Debug("Stealth evasions applied", zap.String("user_agent", p.UserAgent), zap.String("platform", p.Platform))
		return nil
	})
}
