package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/browser"
	"github.com/xkilldash9x/gatewalk/internal/config"
	"github.com/xkilldash9x/gatewalk/internal/engine"
	"github.com/xkilldash9x/gatewalk/internal/humanoid"
	"github.com/xkilldash9x/gatewalk/internal/network"
	"github.com/xkilldash9x/gatewalk/internal/oracle"
)

// Components holds everything a command needs for a live run and releases it
// in order on Shutdown.
type Components struct {
	Browser *browser.Manager
	Surface *browser.Surface
	Human   *humanoid.Humanoid
	Oracle  schemas.PerceptionOracle
	Engine  *engine.Engine

	logger *zap.Logger
}

// Shutdown closes the tab and stops Chrome.
func (c *Components) Shutdown() {
	c.logger.Debug("Beginning components shutdown sequence")
	if c.Surface != nil {
		c.Surface.Close()
	}
	if c.Browser != nil {
		if err := c.Browser.Shutdown(context.Background()); err != nil {
			c.logger.Warn("Browser shutdown failed", zap.Error(err))
		}
	}
}

// initializeComponents starts Chrome, opens a tab and wires the engine.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{logger: logger}

	o, err := newOracle(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Oracle = o

	mgr, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	c.Browser = mgr

	surface, err := mgr.NewSurface(ctx)
	if err != nil {
		c.Shutdown()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}
	c.Surface = surface

	c.Human = humanoid.New(cfg.Browser.Humanoid, logger)
	c.Engine = engine.New(cfg, c.Oracle, c.Human, logger)
	return c, nil
}

// newOracle returns nil when no model can be reached, which makes the
// resolver submit grid puzzles without a selection.
func newOracle(cfg *config.Config, logger *zap.Logger) (schemas.PerceptionOracle, error) {
	if cfg.Oracle.APIKey == "" && cfg.Oracle.Provider != config.ProviderOllama {
		logger.Warn("No oracle API key configured, grid puzzles will be submitted blind", zap.String("provider", string(cfg.Oracle.Provider)))
		return nil, nil
	}

	cc, err := network.ClientConfigFrom(cfg.Network, logger)
	if err != nil {
		return nil, err
	}
	client, err := oracle.NewHTTPVisionClient(cfg.Oracle, network.NewClient(cc))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oracle client: %w", err)
	}
	return oracle.NewAdapter(client, cfg.Oracle, logger), nil
}
