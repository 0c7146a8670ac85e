package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewalk/internal/config"
	"github.com/xkilldash9x/gatewalk/internal/observability"
)

func newRunCmd() *cobra.Command {
	var keepOpen bool

	cmd := &cobra.Command{
		Use:   "run [url]",
		Short: "Open a browser, sign in if needed and clear any challenge on the way to url",
		Long: `Restores the saved session (or signs in), navigates to the target and works
through any checkbox or image-grid challenge. The outcome is printed as JSON.
Without an argument the configured target.url is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			target := cfg.Target.URL
			if len(args) == 1 {
				target = args[0]
			}

			comps, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			out := comps.Engine.EnsureAuthenticatedAndChallengeFree(ctx, comps.Surface, target)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("failed to write outcome: %w", err)
			}

			if keepOpen && ctx.Err() == nil {
				logger.Info("Leaving the browser open, press Ctrl+C to exit")
				<-ctx.Done()
			}
			if !out.Success {
				logger.Warn("Target not reached", zap.String("run_id", out.RunID), zap.String("final_url", out.FinalURL))
				return fmt.Errorf("target %s not reached", target)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepOpen, "keep-open", false, "keep the browser open after the run until interrupted")
	return cmd
}
