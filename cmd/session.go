package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/gatewalk/internal/classifier"
	"github.com/xkilldash9x/gatewalk/internal/config"
	"github.com/xkilldash9x/gatewalk/internal/humanoid"
	"github.com/xkilldash9x/gatewalk/internal/login"
	"github.com/xkilldash9x/gatewalk/internal/observability"
	"github.com/xkilldash9x/gatewalk/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or manage the saved authentication snapshot",
	}
	cmd.AddCommand(newSessionCheckCmd(), newSessionDeleteCmd(), newSessionSaveCmd())
	return cmd
}

func sessionManager(cfg *config.Config, h *humanoid.Humanoid) *session.Manager {
	logger := observability.GetLogger()
	if h == nil {
		h = humanoid.New(cfg.Browser.Humanoid, logger)
	}
	return session.NewManager(cfg.Session, cfg.Target.Domain, classifier.New(cfg.Classifier, logger), h, cfg.Guardian.SettleDelay, logger)
}

func newSessionCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the saved snapshot would restore",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := sessionManager(config.Get(), nil).Check()
			w := cmd.OutOrStdout()

			fmt.Fprintf(w, "snapshot: %s\n", st.Path)
			if !st.Valid {
				fmt.Fprintf(w, "status:   unusable (%v)\n", st.Err)
				return fmt.Errorf("session snapshot is not usable")
			}
			if st.ExpiresIn > 0 {
				fmt.Fprintf(w, "status:   valid, auth cookie expires in %s\n", st.ExpiresIn.Round(time.Minute))
			} else {
				fmt.Fprintln(w, "status:   valid, auth cookie lasts for the browser session")
			}
			for _, c := range st.Tracked {
				switch {
				case !c.Present:
					fmt.Fprintf(w, "  %-12s missing\n", c.Name)
				case c.Expires.IsZero():
					fmt.Fprintf(w, "  %-12s session\n", c.Name)
				default:
					fmt.Fprintf(w, "  %-12s expires %s\n", c.Name, c.Expires.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the saved snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := sessionManager(config.Get(), nil)
			if err := m.Delete(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", m.Store().Path(config.Get().Target.Domain))
			return nil
		},
	}
}

func newSessionSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Sign in through the browser and save a fresh snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Get()
			logger := observability.GetLogger()

			comps, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			c := classifier.New(cfg.Classifier, logger)
			if err := login.New(cfg.Login, c, comps.Human, logger).Login(ctx, comps.Surface); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if !c.IsAuthenticated(ctx, comps.Surface) {
				current, _ := comps.Surface.CurrentURL(ctx)
				if !c.IsContentURL(current) {
					return fmt.Errorf("not signed in after login, browser is at %s", current)
				}
			}

			persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			m := sessionManager(cfg, comps.Human)
			if err := m.Persist(persistCtx, comps.Surface); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "saved", m.Store().Path(cfg.Target.Domain))
			return nil
		},
	}
}
