package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/browser/static"
	"github.com/xkilldash9x/gatewalk/internal/classifier"
	"github.com/xkilldash9x/gatewalk/internal/config"
	"github.com/xkilldash9x/gatewalk/internal/observability"
)

type classifyReport struct {
	URL       string                   `json:"url"`
	Verdict   schemas.ChallengeVerdict `json:"verdict"`
	Widget    schemas.ChallengeKind    `json:"widget"`
	LoginWall bool                     `json:"login_wall"`
	LoggedIn  int                      `json:"logged_in_markers"`
}

func newClassifyCmd() *cobra.Command {
	var htmlPath, pageURL, title string

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a saved HTML page offline",
		Long: `Runs the challenge classifier against a saved document without starting a
browser. Use --html - to read the document from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if htmlPath == "" {
				return fmt.Errorf("--html is required")
			}
			var (
				data []byte
				err  error
			)
			if htmlPath == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(htmlPath)
			}
			if err != nil {
				return fmt.Errorf("failed to read page: %w", err)
			}

			ctx := cmd.Context()
			s := static.New().Route(pageURL, static.Page{Title: title, HTML: string(data)})
			if err := s.Navigate(ctx, pageURL); err != nil {
				return err
			}

			c := classifier.New(config.Get().Classifier, observability.GetLogger())
			report := classifyReport{URL: pageURL, Verdict: c.Classify(ctx, s), LoggedIn: c.LoggedInMarkerCount(ctx, s)}
			report.Widget, _ = c.Widget(ctx, s)
			report.LoginWall, _ = c.DetectLoginWall(ctx, s)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&htmlPath, "html", "", "path to the saved HTML document, or - for stdin")
	cmd.Flags().StringVar(&pageURL, "url", "https://example.com/", "URL the document was served from")
	cmd.Flags().StringVar(&title, "title", "", "document title")
	return cmd
}
