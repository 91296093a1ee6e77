package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/pipeline"
)

var forecastAsOf string

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Recompute the month's forecast from persisted metrics",
	Long:  "Recomputes and stores the forecast and gap analysis of the as-of month without contacting the CRM.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		asOf := time.Now().UTC()
		if forecastAsOf != "" {
			t, err := time.Parse(time.RFC3339, forecastAsOf)
			if err != nil {
				if t, err = time.Parse(time.DateOnly, forecastAsOf); err != nil {
					return eris.Wrap(err, "parse --as-of")
				}
				t = t.Add(24*time.Hour - time.Second)
			}
			asOf = t.UTC()
		}

		engine, err := forecast.NewEngine(cfg.Forecast.EngineConfig())
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, gap, err := pipeline.Forecast(ctx, st, engine, asOf)
		if err != nil {
			return eris.Wrap(err, "forecast")
		}
		return printJSON(map[string]any{"forecast": rec, "gap": gap})
	},
}

func init() {
	forecastCmd.Flags().StringVar(&forecastAsOf, "as-of", "", "evaluation instant (RFC 3339 or YYYY-MM-DD, default now)")
	rootCmd.AddCommand(forecastCmd)
}
