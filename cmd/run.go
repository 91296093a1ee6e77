package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/revops-cli/internal/crm"
	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/monitoring"
	"github.com/sells-group/revops-cli/internal/pipeline"
	"github.com/sells-group/revops-cli/internal/reference"
)

var (
	runDays       int
	runFrom       string
	runTo         string
	runTrigger    string
	runNoForecast bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one extraction, reconstruction, aggregation and forecast batch",
	Long:  "Extracts the window from the CRM, rebuilds stage histories, replaces the window's metrics and recomputes the current month's forecast. The run summary is printed as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}
		opts, err := runOptions()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		client, err := initCRM()
		if err != nil {
			return err
		}
		var exOpts []crm.ExtractorOption
		exOpts = append(exOpts, crm.WithEventLookback(time.Duration(cfg.Extract.EventLookbackDays)*24*time.Hour))
		if cfg.Extract.SkipTasks {
			exOpts = append(exOpts, crm.WithoutTasks())
		}

		h, err := reference.LoadHeuristics(cfg.Reference.HeuristicsPath)
		if err != nil {
			return err
		}
		engine, err := forecast.NewEngine(cfg.Forecast.EngineConfig())
		if err != nil {
			return err
		}

		runner := pipeline.New(crm.NewExtractor(client, exOpts...), st, engine,
			pipeline.WithPipeline(cfg.CRM.PipelineID),
			pipeline.WithHeuristics(h),
			pipeline.WithNotifier(monitoring.NewAlerter(cfg.Monitoring)),
		)

		sum, runErr := runner.Run(ctx, opts)
		if sum != nil {
			if err := printJSON(sum); err != nil {
				return err
			}
		}
		return runErr
	},
}

// runOptions turns the command flags into pipeline options.
func runOptions() (pipeline.Options, error) {
	opts := pipeline.Options{
		Days:       runDays,
		Trigger:    runTrigger,
		NoForecast: runNoForecast,
	}
	if opts.Days == 0 {
		opts.Days = cfg.Extract.DefaultDays
	}
	if runFrom != "" {
		from, err := time.Parse(time.DateOnly, runFrom)
		if err != nil {
			return opts, eris.Wrap(err, "parse --from")
		}
		opts.From = from
	}
	if runTo != "" {
		if runFrom == "" {
			return opts, eris.New("--to requires --from")
		}
		to, err := time.Parse(time.DateOnly, runTo)
		if err != nil {
			return opts, eris.Wrap(err, "parse --to")
		}
		if to.Before(opts.From) {
			return opts, eris.New("--to precedes --from")
		}
		opts.To = to
	}
	return opts, nil
}

func init() {
	runCmd.Flags().IntVar(&runDays, "days", 0, "window length in days ending today (default from config)")
	runCmd.Flags().StringVar(&runFrom, "from", "", "window start date (YYYY-MM-DD); overrides --days")
	runCmd.Flags().StringVar(&runTo, "to", "", "window end date (YYYY-MM-DD); defaults to today")
	runCmd.Flags().StringVar(&runTrigger, "trigger", "cli", "trigger recorded in the run ledger")
	runCmd.Flags().BoolVar(&runNoForecast, "no-forecast", false, "skip the forecast stage")
	rootCmd.AddCommand(runCmd)
}
