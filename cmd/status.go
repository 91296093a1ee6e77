package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/revops-cli/internal/monitoring"
	"github.com/sells-group/revops-cli/internal/store"
)

var (
	statusLimit int
	statusAlert bool
	statusJSON  bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and pipeline health",
	Long:  "Lists the latest run-ledger entries, evaluates the health thresholds and optionally posts breached alerts to the monitoring webhook.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, statusLimit)
		if err != nil {
			return eris.Wrap(err, "status: list runs")
		}
		snap, err := monitoring.NewCollector(st).Collect(ctx, cfg.Monitoring.LookbackHours)
		if err != nil {
			return err
		}
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)

		if statusAlert {
			alerter.SendAlerts(ctx, alerts)
		}

		if statusJSON {
			return printJSON(map[string]any{"runs": runs, "health": snap, "alerts": alerts})
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
		} else {
			formatRunsList(stdout, runs)
		}
		fmt.Fprintln(stdout)
		formatHealth(stdout, snap, alerts)
		return nil
	},
}

// formatRunsList writes a table of ledger entries to out.
func formatRunsList(out io.Writer, runs []store.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tTRIGGER\tSTARTED\tDURATION\tDEALS\tSKIPPED\tFORECAST\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t-------\t--------\t-----\t-------\t--------\t-----")

	for _, r := range runs {
		fc := ""
		if r.ForecastPeriod != "" {
			fc = r.ForecastPeriod + " " + string(r.Risk)
		}
		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.RunID),
			r.Status,
			r.Trigger,
			r.StartedAt.Format("2006-01-02 15:04"),
			r.Duration().Round(time.Second),
			r.Deals,
			r.Skipped,
			fc,
			errMsg,
		)
	}
	_ = w.Flush()
}

// formatHealth writes the health snapshot and any breached thresholds to out.
func formatHealth(out io.Writer, s *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Runs (last %dh):\t%d\n", s.LookbackHours, s.RunsTotal)
	_, _ = fmt.Fprintf(w, "  Success:\t%d\n", s.RunsSuccess)
	_, _ = fmt.Fprintf(w, "  Partial:\t%d\n", s.RunsPartial)
	_, _ = fmt.Fprintf(w, "  Failure:\t%d\n", s.RunsFailure)
	_, _ = fmt.Fprintf(w, "  Running:\t%d\n", s.RunsRunning)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailureRate*100)
	_, _ = fmt.Fprintf(w, "Skipped deals:\t%d\n", s.SkippedDeals)
	if s.LastSuccessAt != nil {
		_, _ = fmt.Fprintf(w, "Last success:\t%s\n", s.LastSuccessAt.Format("2006-01-02 15:04"))
	} else {
		_, _ = fmt.Fprintln(w, "Last success:\tnever")
	}
	if s.ForecastRisk != "" {
		_, _ = fmt.Fprintf(w, "Forecast risk:\t%s\n", s.ForecastRisk)
	}
	_ = w.Flush()

	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "ALERT [%s] %s\n", a.Severity, a.Message)
	}
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of runs to list")
	statusCmd.Flags().BoolVar(&statusAlert, "alert", false, "post breached thresholds to the monitoring webhook")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print runs, health and alerts as JSON")
	rootCmd.AddCommand(statusCmd)
}
