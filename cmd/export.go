package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/report"
)

var (
	exportDays   int
	exportOut    string
	exportPeriod string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export metrics, losses and the forecast as an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		now := time.Now().UTC()
		period := exportPeriod
		if period == "" {
			period = now.Format(forecast.PeriodLayout)
		}
		r := model.LastDays(now, exportDays)

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		data, err := report.Load(ctx, st, r, period)
		if err != nil {
			return err
		}
		if err := report.Save(exportOut, data); err != nil {
			return err
		}

		zap.L().Info("report exported",
			zap.String("path", exportOut),
			zap.Time("from", r.From),
			zap.Time("to", r.To),
			zap.Int("period_rows", len(data.Periods)),
			zap.Int("loss_rows", len(data.Losses)),
			zap.Bool("forecast", data.Forecast != nil),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "number of days ending today")
	exportCmd.Flags().StringVar(&exportOut, "out", "report.xlsx", "output workbook path")
	exportCmd.Flags().StringVar(&exportPeriod, "period", "", "forecast month (YYYY-MM, default current)")
	rootCmd.AddCommand(exportCmd)
}
