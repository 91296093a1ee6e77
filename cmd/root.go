package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/revops-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "revops",
	Short: "CRM pipeline history, metrics and revenue forecast",
	Long:  "Extracts deals and stage changes from the CRM, reconstructs each deal's stage history, aggregates daily commercial metrics and projects the month's revenue against its target.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
