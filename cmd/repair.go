package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/reference"
)

var repairFile string

var repairCmd = &cobra.Command{
	Use:   "repair-loss-reasons",
	Short: "Replace loss-reason placeholders with their dictionary labels",
	Long:  "Rewrites persisted intervals and loss rows labelled with a placeholder once the loss-reason dictionary is known. The dictionary is fetched from the CRM unless --file supplies an id: name YAML map.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var reasons []model.LossReason
		var err error
		if repairFile != "" {
			reasons, err = readLossReasons(repairFile)
		} else {
			reasons, err = fetchLossReasons(ctx)
		}
		if err != nil {
			return err
		}

		labels := repairLabels(reasons)
		if len(labels) == 0 {
			zap.L().Warn("repair: loss-reason dictionary is empty, nothing to do")
			return nil
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.RelabelLossReasons(ctx, labels)
		if err != nil {
			return eris.Wrap(err, "repair: relabel")
		}
		zap.L().Info("repair: loss reasons relabelled",
			zap.Int("dictionary", len(labels)),
			zap.Int64("rows", n),
		)
		return printJSON(map[string]any{"dictionary": len(labels), "rows_updated": n})
	},
}

// repairLabels builds the id to label map, ignoring names that are themselves
// placeholders.
func repairLabels(reasons []model.LossReason) map[int64]string {
	labels := reference.NewContext(nil, reasons, nil, nil).LossReasons()
	for id, name := range labels {
		if _, ok := reference.IsPlaceholderLossReason(name); ok {
			delete(labels, id)
		}
	}
	return labels
}

func fetchLossReasons(ctx context.Context) ([]model.LossReason, error) {
	if cfg.CRM.BaseURL == "" || cfg.CRM.Token == "" {
		return nil, eris.New("repair: crm.base_url and crm.token are required without --file")
	}
	client, err := initCRM()
	if err != nil {
		return nil, err
	}
	reasons, _, err := client.ListLossReasons(ctx)
	return reasons, err
}

// readLossReasons parses a YAML map of loss-reason id to label.
func readLossReasons(path string) ([]model.LossReason, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "repair: read %s", path)
	}
	var m map[int64]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "repair: parse %s", path)
	}
	out := make([]model.LossReason, 0, len(m))
	for id, name := range m {
		out = append(out, model.LossReason{ID: id, Name: name})
	}
	return out, nil
}

func init() {
	repairCmd.Flags().StringVar(&repairFile, "file", "", "YAML map of loss-reason id to label")
	rootCmd.AddCommand(repairCmd)
}
