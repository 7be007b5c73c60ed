package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/pdf-converter/cmd/pdf-converter/ui"
	"github.com/spherical/pdf-converter/internal/config"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent conversions",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.History.Driver == "" || cfg.History.Driver == config.HistoryNone {
		ui.Info("History is disabled (set history.driver in the config file)")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := openHistory(ctx)
	defer store.Close()

	entries, err := store.List(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	if len(entries) == 0 {
		ui.Info("No conversions recorded yet")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		status := string(e.Stage)
		if e.Error != "" {
			status += ": " + e.Error
		}
		rows = append(rows, []string{
			shortID(e.ID),
			e.InputPath,
			e.BatchID,
			status,
			fmt.Sprintf("%d", e.ImageCount),
			e.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}

	ui.Section("Recent Conversions")
	ui.Table([]string{"Run", "Input", "Batch", "Status", "Images", "Updated"}, rows)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
