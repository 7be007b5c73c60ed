package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/pdf-converter/cmd/pdf-converter/ui"
	"github.com/spherical/pdf-converter/internal/config"
	"github.com/spherical/pdf-converter/internal/domain"
)

var (
	resumeOutput  string
	resumeMaxWait time.Duration
)

var resumeCmd = &cobra.Command{
	Use:   "resume <batch-id>",
	Short: "Resume waiting for a previously submitted batch",
	Long: `Resume polls a batch that was already submitted and uploaded, for example
after a conversion gave up waiting, then downloads and unpacks its results.

Without --output the directory recorded in history is reused.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVarP(&resumeOutput, "output", "o", "", "output directory (default from history or <batch-id>_output)")
	resumeCmd.Flags().DurationVar(&resumeMaxWait, "max-wait", 0, "maximum time to wait for processing (default from config)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("max-wait") {
		cfg.Polling.MaxWait = resumeMaxWait
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	credential, err := config.Credential(tokenFlag)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	store := openHistory(ctx)
	defer store.Close()

	svc, err := newService(credential, store)
	if err != nil {
		return err
	}

	batch := domain.BatchHandle(args[0])
	outputDir := resumeOutput
	if outputDir == "" {
		if entry, err := store.FindByBatch(ctx, batch.String()); err == nil && entry.OutputDir != "" {
			outputDir = entry.OutputDir
		}
	}

	ui.Section("Resume Conversion")
	ui.Info("Batch: %s", batch)

	spin := ui.NewSpinner(stageLabel(domain.StagePolling))
	spin.Start()

	events := make(chan domain.StageEvent, 32)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for e := range events {
			if e.Kind == domain.EventStageCompleted {
				stepDone(e)
				continue
			}
			spin.UpdateMessage(describeEvent(e))
		}
	}()

	result, err := svc.Resume(ctx, batch, outputDir, events)
	close(events)
	<-rendered
	spin.Stop()
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		ui.Warning("%v", w)
	}
	ui.Success("Batch %s completed", batch)
	ui.KeyValue("Markdown", result.Artifact.MarkdownPath)
	ui.KeyValue("Images", fmt.Sprintf("%d", result.Artifact.ImageCount))
	if result.SummaryPath != "" {
		ui.KeyValue("Summary", result.SummaryPath)
	}

	publishResult(ctx, result)
	return nil
}
