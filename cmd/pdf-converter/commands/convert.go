package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/pdf-converter/cmd/pdf-converter/ui"
	"github.com/spherical/pdf-converter/internal/config"
	"github.com/spherical/pdf-converter/internal/convert"
	"github.com/spherical/pdf-converter/internal/domain"
)

var (
	convertOutput    string
	convertMaxWait   time.Duration
	convertInterval  time.Duration
	convertOCR       bool
	convertNoFormula bool
	convertNoTable   bool
	convertLanguage  string
	convertParallel  int
	convertPublish   bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <pdf-file>...",
	Short: "Convert one or more PDF documents to markdown",
	Long: `Convert submits each PDF to the extraction service, waits for it to be
processed and unpacks the markdown document and images into an output
directory (default: <input-dir>/<name>_output).

Several files are converted concurrently, bounded by --parallel.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "output directory (parent directory when converting several files)")
	convertCmd.Flags().DurationVar(&convertMaxWait, "max-wait", 0, "maximum time to wait for processing (default from config)")
	convertCmd.Flags().DurationVar(&convertInterval, "interval", 0, "status polling interval (default from config)")
	convertCmd.Flags().BoolVar(&convertOCR, "ocr", false, "force OCR")
	convertCmd.Flags().BoolVar(&convertNoFormula, "no-formula", false, "disable formula recognition")
	convertCmd.Flags().BoolVar(&convertNoTable, "no-table", false, "disable table recognition")
	convertCmd.Flags().StringVarP(&convertLanguage, "lang", "l", "", "document language hint (default from config)")
	convertCmd.Flags().IntVarP(&convertParallel, "parallel", "p", 0, "maximum concurrent conversions (default from config)")
	convertCmd.Flags().BoolVar(&convertPublish, "publish", false, "publish results to the configured S3 bucket")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	applyConvertFlags(cmd)
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

	if len(args) == 1 {
		return convertOne(ctx, svc, args[0])
	}
	return convertMany(ctx, svc, args)
}

func applyConvertFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("max-wait") {
		cfg.Polling.MaxWait = convertMaxWait
	}
	if flags.Changed("interval") {
		cfg.Polling.Interval = convertInterval
	}
	if flags.Changed("ocr") {
		cfg.Processing.EnableOCR = convertOCR
	}
	if flags.Changed("no-formula") {
		cfg.Processing.EnableFormula = !convertNoFormula
	}
	if flags.Changed("no-table") {
		cfg.Processing.EnableTable = !convertNoTable
	}
	if flags.Changed("lang") {
		cfg.Processing.Language = convertLanguage
	}
	if flags.Changed("parallel") {
		cfg.Concurrency.MaxParallel = convertParallel
	}
	if convertPublish {
		cfg.Publish.S3.Enabled = true
	}
}

func outputDirFor(input string, many bool) string {
	switch {
	case convertOutput != "" && many:
		return filepath.Join(convertOutput, stem(input)+"_output")
	case convertOutput != "":
		return convertOutput
	case cfg.Output.Dir != "" && many:
		return filepath.Join(cfg.Output.Dir, stem(input)+"_output")
	default:
		return cfg.OutputDirFor(input)
	}
}

func convertOne(ctx context.Context, svc *convert.Service, input string) error {
	ui.Section("PDF Conversion")
	ui.Info("Input: %s", input)
	ui.Info("Output: %s", outputDirFor(input, false))
	ui.Newline()

	spin := ui.NewSpinner(stageLabel(domain.StageValidating))
	spin.Start()

	events := make(chan domain.StageEvent, 32)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for e := range events {
			switch e.Kind {
			case domain.EventStageStarted, domain.EventStageProgress:
				spin.UpdateMessage(describeEvent(e))
			case domain.EventStageCompleted:
				stepDone(e)
			}
		}
	}()

	var (
		once       sync.Once
		bar        *ui.ProgressBar
		downloaded int64
	)
	result, err := svc.Convert(ctx, convert.Request{
		InputPath: input,
		OutputDir: outputDirFor(input, false),
		OnDownload: func(written, total int64) {
			once.Do(func() {
				spin.Stop()
				bar = ui.NewProgressBar(total, "Downloading")
			})
			bar.Set(written)
			downloaded = written
		},
	}, events)
	close(events)
	<-rendered
	spin.Stop()
	if bar != nil {
		bar.Finish()
	}

	if err != nil {
		if domain.IsKind(err, domain.KindPollTimeout) {
			ui.Warning("The batch may still finish; retry later with: pdf-converter resume <batch-id>")
		}
		return err
	}

	for _, w := range result.Warnings {
		ui.Warning("%v", w)
	}

	ui.Success("Conversion completed")
	ui.Section("Conversion Summary")
	imagesDir := result.Artifact.ImagesDir
	if imagesDir == "" {
		imagesDir = "(none)"
	}
	summaryPath := result.SummaryPath
	if summaryPath == "" {
		summaryPath = "(not written)"
	}
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"Markdown", result.Artifact.MarkdownPath},
		{"Images", imagesDir},
		{"Image Count", fmt.Sprintf("%d", result.Artifact.ImageCount)},
		{"Downloaded", ui.FormatBytes(downloaded)},
		{"Batch", result.BatchID.String()},
		{"Summary", summaryPath},
		{"Duration", ui.FormatDuration(result.Duration)},
	})

	publishResult(ctx, result)
	return nil
}

type outcome struct {
	input  string
	result *convert.Result
	err    error
}

func convertMany(ctx context.Context, svc *convert.Service, inputs []string) error {
	ui.Section(fmt.Sprintf("PDF Conversion (%d files)", len(inputs)))

	progress := ui.NewMultiProgress()
	outcomes := make([]outcome, len(inputs))

	var g errgroup.Group
	g.SetLimit(cfg.Concurrency.MaxParallel)

	for i, input := range inputs {
		tracker := progress.Track(filepath.Base(input))
		g.Go(func() error {
			events := make(chan domain.StageEvent, 32)
			rendered := make(chan struct{})
			go func() {
				defer close(rendered)
				for e := range events {
					if e.Kind != domain.EventStageCompleted {
						tracker.Status(describeEvent(e))
					}
				}
			}()

			result, err := svc.Convert(ctx, convert.Request{
				InputPath: input,
				OutputDir: outputDirFor(input, true),
			}, events)
			close(events)
			<-rendered

			if err != nil {
				tracker.Abort("failed")
			} else {
				tracker.Done(fmt.Sprintf("%d images", result.Artifact.ImageCount))
			}
			outcomes[i] = outcome{input: input, result: result, err: err}
			return nil
		})
	}
	_ = g.Wait()
	progress.Wait()

	ui.Section("Conversion Summary")
	rows := make([][]string, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		if o.err != nil {
			failed++
			rows = append(rows, []string{o.input, "failed", o.err.Error()})
			continue
		}
		rows = append(rows, []string{o.input, "done", o.result.Artifact.MarkdownPath})
	}
	ui.Table([]string{"Input", "Status", "Result"}, rows)

	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		for _, w := range o.result.Warnings {
			ui.Warning("%s: %v", filepath.Base(o.input), w)
		}
		publishResult(ctx, o.result)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(outcomes))
	}
	ui.Success("All %d conversions completed", len(outcomes))
	return nil
}
