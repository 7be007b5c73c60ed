// Command fake-mineru serves a local stand-in for the extraction API so the
// converter can be exercised end to end without network access.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/pdf-converter/internal/fakeservice"
	"github.com/spherical/pdf-converter/internal/observability"
)

var (
	addr      string
	token     string
	rounds    int
	failWith  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "fake-mineru",
	Short: "Serve a local fake of the MinerU extraction API",
	Long: `fake-mineru answers batch submissions, pre-signed uploads, status queries
and archive downloads. Every batch reports "running" for --rounds queries
before finishing with a sample archive.

Point the converter at it with MINERU_BASE_URL=http://<addr>/api/v4.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8089", "listen address")
	rootCmd.Flags().StringVar(&token, "token", "dev-token", "accepted bearer token")
	rootCmd.Flags().IntVar(&rounds, "rounds", 2, "running rounds before a batch completes")
	rootCmd.Flags().StringVar(&failWith, "fail", "", "finish every batch as failed with this message")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "console", "log format (console or json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:       "info",
		Format:      logFormat,
		ServiceName: "fake-mineru",
	})

	steps := make([]fakeservice.Step, 0, rounds+1)
	for i := 0; i < rounds; i++ {
		steps = append(steps, fakeservice.Step{State: "running", Pages: [2]int{i + 1, rounds + 1}})
	}
	if failWith != "" {
		steps = append(steps, fakeservice.Step{State: "failed", ErrMsg: failWith})
	} else {
		steps = append(steps, fakeservice.Step{State: "done"})
	}

	handler := fakeservice.New(fakeservice.Config{
		Token:   token,
		Steps:   steps,
		Archive: fakeservice.SampleArchive(),
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("fake extraction API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}
