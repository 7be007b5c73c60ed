package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/spherical/pdf-converter/cmd/pdf-converter/ui"
	"github.com/spherical/pdf-converter/internal/config"
	"github.com/spherical/pdf-converter/internal/domain"
	"github.com/spherical/pdf-converter/internal/observability"
)

var (
	cfgFile   string
	verbose   bool
	noColor   bool
	tokenFlag string

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pdf-converter",
	Short: "Convert PDF documents to markdown with the MinerU extraction API",
	Long: `pdf-converter submits PDF documents to the MinerU extraction service,
waits for processing to finish and unpacks the resulting markdown document
and images into a local output directory.

The API token is read from --token or the MINERU_API_TOKEN environment
variable (a .env file in the working directory is honored).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Observability.LogLevel = "debug"
		}
		cfg = loaded

		ui.InitUI(noColor, verbose)
		logger = observability.NewLogger(observability.LogConfig{
			Level:  cfg.Observability.LogLevel,
			Format: cfg.Observability.LogFormat,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "API token (overrides "+config.TokenEnvVar+")")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps a command error to a process exit status.
func ExitCode(err error) int {
	var de *domain.Error
	if !errors.As(err, &de) {
		return 1
	}
	switch de.Kind {
	case domain.KindMissingCredential, domain.KindInvalidConfig, domain.KindInputNotFound:
		return 2
	case domain.KindPollTimeout:
		return 3
	case domain.KindCancelled:
		return 130
	default:
		return 1
	}
}
