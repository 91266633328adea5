// Package cli provides the command-line interface for chunkup.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rescale/chunkup/internal/config"
	"github.com/rescale/chunkup/internal/logging"
	"github.com/rescale/chunkup/internal/pathutil"
	"github.com/rescale/chunkup/internal/version"
)

var (
	cfgFile   string
	tokenFile string // Path to file containing the bearer token
	logFile   string
	verbose   bool
	debug     bool

	logger *logging.Logger

	// Cancelled by the first SIGINT/SIGTERM.
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chunkup",
		Short: "Chunked, resumable file uploads and a virtual tree browser",
		Long: `chunkup ` + version.Version + ` - Built: ` + version.BuildTime + `
Hashes a file in bounded windows, splits it into fixed-size chunks and
uploads them concurrently with pause and resume.

Transports:
  simulated  in-process latency simulation (default)
  http       PUT per chunk to an HTTP endpoint with bearer token refresh
  s3         S3 multipart upload, one part per chunk
  azure      Azure block blob, one staged block per chunk

Also includes a virtualized tree browser ('chunkup tree') for large
hierarchies loaded from YAML, JSON or a directory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = logging.NewLogger(os.Stderr, nil)
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
			if logFile != "" {
				path, err := pathutil.Resolve(logFile)
				if err != nil {
					return err
				}
				if err := logger.EnableFile(path); err != nil {
					return err
				}
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (default "+config.DefaultConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "Path to file containing the HTTP bearer token")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	rootCmd.AddCommand(newCompletionCmd(rootCmd))
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

func newCompletionCmd(rootCmd *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate a shell completion script for chunkup.

  bash:        source <(chunkup completion bash)
  zsh:         chunkup completion zsh > "${fpath[1]}/_chunkup"
  fish:        chunkup completion fish > ~/.config/fish/completions/chunkup.fish
  PowerShell:  chunkup completion powershell | Out-String | Invoke-Expression`,
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return rootCmd.GenBashCompletionV2(out, true)
			case "zsh":
				return rootCmd.GenZshCompletion(out)
			case "fish":
				return rootCmd.GenFishCompletion(out, true)
			default:
				return rootCmd.GenPowerShellCompletionWithDesc(out)
			}
		},
	}
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// The first signal cancels the root context; running uploads pause and
	// the command exits. A second signal exits immediately.
	go func() {
		count := 0
		for sig := range sigChan {
			count++
			if count > 1 {
				fmt.Fprintf(os.Stderr, "\nReceived %v again, exiting\n", sig)
				os.Exit(130)
			}
			fmt.Fprintf(os.Stderr, "\nReceived %v, pausing and exiting (press Ctrl+C again to force)\n", sig)
			cancelFunc()
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newTreeCmd())
	rootCmd.AddCommand(newConfigCmd())

	AddShortcuts(rootCmd)
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, nil)
	}
	return logger
}

// GetContext returns the context cancelled on the first Ctrl+C, or
// context.Background before Execute.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadConfig loads the config file and applies environment and flag overrides.
func loadConfig(o config.Overrides) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	o.TokenFile = tokenFile
	cfg.Merge(o)
	return cfg, nil
}

// noOverrides returns Overrides that leave every setting alone.
func noOverrides() config.Overrides {
	return config.Overrides{ChunkRetries: -1}
}
