package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rescale/chunkup/internal/config"
	"github.com/rescale/chunkup/internal/transport"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage chunkup configuration",
		Long: `Configuration management commands for chunkup.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Validate configuration and build the transport
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for chunkup.

The configuration is saved as INI to ` + config.DefaultConfigPath() + `
(or the --config path). A bearer token for the http transport is stored
in a separate 0600 token file, never in the config file.

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.InOrStdin(), cmd.OutOrStdout(), configPath(), config.DefaultTokenPath(), force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

func runConfigInit(in io.Reader, out io.Writer, path, tokenPath string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
			fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
			return nil
		}
	}

	p := newPrompter(in, out)
	cfg := config.New()

	fmt.Fprintln(out, "chunkup Configuration Setup")
	fmt.Fprintln(out, "===========================")
	fmt.Fprintln(out)

	var err error
	if cfg.Upload.Transport, err = p.Choice("Transport", config.Transports, cfg.Upload.Transport); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Upload Settings (press Enter for defaults)")
	fmt.Fprintln(out, "------------------------------------------")
	size := p.String("Chunk size", humanize.IBytes(uint64(cfg.Upload.ChunkSize)))
	n, err := humanize.ParseBytes(size)
	if err != nil {
		return fmt.Errorf("invalid chunk size %q: %w", size, err)
	}
	cfg.Upload.ChunkSize = int64(n)
	cfg.Upload.Concurrency = p.Int("Concurrent chunks", cfg.Upload.Concurrency)
	if cfg.Upload.HashAlgorithm, err = p.Choice("Hash algorithm", config.HashAlgorithms, cfg.Upload.HashAlgorithm); err != nil {
		return err
	}

	var token string
	switch cfg.Upload.Transport {
	case "http":
		fmt.Fprintln(out)
		cfg.HTTP.Endpoint = p.String("Upload endpoint URL", "")
		cfg.HTTP.RefreshURL = p.String("Token refresh URL (optional)", "")
		token = p.String("Bearer token (optional)", "")
	case "s3":
		fmt.Fprintln(out)
		cfg.S3.Bucket = p.String("S3 bucket", "")
		cfg.S3.Region = p.String("S3 region", "us-east-1")
		cfg.S3.KeyPrefix = p.String("Key prefix (optional)", "")
	case "azure":
		fmt.Fprintln(out)
		cfg.Azure.SASURL = p.String("Storage account SAS URL", "")
		cfg.Azure.Container = p.String("Container", "")
		cfg.Azure.BlobPrefix = p.String("Blob prefix (optional)", "")
	}

	if cfg.Upload.Transport != "simulated" {
		fmt.Fprintln(out)
		if p.Confirm("Configure proxy?") {
			if cfg.Proxy.Mode, err = p.Choice("Proxy mode", config.ProxyModes, "system"); err != nil {
				return err
			}
			if cfg.Proxy.Mode == "basic" || cfg.Proxy.Mode == "ntlm" {
				cfg.Proxy.Host = p.String("Proxy host", "")
				cfg.Proxy.Port = p.Int("Proxy port", 8080)
				cfg.Proxy.User = p.String("Proxy user (password from CHUNKUP_PROXY_PASSWORD)", "")
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	GetLogger().Info().Str("path", path).Msg("Configuration saved")

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)

	if token != "" {
		if err := os.MkdirAll(filepath.Dir(tokenPath), 0700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
		if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
			return fmt.Errorf("failed to save token file: %w", err)
		}
		fmt.Fprintf(out, "✓ Token saved to: %s\n", tokenPath)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Test your configuration with: chunkup config test")
	return nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Configuration file (` + config.DefaultConfigPath() + `)
  2. Token file (--token-file or the default token path)
  3. Environment variables (CHUNKUP_TOKEN, CHUNKUP_ENDPOINT, ...)

Priority: environment > token file > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(noOverrides())
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg, configPath())
			return nil
		},
	}

	return cmd
}

func printConfig(out io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(out, "Current Configuration")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintln(out)

	u := cfg.Upload
	fmt.Fprintln(out, "Upload Settings:")
	fmt.Fprintf(out, "  Transport:      %s\n", u.Transport)
	fmt.Fprintf(out, "  Chunk Size:     %s\n", humanize.IBytes(uint64(u.ChunkSize)))
	fmt.Fprintf(out, "  Concurrency:    %d\n", u.Concurrency)
	fmt.Fprintf(out, "  Hash Algorithm: %s\n", u.HashAlgorithm)
	fmt.Fprintf(out, "  Chunk Retries:  %d\n", u.ChunkRetries)
	if u.MaxBytesPerSec > 0 {
		fmt.Fprintf(out, "  Rate Limit:     %s/s\n", humanize.IBytes(uint64(u.MaxBytesPerSec)))
	} else {
		fmt.Fprintln(out, "  Rate Limit:     unlimited")
	}
	fmt.Fprintln(out)

	switch u.Transport {
	case "http":
		fmt.Fprintln(out, "HTTP Transport:")
		fmt.Fprintf(out, "  Endpoint:    %s\n", cfg.HTTP.Endpoint)
		if cfg.HTTP.RefreshURL != "" {
			fmt.Fprintf(out, "  Refresh URL: %s\n", cfg.HTTP.RefreshURL)
		}
		// Never display any portion of the token
		if cfg.HTTP.Token != "" {
			fmt.Fprintf(out, "  Token:       <set (%d chars)>\n", len(cfg.HTTP.Token))
		} else {
			fmt.Fprintln(out, "  Token:       <not set>")
		}
		fmt.Fprintf(out, "  Max Retries: %d\n", cfg.HTTP.MaxRetries)
	case "s3":
		fmt.Fprintln(out, "S3 Transport:")
		fmt.Fprintf(out, "  Bucket:     %s\n", cfg.S3.Bucket)
		fmt.Fprintf(out, "  Region:     %s\n", cfg.S3.Region)
		fmt.Fprintf(out, "  Key Prefix: %s\n", cfg.S3.KeyPrefix)
		if cfg.S3.Endpoint != "" {
			fmt.Fprintf(out, "  Endpoint:   %s\n", cfg.S3.Endpoint)
		}
		if cfg.S3.AccessKeyID != "" {
			fmt.Fprintln(out, "  Credentials: static (environment)")
		} else {
			fmt.Fprintln(out, "  Credentials: AWS default chain")
		}
	case "azure":
		fmt.Fprintln(out, "Azure Transport:")
		if cfg.Azure.SASURL != "" {
			fmt.Fprintln(out, "  SAS URL:     <set>")
		} else {
			fmt.Fprintln(out, "  SAS URL:     <not set>")
		}
		fmt.Fprintf(out, "  Container:   %s\n", cfg.Azure.Container)
		fmt.Fprintf(out, "  Blob Prefix: %s\n", cfg.Azure.BlobPrefix)
	default:
		s := cfg.Simulated
		fmt.Fprintln(out, "Simulated Transport:")
		fmt.Fprintf(out, "  Latency:      %d-%d ms\n", s.MinLatencyMS, s.MaxLatencyMS)
		fmt.Fprintf(out, "  Failure Rate: %g\n", s.FailureRate)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Proxy Settings:")
	fmt.Fprintf(out, "  Proxy Mode: %s\n", cfg.Proxy.Mode)
	if cfg.Proxy.Host != "" {
		fmt.Fprintf(out, "  Proxy Host: %s\n", cfg.Proxy.Host)
		fmt.Fprintf(out, "  Proxy Port: %d\n", cfg.Proxy.Port)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Tree View:")
	fmt.Fprintf(out, "  Row Height: %dpx, Viewport: %dpx, Overscan: %d rows\n",
		cfg.Tree.RowHeight, cfg.Tree.ViewportHeight, cfg.Tree.Overscan)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, "  (file does not exist - using defaults)")
	}
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Validate configuration and build the transport",
		Long: `Validate the merged configuration and construct the configured
transport (resolving credentials and the proxy) without uploading anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig(noOverrides())
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Testing Configuration")
			fmt.Fprintln(out, "=====================")
			fmt.Fprintln(out)

			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(out, "✗ Configuration INVALID")
				fmt.Fprintf(out, "  Error: %v\n", err)
				return fmt.Errorf("invalid configuration: %w", err)
			}
			fmt.Fprintln(out, "✓ Configuration valid")

			tr, err := transport.New(GetContext(), cfg, GetLogger())
			if err != nil {
				GetLogger().Errorf("Transport %s setup failed: %v", cfg.Upload.Transport, err)
				fmt.Fprintf(out, "✗ Transport %s FAILED\n", cfg.Upload.Transport)
				fmt.Fprintf(out, "  Error: %v\n", err)
				return fmt.Errorf("transport setup failed: %w", err)
			}
			fmt.Fprintf(out, "✓ Transport %s ready\n", tr.Name())
			return nil
		},
	}

	return cmd
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath()
			if cfgFile == "" {
				fmt.Fprintln(out, "Default configuration path:")
			} else {
				fmt.Fprintln(out, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(out, "  %s\n", path)
			fmt.Fprintln(out)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Status: ✓ File exists")
				fmt.Fprintf(out, "Size:   %s\n", humanize.IBytes(uint64(info.Size())))
				fmt.Fprintf(out, "Modified: %s (%s)\n", info.ModTime().Format("2006-01-02 15:04:05"), humanize.Time(info.ModTime()))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Create a configuration file with: chunkup config init")
			}
			return nil
		},
	}

	return cmd
}
