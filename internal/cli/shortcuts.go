package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rescale/chunkup/internal/config"
	"github.com/rescale/chunkup/internal/digest"
	"github.com/rescale/chunkup/internal/localfs"
	"github.com/rescale/chunkup/internal/progress"
	"github.com/rescale/chunkup/internal/util/buffers"
)

// AddShortcuts adds shortcut commands to the root command.
func AddShortcuts(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newHashShortcut())
	rootCmd.AddCommand(newLsShortcut())
}

// newHashShortcut creates the 'hash' command: the hashing stage of an upload
// on its own.
func newHashShortcut() *cobra.Command {
	var algorithm string

	cmd := &cobra.Command{
		Use:   "hash <file> [file...]",
		Short: "Print file digests the way an upload computes them",
		Long: `Hash files with the same windowed reader used before an upload.

Output matches md5sum/sha256sum: "<digest>  <path>".

Examples:
  chunkup hash data.bin
  chunkup hash --algorithm sha256 *.tar.gz`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if algorithm == "" {
				cfg, err := loadConfig(noOverrides())
				if err != nil {
					return err
				}
				algorithm = cfg.Upload.HashAlgorithm
			}
			return hashFiles(GetContext(), args, algorithm, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "", "Digest algorithm: md5, sha256 or xxhash (default from config)")
	_ = cmd.RegisterFlagCompletionFunc("algorithm", cobra.FixedCompletions(config.HashAlgorithms, cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

func hashFiles(ctx context.Context, paths []string, algorithm string, out, errOut io.Writer) error {
	h, err := digest.New(algorithm)
	if err != nil {
		return err
	}

	for _, path := range paths {
		sum, err := hashFile(ctx, h, path, errOut)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s  %s\n", sum, path)
	}

	st := buffers.GetStats()
	GetLogger().Debug().Int("files", len(paths)).Int64("buffer_gets", st.Gets).
		Int64("buffer_allocations", st.Allocations).Msg("Hashing finished")
	return nil
}

func hashFile(ctx context.Context, h *digest.Hasher, path string, errOut io.Writer) (string, error) {
	blob, err := localfs.Open(path)
	if err != nil {
		return "", err
	}
	defer blob.Close()

	var bar *progress.HashBar
	if progress.IsTerminal(errOut) && blob.Size() > int64(h.WindowSize) {
		bar = progress.NewHashBar(errOut, blob.Size(), "Hashing "+blob.Name())
	}

	sum, cached, err := h.SumCached(ctx, digestCache, blob, func(done, total int64) {
		bar.Set(done)
	})
	if err != nil {
		bar.Fail(err)
		return "", err
	}
	bar.Finish()
	GetLogger().Debug().Str("file", path).Bool("cached", cached).Str("algorithm", h.Algorithm).Msg("Hashed")
	return sum, nil
}

// newLsShortcut creates the 'ls' command.
// Shortcut for: tree --dir <dir> --expand-all
func newLsShortcut() *cobra.Command {
	var opts treeOptions

	cmd := &cobra.Command{
		Use:   "ls [dir]",
		Short: "List a directory as a tree (shortcut for 'tree --dir <dir> --expand-all')",
		Long: `Shortcut for browsing a directory with the virtualized tree view.

Equivalent to: chunkup tree --dir <dir> --expand-all

Examples:
  chunkup ls
  chunkup ls ./project --row 200
  chunkup ls ./project --search main.go`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.dir = "."
			if len(args) == 1 {
				opts.dir = args[0]
			}
			opts.expandAll = true

			cfg, err := loadConfig(noOverrides())
			if err != nil {
				return err
			}
			if err := cfg.Tree.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runTree(cfg.Tree, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&opts.hidden, "all", "a", false, "Include hidden files")
	cmd.Flags().StringVarP(&opts.search, "search", "s", "", "Filter rows by name")
	cmd.Flags().IntVar(&opts.row, "row", -1, "Scroll so this row is at the top")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print visible rows as JSON")

	return cmd
}
