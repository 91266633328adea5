package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rescale/chunkup/internal/config"
	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/digest"
	"github.com/rescale/chunkup/internal/events"
	"github.com/rescale/chunkup/internal/localfs"
	"github.com/rescale/chunkup/internal/logging"
	"github.com/rescale/chunkup/internal/pathutil"
	"github.com/rescale/chunkup/internal/progress"
	"github.com/rescale/chunkup/internal/transport"
	"github.com/rescale/chunkup/internal/upload"
)

// digestCache lets a retried upload in the same process skip re-hashing an
// unchanged file.
var digestCache, _ = digest.NewCache(constants.DigestCacheEntries)

type uploadOptions struct {
	interactive bool
	jsonOut     bool
}

// uploadIO bundles the streams an upload reads commands from and reports to.
type uploadIO struct {
	in     io.Reader
	out    io.Writer // summaries and --json
	errOut io.Writer // progress bars and logs
}

func newUploadCmd() *cobra.Command {
	o := noOverrides()
	var chunkSize, limitRate string
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:     "upload <file>",
		Aliases: []string{"up"},
		Short:   "Hash, chunk and upload a file",
		Long: `Upload a file in fixed-size chunks.

The file is hashed first, then split into chunks that are uploaded
concurrently (at most --concurrency at a time). Ctrl+C pauses the
upload and exits.

With --interactive, commands typed on stdin control the session:
  p, pause    pause after in-flight chunks stop
  r, resume   resume a paused upload (or retry a failed one)
  s, status   print progress
  q, quit     stop and exit

Examples:
  chunkup upload data.bin
  chunkup upload data.bin --chunk-size 8MiB --concurrency 6
  chunkup upload data.bin --limit-rate 5MiB
  chunkup upload data.bin --transport http --endpoint https://uploads.example.com/chunks
  chunkup upload data.bin --interactive
  chunkup upload data.bin --json > result.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if chunkSize != "" {
				n, err := humanize.ParseBytes(chunkSize)
				if err != nil {
					return fmt.Errorf("invalid --chunk-size %q: %w", chunkSize, err)
				}
				o.ChunkSize = int64(n)
			}
			if limitRate != "" {
				n, err := humanize.ParseBytes(limitRate)
				if err != nil {
					return fmt.Errorf("invalid --limit-rate %q: %w", limitRate, err)
				}
				o.LimitRate = int64(n)
			}

			cfg, err := loadConfig(o)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			streams := uploadIO{in: cmd.InOrStdin(), out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
			_, err = runUpload(GetContext(), cfg, args[0], opts, streams, GetLogger())
			return err
		},
	}

	cmd.Flags().StringVarP(&o.Transport, "transport", "t", "", "Chunk transport: simulated, http, s3 or azure")
	cmd.Flags().StringVar(&chunkSize, "chunk-size", "", "Chunk size, e.g. 2MiB or 8388608")
	cmd.Flags().IntVar(&o.Concurrency, "concurrency", 0, fmt.Sprintf("Maximum chunks in flight (1-%d)", constants.MaxConcurrency))
	cmd.Flags().StringVar(&o.HashAlgorithm, "hash", "", "Digest algorithm: md5, sha256 or xxhash")
	cmd.Flags().IntVar(&o.ChunkRetries, "chunk-retries", -1, fmt.Sprintf("Retries per chunk for transient errors (0-%d)", constants.MaxChunkRetries))
	cmd.Flags().StringVar(&limitRate, "limit-rate", "", "Cap combined upload bandwidth per second, e.g. 10MiB")
	cmd.Flags().StringVar(&o.Endpoint, "endpoint", "", "Endpoint URL for the http transport")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "Read pause/resume/status/quit commands from stdin")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the final session snapshot as JSON instead of progress bars")

	_ = cmd.RegisterFlagCompletionFunc("transport", cobra.FixedCompletions(config.Transports, cobra.ShellCompDirectiveNoFileComp))
	_ = cmd.RegisterFlagCompletionFunc("hash", cobra.FixedCompletions(config.HashAlgorithms, cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

// runUpload uploads path with cfg and returns the final snapshot.
func runUpload(ctx context.Context, cfg *config.Config, path string, opts uploadOptions, streams uploadIO, log *logging.Logger) (upload.Snapshot, error) {
	path, err := pathutil.Resolve(path)
	if err != nil {
		return upload.Snapshot{}, err
	}
	blob, err := localfs.Open(path)
	if err != nil {
		return upload.Snapshot{}, err
	}
	defer blob.Close()

	tr, err := transport.New(ctx, cfg, log)
	if err != nil {
		return upload.Snapshot{}, err
	}

	bus := events.NewEventBus(constants.EventBusMaxBuffer)
	defer bus.Close()

	sess, err := upload.NewSession(upload.SessionConfig{
		Transport:      tr,
		ChunkSize:      cfg.Upload.ChunkSize,
		Concurrency:    cfg.Upload.Concurrency,
		HashAlgorithm:  cfg.Upload.HashAlgorithm,
		ChunkRetries:   cfg.Upload.ChunkRetries,
		MaxBytesPerSec: cfg.Upload.MaxBytesPerSec,
	},
		upload.WithEventBus(bus),
		upload.WithLogger(log),
		upload.WithDigestCache(digestCache),
	)
	if err != nil {
		return upload.Snapshot{}, err
	}

	log.Info().
		Str("file", blob.Path()).
		Str("size", humanize.IBytes(uint64(blob.Size()))).
		Str("transport", tr.Name()).
		Int("concurrency", cfg.Upload.Concurrency).
		Str("chunk_size", humanize.IBytes(uint64(cfg.Upload.ChunkSize))).
		Msg("Starting upload")

	if !opts.jsonOut {
		ui := progress.NewUploadUI(streams.errOut, blob.Path(), blob.Size())
		prevOut := log.Output()
		log.SetOutput(ui.Writer())

		sub := bus.SubscribeAll()
		uiCtx, stopUI := context.WithCancel(context.Background())
		uiDone := make(chan struct{})
		go func() {
			defer close(uiDone)
			ui.Consume(uiCtx, sub)
		}()
		defer func() {
			// Closing the bus lets the UI drain what the session published.
			bus.Close()
			<-uiDone
			stopUI()
			ui.Wait()
			log.SetOutput(prevOut)
		}()
	}

	sess.SelectFile(blob)
	start := time.Now()
	if opts.interactive {
		err = runInteractive(ctx, sess, streams)
	} else {
		err = sess.Start(ctx)
	}

	snap := sess.Snapshot()
	log.Debug().Str("session", snap.ID).Dur("elapsed", time.Since(start)).Str("status", string(snap.Status)).
		Int64("dropped_events", bus.Dropped()).Msg("Upload finished")

	if opts.jsonOut {
		enc := json.NewEncoder(streams.out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(snap); encErr != nil {
			return snap, fmt.Errorf("failed to write snapshot: %w", encErr)
		}
	}

	switch {
	case err == nil:
		return snap, nil
	case errors.Is(err, upload.ErrCancelled):
		return snap, fmt.Errorf("upload stopped at %d%% (%s): %w", snap.Progress, snap.Status, err)
	default:
		return snap, err
	}
}

// runInteractive drives a session from commands typed on streams.in. It
// returns when the upload completes, the user quits, or ctx is cancelled.
func runInteractive(ctx context.Context, sess *upload.Session, streams uploadIO) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	controls := readControls(ctx, streams.in)
	fmt.Fprintln(streams.out, controlHelp)

	results := make(chan error, 1)
	running := true
	go func() { results <- sess.Start(ctx) }()

	var lastErr error
	for {
		select {
		case err := <-results:
			running = false
			lastErr = err
			switch {
			case err == nil:
				return nil
			case ctx.Err() != nil:
				return upload.ErrCancelled
			case errors.Is(err, upload.ErrCancelled):
				fmt.Fprintf(streams.out, "Paused at %d%%. Type r to resume or q to quit.\n", sess.Progress())
			default:
				fmt.Fprintf(streams.out, "Upload failed: %v. Type r to retry or q to quit.\n", err)
			}
			if controls == nil {
				return lastErr
			}

		case act, ok := <-controls:
			if !ok {
				// stdin closed: finish the current round, then stop.
				controls = nil
				if !running {
					return lastErr
				}
				continue
			}
			switch act {
			case ControlPause:
				if sess.Status() != upload.StatusUploading {
					fmt.Fprintf(streams.out, "Nothing to pause (%s)\n", sess.Status())
				}
				sess.Pause()
			case ControlResume:
				if running {
					fmt.Fprintf(streams.out, "Already %s\n", sess.Status())
					continue
				}
				running = true
				if sess.Status() == upload.StatusPaused {
					go func() { results <- sess.Resume(ctx) }()
				} else {
					go func() { results <- sess.Start(ctx) }()
				}
			case ControlStatus:
				fmt.Fprintln(streams.out, sess.Snapshot().String())
			case ControlQuit:
				cancel()
				if running {
					<-results
				}
				return upload.ErrCancelled
			default:
				fmt.Fprintln(streams.out, controlHelp)
			}

		case <-ctx.Done():
			if running {
				<-results
			}
			return upload.ErrCancelled
		}
	}
}
