package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rescale/chunkup/internal/auth"
	"github.com/rescale/chunkup/internal/config"
	"github.com/rescale/chunkup/internal/http"
	"github.com/rescale/chunkup/internal/logging"
)

// New builds the transport named by cfg.Upload.Transport. Network transports
// share one proxy-aware HTTP client.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (Transport, error) {
	if log == nil {
		log = logging.Nop()
	}

	switch cfg.Upload.Transport {
	case "simulated", "":
		s := cfg.Simulated
		t := NewSimulated()
		t.MinLatency = time.Duration(s.MinLatencyMS) * time.Millisecond
		t.MaxLatency = time.Duration(s.MaxLatencyMS) * time.Millisecond
		if s.Ticks > 0 {
			t.Ticks = s.Ticks
		}
		t.FailureRate = s.FailureRate
		return t, nil

	case "http":
		client, err := http.NewClient(&cfg.Proxy, log)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
		}
		store := auth.NewTokenStore(cfg.HTTP.Token, "")
		var refresh auth.RefreshFunc
		if cfg.HTTP.RefreshURL != "" {
			store = auth.NewTokenStore(cfg.HTTP.Token, config.DefaultTokenPath())
			refresh = auth.HTTPRefresher(client, cfg.HTTP.RefreshURL, store.Token)
		}
		return NewHTTP(HTTPOptions{
			Endpoint:   cfg.HTTP.Endpoint,
			MaxRetries: cfg.HTTP.MaxRetries,
			Auth:       auth.NewCoordinator(store, refresh),
			Client:     client,
			Logger:     log,
		})

	case "s3":
		client, err := http.NewClient(&cfg.Proxy, log)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
		}
		return NewS3(ctx, cfg.S3, client, log)

	case "azure":
		client, err := http.NewClient(&cfg.Proxy, log)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
		}
		return NewAzure(cfg.Azure, client, log)

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, cfg.Upload.Transport)
	}
}
