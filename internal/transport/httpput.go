package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/chunkup/internal/auth"
	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/http"
	"github.com/rescale/chunkup/internal/logging"
)

// HTTP uploads each chunk with a PUT to {endpoint}/{session}/chunks/{index}
// and announces completion with a POST to {endpoint}/{session}/complete.
//
// Requests carry a bearer token from the auth coordinator. A 401 triggers one
// coordinated token refresh and a single retry of that request. Other
// retryable failures (5xx, 429, connection errors) are retried by
// go-retryablehttp.
type HTTP struct {
	endpoint string
	client   *retryablehttp.Client
	auth     *auth.Coordinator
	log      *logging.Logger
}

// HTTPOptions configures NewHTTP.
type HTTPOptions struct {
	Endpoint   string
	MaxRetries int
	Auth       *auth.Coordinator // nil sends no Authorization header
	Client     *nethttp.Client   // nil uses a default client
	Logger     *logging.Logger
}

// chunkResponse is the optional JSON body returned for a chunk PUT.
type chunkResponse struct {
	Index    int    `json:"index"`
	Received int64  `json:"received"`
	Digest   string `json:"digest,omitempty"`
}

type completeRequest struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
	Chunks int    `json:"chunks"`
}

// NewHTTP returns an HTTP transport.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("http transport: endpoint is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	rc := retryablehttp.NewClient()
	if opts.Client != nil {
		rc.HTTPClient = opts.Client
	}
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = constants.RetryWaitMin
	rc.RetryWaitMax = constants.RetryWaitMax
	rc.Logger = logging.Leveled{L: log}
	// Keep the final response so its status can be classified
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTP{endpoint: endpoint, client: rc, auth: opts.Auth, log: log}, nil
}

func (t *HTTP) Name() string { return "http" }

// SetRetryWait overrides the retry backoff bounds.
func (t *HTTP) SetRetryWait(min, max time.Duration) {
	t.client.RetryWaitMin = min
	t.client.RetryWaitMax = max
}

func (t *HTTP) chunkURL(meta ChunkMeta) string {
	return fmt.Sprintf("%s/%s/chunks/%d", t.endpoint, meta.SessionID, meta.Index)
}

func (t *HTTP) Transmit(ctx context.Context, body io.Reader, meta ChunkMeta, onProgress ProgressFunc) error {
	rs, err := asReadSeeker(body)
	if err != nil {
		return cancelled(ctx, fmt.Errorf("read chunk %d: %w", meta.Index, err))
	}
	pr := newProgressReader(rs, meta.Size(), onProgress)

	newReq := func() (*retryablehttp.Request, error) {
		if _, err := pr.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodPut, t.chunkURL(meta), pr)
		if err != nil {
			return nil, err
		}
		req.ContentLength = meta.Size()
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", meta.Start, meta.End-1, meta.FileSize))
		req.Header.Set("X-Chunk-Index", strconv.Itoa(meta.Index))
		req.Header.Set("X-Chunk-Total", strconv.Itoa(meta.Total))
		req.Header.Set("X-Content-Digest", meta.Digest)
		req.Header.Set("X-File-Name", meta.FileName)
		return req, nil
	}

	data, err := t.do(ctx, newReq)
	if err != nil {
		return cancelled(ctx, fmt.Errorf("chunk %d: %w", meta.Index, err))
	}

	if len(bytes.TrimSpace(data)) > 0 {
		var resp chunkResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			t.log.Debug().Err(err).Int("chunk", meta.Index).Msg("Ignoring non-JSON chunk response")
		} else if resp.Received > 0 && resp.Received != meta.Size() {
			return fmt.Errorf("chunk %d: server received %d of %d bytes", meta.Index, resp.Received, meta.Size())
		}
	}
	return nil
}

// do sends the request built by newReq, refreshing the token and retrying
// once on 401. It returns the response body of a 2xx answer.
func (t *HTTP) do(ctx context.Context, newReq func() (*retryablehttp.Request, error)) ([]byte, error) {
	send := func(token string) (*nethttp.Response, error) {
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return t.client.Do(req)
	}

	var token string
	if t.auth != nil {
		token = t.auth.Token()
	}
	resp, err := send(token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == nethttp.StatusUnauthorized && t.auth != nil {
		drain(resp)
		t.log.Debug().Msg("Got 401, refreshing token")
		fresh, rerr := t.auth.Refresh(ctx)
		if rerr != nil {
			return nil, fmt.Errorf("token refresh failed: %w", rerr)
		}
		resp, err = send(fresh)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &http.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// Begin is a no-op; the server creates session state on the first chunk.
func (t *HTTP) Begin(ctx context.Context, file FileMeta) error { return nil }

// Complete tells the server every chunk has been sent.
func (t *HTTP) Complete(ctx context.Context, file FileMeta) error {
	body, err := json.Marshal(completeRequest{
		Name:   file.FileName,
		Size:   file.FileSize,
		Digest: file.Digest,
		Chunks: file.Chunks,
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%s/complete", t.endpoint, file.SessionID)
	_, err = t.do(ctx, func() (*retryablehttp.Request, error) {
		req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodPost, url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("complete upload: %w", err)
	}
	return nil
}

// Abort is a no-op; unfinished sessions are left for the server to expire.
func (t *HTTP) Abort(ctx context.Context, file FileMeta) error { return nil }

func drain(resp *nethttp.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
}
