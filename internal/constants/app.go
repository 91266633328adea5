package constants

import (
	"time"
)

// Chunking and hashing
const (
	// ChunkSize - default size of each upload chunk (2 MiB)
	// The last chunk of a file may be smaller.
	ChunkSize = 2 * 1024 * 1024

	// MinChunkSize - smallest chunk size accepted from configuration (64 KiB)
	MinChunkSize = 64 * 1024

	// MaxChunkSize - largest chunk size accepted from configuration (512 MiB)
	// Bounded by the hashing window buffer, which is sized to one chunk.
	MaxChunkSize = 512 * 1024 * 1024

	// HashWindowSize - default read window for content hashing (2 MiB)
	// Matches ChunkSize so that one pooled buffer serves both.
	HashWindowSize = ChunkSize

	// DefaultHashAlgorithm - digest algorithm used when none is configured
	DefaultHashAlgorithm = "md5"

	// DigestCacheEntries - number of (path, size, mtime) digests remembered per process
	DigestCacheEntries = 128
)

// Upload scheduling
const (
	// DefaultConcurrency - maximum chunks with in-flight uploads at once
	DefaultConcurrency = 3

	// MaxConcurrency - upper bound accepted from configuration
	MaxConcurrency = 32

	// DefaultChunkRetries - per-chunk retries before a transport error fails the session
	// Zero keeps the fail-fast behavior: one transport error aborts the whole round.
	DefaultChunkRetries = 0

	// MaxChunkRetries - upper bound accepted from configuration
	MaxChunkRetries = 10
)

// Simulated transport
const (
	// SimulatedMinLatency - shortest simulated chunk transfer (500ms)
	SimulatedMinLatency = 500 * time.Millisecond

	// SimulatedMaxLatency - longest simulated chunk transfer (1500ms)
	SimulatedMaxLatency = 1500 * time.Millisecond

	// SimulatedTicks - progress steps per simulated chunk (10% each)
	SimulatedTicks = 10
)

// Retry configuration
const (
	// MaxRetries - maximum number of retries for transient HTTP errors
	MaxRetries = 10

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	// Exponential backoff with jitter caps at this value
	RetryMaxDelay = 15 * time.Second

	// RetryWaitMin - minimum wait used by the retrying HTTP client (1s)
	RetryWaitMin = 1 * time.Second

	// RetryWaitMax - maximum wait used by the retrying HTTP client (30s)
	RetryWaitMax = 30 * time.Second
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	// 1000 events comfortably covers ten progress ticks per chunk for a few
	// hundred chunks between subscriber reads.
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// UI Updates
const (
	// BarRefreshRate - mpb refresh rate for per-chunk bars (300ms)
	BarRefreshRate = 300 * time.Millisecond
)

// Tree view defaults
const (
	// TreeRowHeight - fixed row height in pixels
	TreeRowHeight = 36

	// TreeViewportHeight - visible list height in pixels
	TreeViewportHeight = 240

	// TreeOverscan - extra rows materialized past the viewport
	TreeOverscan = 5

	// TreeIndentWidth - spaces per depth level when printing rows
	TreeIndentWidth = 2

	// MaxGeneratedNodes - cap on synthetic trees built by the tree command
	MaxGeneratedNodes = 2_000_000
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// ChunkRequestTimeout - upper bound for a single chunk request (10 minutes)
	ChunkRequestTimeout = 10 * time.Minute

	// ProxyWarmupTimeout - timeout for the optional proxy warmup request (15 seconds)
	ProxyWarmupTimeout = 15 * time.Second
)

// Log file rotation
const (
	// LogFileMaxSizeMB - size of one log file before rotation
	LogFileMaxSizeMB = 10

	// LogFileMaxBackups - rotated files kept
	LogFileMaxBackups = 5

	// LogFileMaxAgeDays - days to keep rotated files
	LogFileMaxAgeDays = 30
)
