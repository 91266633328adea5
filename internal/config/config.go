// Package config provides configuration management for chunkup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/rescale/chunkup/internal/constants"
)

// Config is the full tool configuration.
//
// Config file location:
//   - Windows: %APPDATA%\chunkup\config.ini
//   - Unix: ~/.config/chunkup/config.ini
//
// INI format:
//
//	[upload]
//	transport = simulated
//	chunk_size = 2097152
//	concurrency = 3
//	hash_algorithm = md5
//	chunk_retries = 0
//
//	[transport.http]
//	endpoint = https://uploads.example.com/chunks
//	refresh_url = https://uploads.example.com/token
//	max_retries = 10
//
//	[transport.simulated]
//	min_latency_ms = 500
//	max_latency_ms = 1500
//	ticks = 10
//	failure_rate = 0
//
//	[transport.s3]
//	bucket = my-bucket
//	region = us-east-1
//	key_prefix = uploads/
//
//	[transport.azure]
//	sas_url = https://account.blob.core.windows.net/?sv=...
//	container = uploads
//
//	[proxy]
//	mode = no-proxy
//
//	[tree]
//	row_height = 36
//	viewport_height = 240
//	overscan = 5
//
// Secrets (bearer token, proxy password) are never written to the file; they come
// from CHUNKUP_TOKEN / CHUNKUP_PROXY_PASSWORD / CHUNKUP_S3_* or a token file.
type Config struct {
	Upload    UploadConfig
	HTTP      HTTPConfig
	Simulated SimulatedConfig
	S3        S3Config
	Azure     AzureConfig
	Proxy     ProxyConfig
	Tree      TreeConfig
}

// UploadConfig controls hashing, chunking and scheduling.
type UploadConfig struct {
	// Transport selects the chunk transport: simulated, http, s3 or azure.
	Transport string

	// ChunkSize is the fixed chunk size in bytes. The last chunk may be smaller.
	// Default: 2 MiB
	ChunkSize int64

	// Concurrency caps chunks with in-flight uploads. Default: 3
	Concurrency int

	// HashAlgorithm is md5, sha256 or xxhash. Default: md5
	HashAlgorithm string

	// ChunkRetries is the number of per-chunk retries before a transport error fails
	// the session. Default: 0 (one failure aborts the round).
	ChunkRetries int

	// MaxBytesPerSec caps the combined upload bandwidth. Default: 0 (unlimited)
	MaxBytesPerSec int64
}

// HTTPConfig configures the plain HTTP chunk transport.
type HTTPConfig struct {
	Endpoint   string
	RefreshURL string
	Token      string // env/token file only
	MaxRetries int
}

// SimulatedConfig configures the in-process simulated transport.
type SimulatedConfig struct {
	MinLatencyMS int
	MaxLatencyMS int
	Ticks        int
	FailureRate  float64 // probability in [0,1] that a chunk fails mid-transfer
}

// S3Config configures the S3 multipart transport.
type S3Config struct {
	Bucket    string
	Region    string
	KeyPrefix string
	Endpoint  string // optional, for S3-compatible stores

	// Static credentials, env only. When empty the AWS default chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// AzureConfig configures the Azure block blob transport.
type AzureConfig struct {
	SASURL     string
	Container  string
	BlobPrefix string
}

// ProxyConfig holds outbound proxy settings shared by all network transports.
type ProxyConfig struct {
	Mode      string // no-proxy, system, basic, ntlm
	Host      string
	Port      int
	User      string
	Password  string // env only
	NoProxy   string
	Warmup    bool
	WarmupURL string
}

// TreeConfig holds the virtual list geometry used by the tree command.
type TreeConfig struct {
	RowHeight      int
	ViewportHeight int
	Overscan       int
}

// Validation errors
var (
	ErrInvalidChunkSize     = fmt.Errorf("chunk_size must be between %d and %d", constants.MinChunkSize, constants.MaxChunkSize)
	ErrInvalidConcurrency   = fmt.Errorf("concurrency must be between 1 and %d", constants.MaxConcurrency)
	ErrInvalidChunkRetries  = fmt.Errorf("chunk_retries must be between 0 and %d", constants.MaxChunkRetries)
	ErrInvalidRateLimit     = errors.New("max_bytes_per_sec must not be negative")
	ErrUnknownHashAlgorithm = errors.New("hash_algorithm must be md5, sha256 or xxhash")
	ErrUnknownTransport     = errors.New("transport must be simulated, http, s3 or azure")
	ErrMissingEndpoint      = errors.New("transport.http endpoint is required for the http transport")
	ErrMissingBucket        = errors.New("transport.s3 bucket is required for the s3 transport")
	ErrMissingSASURL        = errors.New("transport.azure sas_url and container are required for the azure transport")
	ErrInvalidLatency       = errors.New("transport.simulated latencies must satisfy 0 <= min <= max")
	ErrInvalidFailureRate   = errors.New("transport.simulated failure_rate must be between 0 and 1")
	ErrInvalidProxyMode     = errors.New("proxy mode must be no-proxy, system, basic or ntlm")
	ErrMissingProxyHost     = errors.New("proxy host is required for basic and ntlm modes")
	ErrInvalidTreeGeometry  = errors.New("tree row_height and viewport_height must be positive and overscan non-negative")
)

// Known values
var (
	HashAlgorithms = []string{"md5", "sha256", "xxhash"}
	Transports     = []string{"simulated", "http", "s3", "azure"}
	ProxyModes     = []string{"no-proxy", "system", "basic", "ntlm"}
)

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Upload: UploadConfig{
			Transport:     "simulated",
			ChunkSize:     constants.ChunkSize,
			Concurrency:   constants.DefaultConcurrency,
			HashAlgorithm: constants.DefaultHashAlgorithm,
			ChunkRetries:  constants.DefaultChunkRetries,
		},
		HTTP: HTTPConfig{
			MaxRetries: constants.MaxRetries,
		},
		Simulated: SimulatedConfig{
			MinLatencyMS: int(constants.SimulatedMinLatency.Milliseconds()),
			MaxLatencyMS: int(constants.SimulatedMaxLatency.Milliseconds()),
			Ticks:        constants.SimulatedTicks,
		},
		Proxy: ProxyConfig{
			Mode: "no-proxy",
		},
		Tree: TreeConfig{
			RowHeight:      constants.TreeRowHeight,
			ViewportHeight: constants.TreeViewportHeight,
			Overscan:       constants.TreeOverscan,
		},
	}
}

// Load loads configuration from an INI file.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		path = DefaultConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	up := iniFile.Section("upload")
	cfg.Upload.Transport = strings.ToLower(up.Key("transport").MustString(cfg.Upload.Transport))
	cfg.Upload.ChunkSize = up.Key("chunk_size").MustInt64(cfg.Upload.ChunkSize)
	cfg.Upload.Concurrency = up.Key("concurrency").MustInt(cfg.Upload.Concurrency)
	cfg.Upload.HashAlgorithm = strings.ToLower(up.Key("hash_algorithm").MustString(cfg.Upload.HashAlgorithm))
	cfg.Upload.ChunkRetries = up.Key("chunk_retries").MustInt(cfg.Upload.ChunkRetries)
	cfg.Upload.MaxBytesPerSec = up.Key("max_bytes_per_sec").MustInt64(0)

	hs := iniFile.Section("transport.http")
	cfg.HTTP.Endpoint = hs.Key("endpoint").String()
	cfg.HTTP.RefreshURL = hs.Key("refresh_url").String()
	cfg.HTTP.MaxRetries = hs.Key("max_retries").MustInt(cfg.HTTP.MaxRetries)

	ss := iniFile.Section("transport.simulated")
	cfg.Simulated.MinLatencyMS = ss.Key("min_latency_ms").MustInt(cfg.Simulated.MinLatencyMS)
	cfg.Simulated.MaxLatencyMS = ss.Key("max_latency_ms").MustInt(cfg.Simulated.MaxLatencyMS)
	cfg.Simulated.Ticks = ss.Key("ticks").MustInt(cfg.Simulated.Ticks)
	cfg.Simulated.FailureRate = ss.Key("failure_rate").MustFloat64(0)

	s3s := iniFile.Section("transport.s3")
	cfg.S3.Bucket = s3s.Key("bucket").String()
	cfg.S3.Region = s3s.Key("region").String()
	cfg.S3.KeyPrefix = s3s.Key("key_prefix").String()
	cfg.S3.Endpoint = s3s.Key("endpoint").String()

	az := iniFile.Section("transport.azure")
	cfg.Azure.SASURL = az.Key("sas_url").String()
	cfg.Azure.Container = az.Key("container").String()
	cfg.Azure.BlobPrefix = az.Key("blob_prefix").String()

	px := iniFile.Section("proxy")
	cfg.Proxy.Mode = strings.ToLower(px.Key("mode").MustString(cfg.Proxy.Mode))
	cfg.Proxy.Host = px.Key("host").String()
	cfg.Proxy.Port = px.Key("port").MustInt(0)
	cfg.Proxy.User = px.Key("user").String()
	cfg.Proxy.NoProxy = px.Key("no_proxy").String()
	cfg.Proxy.Warmup = px.Key("warmup").MustBool(false)
	cfg.Proxy.WarmupURL = px.Key("warmup_url").String()

	tr := iniFile.Section("tree")
	cfg.Tree.RowHeight = tr.Key("row_height").MustInt(cfg.Tree.RowHeight)
	cfg.Tree.ViewportHeight = tr.Key("viewport_height").MustInt(cfg.Tree.ViewportHeight)
	cfg.Tree.Overscan = tr.Key("overscan").MustInt(cfg.Tree.Overscan)

	return cfg, nil
}

// Save saves configuration to an INI file.
// Creates parent directories if they don't exist. Secrets are not written.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	sections := []struct {
		name   string
		values [][2]string
	}{
		{"upload", [][2]string{
			{"transport", cfg.Upload.Transport},
			{"chunk_size", fmt.Sprintf("%d", cfg.Upload.ChunkSize)},
			{"concurrency", fmt.Sprintf("%d", cfg.Upload.Concurrency)},
			{"hash_algorithm", cfg.Upload.HashAlgorithm},
			{"chunk_retries", fmt.Sprintf("%d", cfg.Upload.ChunkRetries)},
			{"max_bytes_per_sec", fmt.Sprintf("%d", cfg.Upload.MaxBytesPerSec)},
		}},
		{"transport.http", [][2]string{
			{"endpoint", cfg.HTTP.Endpoint},
			{"refresh_url", cfg.HTTP.RefreshURL},
			{"max_retries", fmt.Sprintf("%d", cfg.HTTP.MaxRetries)},
		}},
		{"transport.simulated", [][2]string{
			{"min_latency_ms", fmt.Sprintf("%d", cfg.Simulated.MinLatencyMS)},
			{"max_latency_ms", fmt.Sprintf("%d", cfg.Simulated.MaxLatencyMS)},
			{"ticks", fmt.Sprintf("%d", cfg.Simulated.Ticks)},
			{"failure_rate", fmt.Sprintf("%g", cfg.Simulated.FailureRate)},
		}},
		{"transport.s3", [][2]string{
			{"bucket", cfg.S3.Bucket},
			{"region", cfg.S3.Region},
			{"key_prefix", cfg.S3.KeyPrefix},
			{"endpoint", cfg.S3.Endpoint},
		}},
		{"transport.azure", [][2]string{
			{"sas_url", cfg.Azure.SASURL},
			{"container", cfg.Azure.Container},
			{"blob_prefix", cfg.Azure.BlobPrefix},
		}},
		{"proxy", [][2]string{
			{"mode", cfg.Proxy.Mode},
			{"host", cfg.Proxy.Host},
			{"port", fmt.Sprintf("%d", cfg.Proxy.Port)},
			{"user", cfg.Proxy.User},
			{"no_proxy", cfg.Proxy.NoProxy},
			{"warmup", fmt.Sprintf("%t", cfg.Proxy.Warmup)},
			{"warmup_url", cfg.Proxy.WarmupURL},
		}},
		{"tree", [][2]string{
			{"row_height", fmt.Sprintf("%d", cfg.Tree.RowHeight)},
			{"viewport_height", fmt.Sprintf("%d", cfg.Tree.ViewportHeight)},
			{"overscan", fmt.Sprintf("%d", cfg.Tree.Overscan)},
		}},
	}
	for _, s := range sections {
		section, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		for _, kv := range s.values {
			section.Key(kv[0]).SetValue(kv[1])
		}
	}

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks if the configuration is usable.
// Returns nil if valid, or one of the Err* sentinels describing what's wrong.
func (cfg *Config) Validate() error {
	u := cfg.Upload
	if u.ChunkSize < constants.MinChunkSize || u.ChunkSize > constants.MaxChunkSize {
		return ErrInvalidChunkSize
	}
	if u.Concurrency < 1 || u.Concurrency > constants.MaxConcurrency {
		return ErrInvalidConcurrency
	}
	if u.ChunkRetries < 0 || u.ChunkRetries > constants.MaxChunkRetries {
		return ErrInvalidChunkRetries
	}
	if u.MaxBytesPerSec < 0 {
		return ErrInvalidRateLimit
	}
	if !contains(HashAlgorithms, u.HashAlgorithm) {
		return ErrUnknownHashAlgorithm
	}

	switch u.Transport {
	case "simulated":
		s := cfg.Simulated
		if s.MinLatencyMS < 0 || s.MaxLatencyMS < s.MinLatencyMS {
			return ErrInvalidLatency
		}
		if s.FailureRate < 0 || s.FailureRate > 1 {
			return ErrInvalidFailureRate
		}
	case "http":
		if strings.TrimSpace(cfg.HTTP.Endpoint) == "" {
			return ErrMissingEndpoint
		}
	case "s3":
		if strings.TrimSpace(cfg.S3.Bucket) == "" {
			return ErrMissingBucket
		}
	case "azure":
		if strings.TrimSpace(cfg.Azure.SASURL) == "" || strings.TrimSpace(cfg.Azure.Container) == "" {
			return ErrMissingSASURL
		}
	default:
		return ErrUnknownTransport
	}

	if !contains(ProxyModes, cfg.Proxy.Mode) {
		return ErrInvalidProxyMode
	}
	if (cfg.Proxy.Mode == "basic" || cfg.Proxy.Mode == "ntlm") && cfg.Proxy.Host == "" {
		return ErrMissingProxyHost
	}

	return cfg.Tree.Validate()
}

// Validate checks the tree geometry on its own; the tree command does not need a
// valid upload section.
func (t TreeConfig) Validate() error {
	if t.RowHeight <= 0 || t.ViewportHeight <= 0 || t.Overscan < 0 {
		return ErrInvalidTreeGeometry
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
