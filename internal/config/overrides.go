package config

import (
	"fmt"
	"os"
	"strings"
)

// Overrides carries command-line values that take precedence over the file.
// Zero values mean "not set".
type Overrides struct {
	Transport     string
	ChunkSize     int64
	Concurrency   int
	HashAlgorithm string
	ChunkRetries  int // negative means not set
	LimitRate     int64
	Endpoint      string
	TokenFile     string
	ProxyMode     string
	ProxyHost     string
	ProxyPort     int
}

// Merge applies environment variables and flags on top of the loaded file.
// Priority (highest to lowest):
//  1. command-line flags
//  2. CHUNKUP_* environment variables
//  3. --token-file, then the default token file (token only)
//  4. config file
func (c *Config) Merge(o Overrides) {
	// Token sources, lowest priority first; each overwrites the previous
	if path := DefaultTokenPath(); path != "" {
		if tok, err := ReadTokenFile(path); err == nil {
			c.HTTP.Token = tok
		}
	}
	if o.TokenFile != "" {
		if tok, err := ReadTokenFile(o.TokenFile); err == nil {
			c.HTTP.Token = tok
		}
	}
	if tok := os.Getenv("CHUNKUP_TOKEN"); tok != "" {
		c.HTTP.Token = tok
	}
	if pw := os.Getenv("CHUNKUP_PROXY_PASSWORD"); pw != "" {
		c.Proxy.Password = pw
	}
	if id := os.Getenv("CHUNKUP_S3_ACCESS_KEY_ID"); id != "" {
		c.S3.AccessKeyID = id
		c.S3.SecretAccessKey = os.Getenv("CHUNKUP_S3_SECRET_ACCESS_KEY")
	}
	if ep := os.Getenv("CHUNKUP_ENDPOINT"); ep != "" {
		c.HTTP.Endpoint = ep
	}

	if o.Transport != "" {
		c.Upload.Transport = strings.ToLower(o.Transport)
	}
	if o.ChunkSize > 0 {
		c.Upload.ChunkSize = o.ChunkSize
	}
	if o.Concurrency > 0 {
		c.Upload.Concurrency = o.Concurrency
	}
	if o.HashAlgorithm != "" {
		c.Upload.HashAlgorithm = strings.ToLower(o.HashAlgorithm)
	}
	if o.ChunkRetries >= 0 {
		c.Upload.ChunkRetries = o.ChunkRetries
	}
	if o.LimitRate > 0 {
		c.Upload.MaxBytesPerSec = o.LimitRate
	}
	if o.Endpoint != "" {
		c.HTTP.Endpoint = o.Endpoint
	}
	if o.ProxyMode != "" {
		c.Proxy.Mode = strings.ToLower(o.ProxyMode)
	}
	if o.ProxyHost != "" {
		c.Proxy.Host = o.ProxyHost
	}
	if o.ProxyPort > 0 {
		c.Proxy.Port = o.ProxyPort
	}
}

// ReadTokenFile reads a bearer token from a file.
// The file should contain only the token (whitespace is trimmed).
// Warns if file permissions are too open (not 0600 on Unix systems).
func ReadTokenFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat token file: %w", err)
	}

	if mode := info.Mode().Perm(); mode&0077 != 0 {
		fmt.Fprintf(os.Stderr, "Warning: Token file %s has insecure permissions %04o. Consider using 'chmod 600 %s'\n", path, mode, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file is empty")
	}
	return token, nil
}
