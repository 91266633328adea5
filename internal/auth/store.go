package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// TokenStore holds the current bearer token, optionally persisting it to a file
// so a refreshed token survives the process.
type TokenStore struct {
	mu    sync.RWMutex
	token string
	path  string
}

// NewTokenStore returns a store seeded with token. When path is non-empty,
// Set writes each new token there with 0600 permissions.
func NewTokenStore(token, path string) *TokenStore {
	return &TokenStore{token: strings.TrimSpace(token), path: path}
}

// Token returns the current token, or "" if none is set.
func (s *TokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set replaces the token and persists it when the store has a path.
func (s *TokenStore) Set(token string) error {
	token = strings.TrimSpace(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	if s.path == "" {
		return nil
	}
	return writeTokenFile(s.path, token)
}

func writeTokenFile(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set token file permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save token file: %w", err)
	}
	return nil
}
