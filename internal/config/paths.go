package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppDir is the directory name used under the user config location.
const AppDir = "chunkup"

// configDir returns the platform-appropriate config directory.
//   - Windows: %APPDATA%\chunkup
//   - Unix: ~/.config/chunkup (XDG standard)
func configDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppDir)
		}
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			return filepath.Join(userProfile, "AppData", "Roaming", AppDir)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", AppDir)
	}
	return ""
}

// DefaultConfigPath returns the default config file path, or "config.ini" in the
// working directory when no home directory can be determined.
func DefaultConfigPath() string {
	dir := configDir()
	if dir == "" {
		return "config.ini"
	}
	return filepath.Join(dir, "config.ini")
}

// DefaultTokenPath returns the default bearer token file path.
func DefaultTokenPath() string {
	dir := configDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "token")
}

// LogDirectory returns the directory for rotated log files.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\chunkup\logs
//   - Unix: ~/.config/chunkup/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, AppDir, "logs")
		}
	}
	dir := configDir()
	if dir == "" {
		return filepath.Join(os.TempDir(), "chunkup-logs")
	}
	return filepath.Join(dir, "logs")
}
