// Package platform provides OS-aware helpers for data paths.
// All code that needs to behave differently per OS must use this package.
// Never use runtime.GOOS checks scattered across the codebase — put them here.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

// GOOS returns the current operating system.
func GOOS() string { return runtime.GOOS }

// IsWindows returns true when running on Windows.
func IsWindows() bool { return runtime.GOOS == "windows" }

// DefaultDataDir returns the OS-appropriate data directory for the engine.
//
//	Linux/macOS: ~/.personal-automator
//	Windows:     %APPDATA%\personal-automator
//
// If DATA_DIR is set, that takes priority (spec §6.4).
func DefaultDataDir() string {
	if env := os.Getenv("DATA_DIR"); env != "" {
		return env
	}
	if IsWindows() {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "personal-automator")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".personal-automator")
}

// EnsureDir creates a directory and all parents if they don't exist, with the
// given permission bits (main passes owner-only 0700 for DATA_DIR).
func EnsureDir(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
