package core

import (
	"os"
	"path/filepath"
)

// GetDataDirectory returns override when set, else the first writable
// production path, else a development fallback.
func GetDataDirectory(override string) string {
	if override != "" {
		if err := os.MkdirAll(override, 0o755); err == nil {
			return override
		}
	}

	productionPaths := []string{
		"/opt/terminal-pointofsale/data",
		"/var/lib/terminal-pointofsale",
		"/usr/local/var/terminal-pointofsale",
	}

	for _, path := range productionPaths {
		if writable(path) {
			return path
		}
	}

	fallbackPaths := []string{
		filepath.Join(os.TempDir(), "terminal-pointofsale"),
		"./data",
	}

	for _, path := range fallbackPaths {
		if err := os.MkdirAll(path, 0o755); err == nil {
			return path
		}
	}

	return "."
}

func writable(path string) bool {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return false
	}
	testFile := filepath.Join(path, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return false
	}
	_ = file.Close()
	_ = os.Remove(testFile)
	return true
}
