package global

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigDir returns ~/.config/timeline.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("TIMELINE_CONFIG_DIR")); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "timeline"), nil
}

// DefaultDBPath is the database file inside dir.
func DefaultDBPath(dir string) string {
	return filepath.Join(dir, "timeline.db")
}
