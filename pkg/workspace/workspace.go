package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

const lighthouseRootDir = ".lighthouse"

// EnsureLighthouseDir creates (if needed) and returns the lighthouse
// workspace directory holding config, keys and file-backed state.
func EnsureLighthouseDir() (string, error) {
	if dir := os.Getenv("LIGHTHOUSE_DIR"); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("unable to create lighthouse dir: %v", err)
		}
		return dir, nil
	}

	base, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to retrieve user home dir: %v", err)
	}

	dir := filepath.Join(base, lighthouseRootDir)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("unable to create lighthouse dir: %v", err)
	}

	return dir, nil
}
