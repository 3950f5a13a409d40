package browser

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
)

// LookPathFunc searches the host for a browser binary, like launcher.LookPath.
type LookPathFunc func() (string, bool)

// FindExecutable resolves the browser binary. An explicit bin must exist;
// otherwise the first existing candidate wins, then the well-known install
// locations rod knows about.
func FindExecutable(bin string, candidates []string, lookPath LookPathFunc) (string, error) {
	if bin = strings.TrimSpace(bin); bin != "" {
		if err := isExecutableFile(bin); err != nil {
			return "", fmt.Errorf("browser: configured bin %s: %w", bin, err)
		}
		return bin, nil
	}
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if isExecutableFile(candidate) == nil {
			return candidate, nil
		}
	}
	if lookPath == nil {
		lookPath = launcher.LookPath
	}
	if found, ok := lookPath(); ok && found != "" {
		return found, nil
	}
	return "", ErrNotFound
}

func isExecutableFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
