// Package browser locates and launches Firefox with its WebDriver BiDi
// remote agent enabled.
package browser

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
)

// ErrFirefoxNotFound is returned when no Firefox binary can be located.
var ErrFirefoxNotFound = errors.New("firefox not found")

// EnvFirefox overrides the Firefox binary search.
const EnvFirefox = "BIDICTL_FIREFOX"

// firefoxPaths returns the list of paths to search for Firefox on the current platform.
func firefoxPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Firefox.app/Contents/MacOS/firefox",
			"/Applications/Firefox Nightly.app/Contents/MacOS/firefox",
			"/Applications/Firefox Developer Edition.app/Contents/MacOS/firefox",
			"/usr/local/bin/firefox",
		}
	case "linux":
		return []string{
			"/usr/bin/firefox",
			"/usr/bin/firefox-esr",
			"/usr/lib/firefox/firefox",
			"/snap/bin/firefox",
			"firefox",
			"firefox-esr",
			"firefox-nightly",
		}
	default:
		return nil
	}
}

// FindFirefox searches for a Firefox binary on the system.
// It first checks the BIDICTL_FIREFOX environment variable, then searches
// common installation paths for the current platform.
func FindFirefox() (string, error) {
	if envPath := os.Getenv(EnvFirefox); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
		return "", ErrFirefoxNotFound
	}

	for _, path := range firefoxPaths() {
		found, err := exec.LookPath(path)
		if err == nil {
			return found, nil
		}
	}

	return "", ErrFirefoxNotFound
}
