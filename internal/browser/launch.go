package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// LaunchOptions configures browser launch behavior.
type LaunchOptions struct {
	// Binary is the Firefox executable. If empty, FindFirefox is used.
	Binary string

	// Headless runs the browser without a visible window.
	Headless bool

	// Port for the remote agent. If 0, uses default 9222.
	Port int

	// Profile is the profile directory. If empty, a temporary profile is
	// created and removed on Close.
	Profile string
}

// DefaultPort is the default remote agent port.
const DefaultPort = 9222

// profilePrefs keep a fresh profile from opening first-run pages and
// dialogs that would interfere with automation.
var profilePrefs = []string{
	`user_pref("browser.shell.checkDefaultBrowser", false);`,
	`user_pref("browser.startup.homepage_override.mstone", "ignore");`,
	`user_pref("browser.aboutwelcome.enabled", false);`,
	`user_pref("browser.tabs.warnOnClose", false);`,
	`user_pref("datareporting.policy.dataSubmissionEnabled", false);`,
	`user_pref("toolkit.telemetry.reportingpolicy.firstRun", false);`,
	`user_pref("app.update.disabledForTesting", true);`,
}

// buildArgs constructs the Firefox command line arguments.
func buildArgs(opts LaunchOptions) []string {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	args := []string{
		"--remote-debugging-port", strconv.Itoa(port),
		"--no-remote",
		"--new-instance",
	}

	if opts.Headless {
		args = append(args, "--headless")
	}

	if opts.Profile != "" {
		args = append(args, "--profile", opts.Profile)
	}

	args = append(args, "about:blank")

	return args
}

// createTempProfile creates a temporary profile directory with automation
// preferences.
func createTempProfile() (string, error) {
	dir, err := os.MkdirTemp("", "bidictl-firefox-*")
	if err != nil {
		return "", err
	}
	if err := writeProfilePrefs(dir); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

func writeProfilePrefs(dir string) error {
	var data []byte
	for _, pref := range profilePrefs {
		data = append(data, pref...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(filepath.Join(dir, "user.js"), data, 0o644); err != nil {
		return fmt.Errorf("write profile prefs: %w", err)
	}
	return nil
}

// spawnProcess starts the browser process with the given binary and options.
// It does not wait for the process to exit.
// Returns the command, the profile directory, and any error.
func spawnProcess(binPath string, opts LaunchOptions) (*exec.Cmd, string, error) {
	createdTempProfile := false
	if opts.Profile == "" {
		dir, err := createTempProfile()
		if err != nil {
			return nil, "", fmt.Errorf("create temp profile: %w", err)
		}
		opts.Profile = dir
		createdTempProfile = true
	}

	cmd := exec.Command(binPath, buildArgs(opts)...)

	// Detach from controlling terminal
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		if createdTempProfile {
			_ = os.RemoveAll(opts.Profile)
		}
		return nil, "", fmt.Errorf("start browser: %w", err)
	}

	return cmd, opts.Profile, nil
}
