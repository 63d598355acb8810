//go:build linux

package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/ehrlich-b/diaglog/internal/config"
)

// Stubs for macOS-only functions
func installLaunchdService(configFile string) error {
	return fmt.Errorf("launchd not available on Linux")
}

func uninstallLaunchdService() error {
	return fmt.Errorf("launchd not available on Linux")
}

const systemdServiceTemplate = `[Unit]
Description=diaglog diagnostic log collector

[Service]
Type=simple
ExecStart={{.Executable}} {{.Args}}
Restart=on-failure
RestartSec=5
# Stop flushes and clears the active log file; give it time.
TimeoutStopSec=30

# Logging
StandardOutput=append:{{.LogFile}}
StandardError=append:{{.LogFile}}

# Security
NoNewPrivileges=true
ProtectSystem=strict
ProtectHome=read-only
ReadWritePaths={{.StateDir}}

[Install]
WantedBy=default.target
`

func systemdServicePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "systemd", "user", "diaglog.service")
}

func installSystemdService(configFile string) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}

	servicePath := systemdServicePath()

	// Ensure systemd user directory exists
	if err := os.MkdirAll(filepath.Dir(servicePath), 0755); err != nil {
		return fmt.Errorf("create systemd directory: %w", err)
	}
	if err := os.MkdirAll(config.Home(), 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	// Generate service file
	tmpl, err := template.New("service").Parse(systemdServiceTemplate)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}

	f, err := os.Create(servicePath)
	if err != nil {
		return fmt.Errorf("create service file: %w", err)
	}
	defer f.Close()

	data := struct {
		Executable string
		Args       string
		LogFile    string
		StateDir   string
	}{
		Executable: executable,
		Args:       strings.Join(serviceArgs(configFile), " "),
		LogFile:    DefaultLogFile(),
		StateDir:   config.Home(),
	}

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("write service: %w", err)
	}

	// Reload systemd
	cmd := exec.Command("systemctl", "--user", "daemon-reload")
	if err := cmd.Run(); err != nil {
		fmt.Println("Note: Failed to reload systemd. You may need to run:")
		fmt.Println("  systemctl --user daemon-reload")
	}

	fmt.Printf("Service installed at %s\n", servicePath)
	fmt.Println()
	fmt.Println("To start collecting:")
	fmt.Println("  systemctl --user enable --now diaglog")

	return nil
}

func uninstallSystemdService() error {
	servicePath := systemdServicePath()

	// Try to stop and disable first
	_ = exec.Command("systemctl", "--user", "stop", "diaglog").Run()
	_ = exec.Command("systemctl", "--user", "disable", "diaglog").Run()

	if err := os.Remove(servicePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("service not installed")
		}
		return fmt.Errorf("remove service file: %w", err)
	}

	// Reload systemd
	_ = exec.Command("systemctl", "--user", "daemon-reload").Run()

	fmt.Println("Service uninstalled")
	return nil
}
