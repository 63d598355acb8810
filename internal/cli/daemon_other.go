//go:build !darwin && !linux

package cli

import "fmt"

func installLaunchdService(configFile string) error {
	return fmt.Errorf("launchd not available on this platform")
}

func uninstallLaunchdService() error {
	return fmt.Errorf("launchd not available on this platform")
}

func installSystemdService(configFile string) error {
	return fmt.Errorf("systemd not available on this platform")
}

func uninstallSystemdService() error {
	return fmt.Errorf("systemd not available on this platform")
}
