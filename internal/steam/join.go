// Package steam launches the local Steam client to join a game server.
package steam

import (
	"fmt"
	"os/exec"
	"runtime"
)

// ConnectURL builds the steam connect URL for one server.
// Params: host:port address.
// Returns: steam protocol URL handled by the installed client.
func ConnectURL(address string) string {
	return "steam://connect/" + address
}

// Launcher opens steam connect URLs through the OS URL handler.
// Params: optional command runner override for tests.
// Returns: engine auto-join implementation.
type Launcher struct {
	run func(name string, args ...string) error
}

// NewLauncher creates the platform launcher.
// Params: none.
// Returns: launcher using the OS default URL opener.
func NewLauncher() *Launcher {
	return &Launcher{run: runCommand}
}

// Join opens the steam connect URL for one server.
// Params: host:port address.
// Returns: launch error when the URL handler cannot be started.
func (l *Launcher) Join(address string) error {
	if address == "" {
		return fmt.Errorf("join: empty server address")
	}
	target := ConnectURL(address)
	name, args := openCommand(target)
	if err := l.run(name, args...); err != nil {
		return fmt.Errorf("open %s: %w", target, err)
	}
	return nil
}

// openCommand selects the per-OS URL opener.
// Params: URL to open.
// Returns: command name and arguments.
func openCommand(target string) (string, []string) {
	switch runtime.GOOS {
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", target}
	case "darwin":
		return "open", []string{target}
	default:
		return "xdg-open", []string{target}
	}
}

// runCommand starts one command without waiting for it to exit.
// Params: command name and arguments.
// Returns: start error.
func runCommand(name string, args ...string) error {
	return exec.Command(name, args...).Start()
}
