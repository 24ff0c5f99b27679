// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package gate

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/pivgate/pivgate/internal/model"
)

// Launcher hands an authorized connection off to the external interactive
// SSH client. PivGate's responsibility ends here; the actual
// challenge/response authentication against the token is delegated.
type Launcher interface {
	Launch(ctx context.Context, server model.ServerRecord, providerPath string) error
}

// TerminalLauncher opens the system terminal with an ssh command configured
// to use the token's PKCS#11 provider for authentication.
type TerminalLauncher struct{}

// sshArgs builds the ssh invocation for the handoff.
func sshArgs(server model.ServerRecord, providerPath string) []string {
	return []string{
		"ssh",
		"-o", "PKCS11Provider=" + providerPath,
		fmt.Sprintf("%s@%s", server.Username, server.Hostname),
		"-p", strconv.Itoa(server.Port),
	}
}

// Launch starts the interactive session in a new terminal window. The
// command's output is not parsed; a launch failure is the only error
// surfaced.
func (l *TerminalLauncher) Launch(ctx context.Context, server model.ServerRecord, providerPath string) error {
	args := sshArgs(server, providerPath)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("tell application \"Terminal\"\nactivate\ndo script %q\nend tell", strings.Join(args, " "))
		cmd = exec.CommandContext(ctx, "osascript", "-e", script)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", append([]string{"/c", "start"}, args...)...)
	default:
		cmd = exec.CommandContext(ctx, "x-terminal-emulator", append([]string{"-e"}, args...)...)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch interactive ssh: %w", err)
	}
	// The terminal owns the session from here on.
	go func() { _ = cmd.Wait() }()
	return nil
}
