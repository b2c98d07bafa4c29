//go:build !windows

package supervisor

import (
	"fmt"
	"os"
	"syscall"
)

// stopProcess sends SIGTERM to pid; unix processes handle their own
// graceful shutdown from there.
func stopProcess(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("supervisor: SIGTERM pid %d: %w", pid, err)
	}
	return nil
}

// RunReaperHelper only exists for the --interrupt-console flag on
// Windows; on unix stop() uses a plain signal and this is never wired
// up by main.go, but the symbol still needs to exist so main.go
// compiles on every platform.
func RunReaperHelper(consoleOwnerPID uint32) {
	os.Exit(int(ReaperAttachFailed))
}
