//go:build windows

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sys/windows"
)

// stopProcess re-execs the current binary with --interrupt-console
// pid, since Windows has no signal that a foreign process can send to
// ask another process to shut down gracefully. The reaper child
// attaches to the target's console and raises Ctrl-C on everything
// attached to it.
func stopProcess(pid int) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("supervisor: resolve own executable: %w", err)
	}

	cmd := exec.Command(exe, "--interrupt-console", strconv.Itoa(pid))
	err = cmd.Run()

	exitErr, ok := err.(*exec.ExitError)
	if err != nil && !ok {
		return fmt.Errorf("supervisor: run console reaper: %w", err)
	}
	code := ReaperSuccess
	if ok {
		code = ReaperExitCode(exitErr.ExitCode())
	}
	if code != ReaperSuccess {
		return code
	}
	return nil
}

// RunReaperHelper implements the --interrupt-console pid entry point:
// it detaches from its own console, attaches to the target console,
// disables its own Ctrl-C handler so the reaper itself survives, and
// raises a Ctrl-C event on everything attached to that console. It
// never returns; the process exits with a ReaperExitCode.
func RunReaperHelper(consoleOwnerPID uint32) {
	_ = windows.FreeConsole()

	if err := windows.AttachConsole(consoleOwnerPID); err != nil {
		os.Exit(int(ReaperAttachFailed))
	}
	if err := windows.SetConsoleCtrlHandler(nil, true); err != nil {
		os.Exit(int(ReaperSetHandlerFailed))
	}
	if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_C_EVENT, 0); err != nil {
		os.Exit(int(ReaperGenerateCtrlEventFailed))
	}
	os.Exit(int(ReaperSuccess))
}
