// Package supervisor launches and tracks the game process a
// prepared instance hands off to, and watches for the launcher's
// own parent (the UI shell) exiting unexpectedly.
package supervisor

import (
	"fmt"
	"os/exec"
	"sync"

	"project-tachyon/internal/instance"
	"project-tachyon/internal/invalidation"
)

// Supervisor owns the set of game processes currently running under
// managed instances and keeps their instance.LaunchState in sync with
// actual process liveness.
type Supervisor struct {
	instances *instance.Store
	bus       *invalidation.Bus

	mu      sync.Mutex
	running map[string]*exec.Cmd // instance id -> child process
}

func New(instances *instance.Store, bus *invalidation.Bus) *Supervisor {
	return &Supervisor{
		instances: instances,
		bus:       bus,
		running:   make(map[string]*exec.Cmd),
	}
}

// Launch starts cmd as the game process for instanceID, records the
// pid in the instance's LaunchState and reaps the process in the
// background, transitioning the instance back to Inactive on exit.
func (s *Supervisor) Launch(instanceID string, cmd *exec.Cmd) (int, error) {
	s.mu.Lock()
	if _, exists := s.running[instanceID]; exists {
		s.mu.Unlock()
		return 0, fmt.Errorf("supervisor: instance %s already has a running process", instanceID)
	}
	s.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("supervisor: start process: %w", err)
	}
	pid := cmd.Process.Pid

	s.mu.Lock()
	s.running[instanceID] = cmd
	s.mu.Unlock()

	if err := s.instances.SetLaunchState(instanceID, instance.LaunchState{
		Kind: instance.Running,
		Pid:  pid,
	}); err != nil {
		return pid, err
	}
	s.bus.Publish(invalidation.Event{Topic: "instance.launchState", Payload: instanceID})

	go s.reap(instanceID, cmd)

	return pid, nil
}

// reap blocks until the child exits and restores Inactive state.
func (s *Supervisor) reap(instanceID string, cmd *exec.Cmd) {
	_ = cmd.Wait()

	s.mu.Lock()
	delete(s.running, instanceID)
	s.mu.Unlock()

	_ = s.instances.SetLaunchState(instanceID, instance.LaunchState{Kind: instance.Inactive})
	s.bus.Publish(invalidation.Event{Topic: "instance.launchState", Payload: instanceID})
}

// Stop terminates the process running under instanceID, if any.
func (s *Supervisor) Stop(instanceID string) error {
	s.mu.Lock()
	cmd, ok := s.running[instanceID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: instance %s has no running process", instanceID)
	}
	return stopProcess(cmd.Process.Pid)
}

// ReaperExitCode is the fixed small enum the Windows console-reaper
// helper process (re-exec of this same binary with
// --interrupt-console) returns, decoded by the parent into a typed
// stop error.
type ReaperExitCode int

const (
	ReaperSuccess ReaperExitCode = iota
	ReaperAttachFailed
	ReaperSetHandlerFailed
	ReaperGenerateCtrlEventFailed
)

func (c ReaperExitCode) Error() string {
	switch c {
	case ReaperSuccess:
		return "reaper: success"
	case ReaperAttachFailed:
		return "reaper: failed to attach to target console"
	case ReaperSetHandlerFailed:
		return "reaper: failed to set console control handler"
	case ReaperGenerateCtrlEventFailed:
		return "reaper: failed to generate ctrl event"
	default:
		return "reaper: unknown exit code"
	}
}
