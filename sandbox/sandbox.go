// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox launches trusted applications inside their
// configured isolation and wires the fixed descriptor ABI: slot 0 and
// 1 carry the broker connection, slot 2 the diagnostic error stream,
// slots 3 and 4 the internal storage transport back to the manager.
// The numbering is part of the executable contract, not negotiated at
// runtime.
package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/enclaved/catalog"
)

// ErrKindNotImplemented is returned for sandbox kinds that exist in
// the protocol but have no launch path. Virtual-machine isolation is
// the only such kind.
var ErrKindNotImplemented = errors.New("sandbox kind not implemented")

// App is one running sandboxed application: the process handle plus a
// copy of the descriptor it was launched from. The registry's running
// set and the storage session serving the application share the same
// *App.
type App struct {
	// Descriptor is the manifest entry the application was launched
	// from, copied at launch time so later manifest reloads cannot
	// change a running application's entitlements.
	Descriptor catalog.Descriptor

	cmd *exec.Cmd
}

// PID returns the sandboxed process id (for container sandboxes, the
// bubblewrap supervisor's pid).
func (a *App) PID() int {
	return a.cmd.Process.Pid
}

// Wait blocks until the process exits. Used by tests and by shutdown
// paths that own the full child lifecycle; the daemon's reap loop
// collects exit statuses itself and calls Release instead.
func (a *App) Wait() error {
	return a.cmd.Wait()
}

// Release drops the process handle without waiting. Called after the
// reap loop has already collected the exit status.
func (a *App) Release() error {
	return a.cmd.Process.Release()
}

// Stop kills the application's process group. Used at manager
// shutdown; normal teardown is the application exiting on its own.
func (a *App) Stop() {
	syscall.Kill(-a.cmd.Process.Pid, syscall.SIGKILL)
}

// Launch starts the application described by descriptor with the given
// broker connection file attached to descriptor slots 0 and 1. It
// returns the running App and the manager-side end of the internal
// storage transport.
//
// On any failure the attempted process is not left running and nothing
// is registered; the failure aborts only this launch.
func Launch(descriptor catalog.Descriptor, brokerConn *os.File, logger *slog.Logger) (*App, net.Conn, error) {
	var command *exec.Cmd
	switch descriptor.Sandbox {
	case catalog.KindPassthrough:
		// Development mode: the executable runs with no isolation
		// beyond its own process group.
		command = exec.Command(descriptor.Path)

	case catalog.KindContainer:
		bwrap, err := bwrapPath()
		if err != nil {
			return nil, nil, fmt.Errorf("creating sandbox: %w", err)
		}
		command = exec.Command(bwrap, bwrapArgs(descriptor.Path)...)

	case catalog.KindVirtualMachine:
		return nil, nil, fmt.Errorf("%w: %q for application %q", ErrKindNotImplemented, descriptor.Sandbox, descriptor.ID)

	default:
		return nil, nil, fmt.Errorf("%w: %q for application %q", ErrKindNotImplemented, descriptor.Sandbox, descriptor.ID)
	}

	// Internal storage transport: a stream socketpair. The application
	// end is mapped to both slot 3 and slot 4: the read and write
	// roles are distinct slots in the ABI but may share one socket.
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("creating storage transport: %w", err)
	}
	managerFile := os.NewFile(uintptr(pair[0]), "storage-transport-manager")
	appFile := os.NewFile(uintptr(pair[1]), "storage-transport-app")

	// net.FileConn duplicates the descriptor, so the original can be
	// closed regardless of outcome.
	managerConn, err := net.FileConn(managerFile)
	managerFile.Close()
	if err != nil {
		appFile.Close()
		return nil, nil, fmt.Errorf("wrapping storage transport: %w", err)
	}

	command.Stdin = brokerConn
	command.Stdout = brokerConn
	command.Stderr = os.Stderr
	command.ExtraFiles = []*os.File{appFile, appFile}

	// Fresh process group so Stop can kill the whole sandbox subtree.
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// The application must not inherit the manager's environment.
	command.Env = []string{}

	if err := command.Start(); err != nil {
		appFile.Close()
		managerConn.Close()
		return nil, nil, fmt.Errorf("starting application %q: %w", descriptor.ID, err)
	}
	// The child holds its own copies of the transport now.
	appFile.Close()

	logger.Info("launched application",
		"app", descriptor.ID,
		"sandbox", descriptor.Sandbox,
		"pid", command.Process.Pid,
	)

	return &App{Descriptor: descriptor, cmd: command}, managerConn, nil
}
