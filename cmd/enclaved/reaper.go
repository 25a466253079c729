// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/enclaved/registry"
)

// becomeSubreaper marks the process as a child subreaper so sandbox
// intermediaries that exit before their children re-parent those
// children here instead of to init, keeping the whole sandbox subtree
// collectable by the reap loop.
func becomeSubreaper() error {
	return unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
}

// reapLoop collects every exited descendant on SIGCHLD. A collected
// pid matching a registered application drops its running entry and
// releases the process handle; other descendants (re-parented sandbox
// children) are collected silently so they do not linger as zombies.
//
// The loop, not the exec package, owns wait for application processes.
// The running set holds released handles precisely so no other
// goroutine races this loop for the exit status.
func reapLoop(ctx context.Context, reg *registry.Registry, logger *slog.Logger) {
	sigchld := make(chan os.Signal, 1)
	signal.Notify(sigchld, unix.SIGCHLD)
	defer signal.Stop(sigchld)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigchld:
			reapOnce(reg, logger)
		}
	}
}

// reapOnce drains all currently collectable descendants and returns
// how many it collected. SIGCHLD is not queued per child, so one
// signal may cover several exits.
func reapOnce(reg *registry.Registry, logger *slog.Logger) int {
	collected := 0
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || pid <= 0 {
			return collected
		}
		collected++

		app, registered := reg.DropRunningByPID(pid)
		if !registered {
			logger.Info("collected descendant", "pid", pid)
			continue
		}
		app.Release()
		logger.Info("application exited",
			"app", app.Descriptor.ID,
			"pid", pid,
			"exit_status", status.ExitStatus(),
			"signaled", status.Signaled(),
		)
	}
}
