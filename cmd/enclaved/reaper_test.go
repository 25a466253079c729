// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/enclaved/catalog"
	"github.com/bureau-foundation/enclaved/registry"
	"github.com/bureau-foundation/enclaved/sandbox"
)

// TestExitCollectedBeforeRegistration covers the race between a
// launched process exiting immediately and the spawn path registering
// it: once the reap loop has collected the exit, registration must be
// declined, leaving no running entry behind for a pid that may be
// reused.
func TestExitCollectedBeforeRegistration(t *testing.T) {
	reg := testRegistry(t, &countingLink{})
	logger := slog.Default()

	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair() error: %v", err)
	}
	brokerFile := os.NewFile(uintptr(pair[0]), "broker")
	peerFile := os.NewFile(uintptr(pair[1]), "peer")
	defer brokerFile.Close()
	defer peerFile.Close()

	descriptor := catalog.Descriptor{
		ID:      "quick",
		Sandbox: catalog.KindPassthrough,
		Path:    "/bin/true",
	}

	reg.BeginLaunch()
	app, transport, err := sandbox.Launch(descriptor, brokerFile, logger)
	if err != nil {
		reg.AbortLaunch()
		t.Fatalf("Launch() error: %v", err)
	}
	defer transport.Close()

	// Collect the exit the way the SIGCHLD loop would, before the
	// registration step runs.
	waitFor(t, "exit collection", func() bool {
		return reapOnce(reg, logger) > 0
	})

	endpoint := registry.Endpoint{Network: "tcp", Host: "127.0.0.1", Port: 9300}
	if reg.AddRunning(endpoint, app) {
		t.Fatal("registration accepted for a process whose exit was already collected")
	}
	app.Release()

	if apps := reg.RunningApps(); len(apps) != 0 {
		t.Fatalf("running set holds %d entries for an exited process", len(apps))
	}
}

// TestRegistrationBeforeExitIsKeptUntilReaped is the non-racing order:
// a registered application's entry survives until its exit is
// collected, then the reap loop drops it.
func TestRegistrationBeforeExitIsKeptUntilReaped(t *testing.T) {
	reg := testRegistry(t, &countingLink{})
	logger := slog.Default()

	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair() error: %v", err)
	}
	brokerFile := os.NewFile(uintptr(pair[0]), "broker")
	peerFile := os.NewFile(uintptr(pair[1]), "peer")
	defer brokerFile.Close()
	defer peerFile.Close()

	descriptor := catalog.Descriptor{
		ID:      "A",
		Sandbox: catalog.KindPassthrough,
		Path:    "/bin/cat",
	}

	reg.BeginLaunch()
	app, transport, err := sandbox.Launch(descriptor, brokerFile, logger)
	if err != nil {
		reg.AbortLaunch()
		t.Fatalf("Launch() error: %v", err)
	}
	defer transport.Close()

	endpoint := registry.Endpoint{Network: "tcp", Host: "127.0.0.1", Port: 9301}
	if !reg.AddRunning(endpoint, app) {
		t.Fatal("registration declined for a live process")
	}
	if len(reg.RunningApps()) != 1 {
		t.Fatal("running set missing the registered application")
	}

	app.Stop()
	waitFor(t, "exit collection", func() bool {
		reapOnce(reg, logger)
		return len(reg.RunningApps()) == 0
	})
}
