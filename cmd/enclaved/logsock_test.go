// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"net"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/enclaved/registry"
)

func TestLogReceiverAppendsDatagrams(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.New(registry.Config{})

	path := filepath.Join(t.TempDir(), "log")
	if err := startLogReceiver(ctx, path, reg, slog.Default()); err != nil {
		t.Fatalf("startLogReceiver: %v", err)
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("dialing log socket: %v", err)
	}
	defer conn.Close()

	records := []string{"first record", "second record"}
	for _, record := range records {
		if _, err := conn.Write([]byte(record)); err != nil {
			t.Fatalf("writing datagram: %v", err)
		}
	}

	var drained [][]byte
	waitFor(t, "log records", func() bool {
		drained = append(drained, reg.DrainLogs()...)
		return len(drained) == len(records)
	})
	for i, record := range records {
		if string(drained[i]) != record {
			t.Errorf("record %d = %q, want %q", i, drained[i], record)
		}
	}

	// Drained records never reappear.
	if extra := reg.DrainLogs(); len(extra) != 0 {
		t.Fatalf("second drain returned %d records, want none", len(extra))
	}
}

func TestLogReceiverReplacesStaleSocket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.New(registry.Config{})
	path := filepath.Join(t.TempDir(), "log")

	stale, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("creating stale socket: %v", err)
	}
	stale.Close()

	if err := startLogReceiver(ctx, path, reg, slog.Default()); err != nil {
		t.Fatalf("startLogReceiver over stale socket: %v", err)
	}
}
