// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/bureau-foundation/enclaved/registry"
)

// maxLogRecord bounds one diagnostic log datagram. Larger datagrams
// are truncated by the socket read, never split into two records.
const maxLogRecord = 64 * 1024

// startLogReceiver creates the diagnostic log socket at path, removing
// a stale socket from a previous run, and appends every received
// datagram to the registry's log buffer as one record. Creation
// failure is fatal to startup; the caller aborts before serving.
func startLogReceiver(ctx context.Context, path string, reg *registry.Registry, logger *slog.Logger) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale log socket: %w", err)
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("binding log socket %s: %w", path, err)
	}

	// Sandboxed applications write as unprivileged users.
	if err := os.Chmod(path, 0o666); err != nil {
		conn.Close()
		return fmt.Errorf("opening log socket permissions: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })

	go func() {
		defer stop()
		buf := make([]byte, maxLogRecord)
		for {
			n, _, err := conn.ReadFromUnix(buf)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("log receiver stopped", "error", err)
				}
				return
			}
			if n == 0 {
				continue
			}
			reg.AppendLog(bytes.Clone(buf[:n]))
		}
	}()
	return nil
}
