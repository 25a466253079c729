// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/bureau-foundation/enclaved/lib/rpc"
	"github.com/bureau-foundation/enclaved/registry"
	"github.com/bureau-foundation/enclaved/sandbox"
	"github.com/bureau-foundation/enclaved/storage"
)

// fileConn is the subset of net.Conn implementations whose underlying
// descriptor can be handed to a child process.
type fileConn interface {
	File() (*os.File, error)
}

// runApplication consumes an already-taken reservation: it looks up
// the application, launches it with the arriving connection attached
// as its broker channel, records it in the running set, and serves the
// storage protocol on the internal transport until the session ends.
//
// Any failure aborts only this connection; the reservation was
// consumed when it was taken and is not restored.
func runApplication(ctx context.Context, conn net.Conn, endpoint registry.Endpoint, appID string, reg *registry.Registry, logger *slog.Logger) {
	defer conn.Close()

	descriptor, err := reg.Catalog().Lookup(appID)
	if err != nil {
		logger.Error("reserved application not launchable", "app", appID, "endpoint", endpoint.String(), "error", err)
		return
	}

	filer, ok := conn.(fileConn)
	if !ok {
		logger.Error("broker connection cannot be passed to a child", "app", appID, "type", fmt.Sprintf("%T", conn))
		return
	}
	brokerFile, err := filer.File()
	if err != nil {
		logger.Error("duplicating broker connection", "app", appID, "error", err)
		return
	}

	reg.BeginLaunch()
	app, transport, err := sandbox.Launch(descriptor, brokerFile, logger)
	brokerFile.Close()
	if err != nil {
		reg.AbortLaunch()
		logger.Error("launching application", "app", appID, "endpoint", endpoint.String(), "error", err)
		return
	}
	if !reg.AddRunning(endpoint, app) {
		// The process exited and was collected before registration.
		pid := app.PID()
		app.Release()
		transport.Close()
		logger.Info("application exited before registration", "app", appID, "pid", pid)
		return
	}

	handler := storage.NewHandler(reg, app, logger)
	if err := rpc.ServeSession(ctx, transport, handler.Actions(), logger); err != nil {
		logger.Error("storage session ended", "app", appID, "error", err)
	}
}
