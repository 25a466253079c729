// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/bureau-foundation/enclaved/control"
	"github.com/bureau-foundation/enclaved/lib/rpc"
	"github.com/bureau-foundation/enclaved/registry"
)

// serve accepts connections until ctx is cancelled, routing each on
// its own goroutine.
func serve(ctx context.Context, listener net.Listener, reg *registry.Registry, logger *slog.Logger) error {
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go route(ctx, conn, reg, logger)
	}
}

// route classifies one new connection. Reservation matches take
// priority over the control-port check; everything else is dropped.
func route(ctx context.Context, conn net.Conn, reg *registry.Registry, logger *slog.Logger) {
	endpoint, err := registry.EndpointFromAddr(conn.RemoteAddr())
	if err != nil {
		logger.Warn("dropping connection", "error", err)
		conn.Close()
		return
	}

	if appID, reserved := reg.TakeReservation(endpoint); reserved {
		runApplication(ctx, conn, endpoint, appID, reg, logger)
		return
	}

	if endpoint.Port == reg.ControlPort() {
		logger.Info("control session opened", "endpoint", endpoint.String())
		handler := control.NewHandler(reg, endpoint, logger)
		if err := rpc.ServeSession(ctx, conn, handler.Actions(), logger); err != nil {
			logger.Error("control session ended", "endpoint", endpoint.String(), "error", err)
		}
		return
	}

	logger.Warn("dropping unsolicited connection", "endpoint", endpoint.String())
	conn.Close()
}
