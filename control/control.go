// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control implements the broker-facing protocol: reserve a
// session for an application that is about to connect, and drain the
// buffered diagnostic log records. The broker never launches anything
// directly; a reservation only takes effect when the application's
// own connection arrives at the router.
package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/enclaved/lib/codec"
	"github.com/bureau-foundation/enclaved/lib/rpc"
	"github.com/bureau-foundation/enclaved/registry"
)

// Handler serves one control session. It remembers the session's own
// remote endpoint: reservations are keyed by substituting the broker's
// named port into that endpoint, so a reservation can only match a
// connection from the same address family and host as the broker that
// made it.
type Handler struct {
	registry *registry.Registry
	endpoint registry.Endpoint
	logger   *slog.Logger
}

// NewHandler creates a handler for a control session whose remote
// address is endpoint.
func NewHandler(reg *registry.Registry, endpoint registry.Endpoint, logger *slog.Logger) *Handler {
	return &Handler{
		registry: reg,
		endpoint: endpoint,
		logger:   logger.With("component", "control", "peer", endpoint.String()),
	}
}

// logsResult is the wire shape of a get-logs response.
type logsResult struct {
	Logs [][]byte `cbor:"logs"`
}

// Actions returns the session's action table.
func (h *Handler) Actions() map[string]rpc.ActionFunc {
	return map[string]rpc.ActionFunc{
		"start-session": h.startSession,
		"get-logs":      h.getLogs,
	}
}

// startSession inserts a pending reservation. Fire-and-forget: the
// application identifier is not validated against the catalog here.
// An unknown identifier fails later, at spawn time, when the matching
// connection arrives.
func (h *Handler) startSession(ctx context.Context, raw []byte) (any, error) {
	var request struct {
		AppID string `cbor:"app_id"`
		Port  uint32 `cbor:"port"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid start-session request: %w", err)
	}
	if request.AppID == "" {
		return nil, fmt.Errorf("missing required field: app_id")
	}

	reservation := h.endpoint.WithPort(request.Port)
	h.logger.Info("reserving session", "app", request.AppID, "endpoint", reservation.String())
	h.registry.Reserve(reservation, request.AppID)
	return nil, nil
}

// getLogs drains the diagnostic log buffer.
func (h *Handler) getLogs(ctx context.Context, raw []byte) (any, error) {
	return logsResult{Logs: h.registry.DrainLogs()}, nil
}
