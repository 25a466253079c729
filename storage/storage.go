// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage implements the per-application storage protocol:
// read-data and write-data requests from a sandboxed application,
// proxied to the shared persistence link with bounded retry and,
// when the application is configured for it, per-request encryption.
//
// No internal failure detail crosses the trust boundary: a sandboxed
// application that cannot be served learns only that its operation
// failed, never why, so it cannot probe the host or persistence
// topology through error messages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/enclaved/catalog"
	"github.com/bureau-foundation/enclaved/lib/codec"
	"github.com/bureau-foundation/enclaved/lib/rpc"
	"github.com/bureau-foundation/enclaved/persist"
	"github.com/bureau-foundation/enclaved/registry"
	"github.com/bureau-foundation/enclaved/sandbox"
)

// errOpaque is the only error a sandboxed application ever sees from
// the storage protocol.
var errOpaque = errors.New("storage operation failed")

// Handler serves one running application's storage session. It shares
// the App record with the registry's running set and reads the
// application's entitlements from the descriptor copied at launch.
type Handler struct {
	registry *registry.Registry
	app      *sandbox.App
	logger   *slog.Logger
}

// NewHandler creates the storage handler for a launched application.
func NewHandler(reg *registry.Registry, app *sandbox.App, logger *slog.Logger) *Handler {
	return &Handler{
		registry: reg,
		app:      app,
		logger:   logger.With("component", "storage", "app", app.Descriptor.ID),
	}
}

// Actions returns the session's action table.
func (h *Handler) Actions() map[string]rpc.ActionFunc {
	return map[string]rpc.ActionFunc{
		"read-data":  h.readData,
		"write-data": h.writeData,
	}
}

// readResult is the wire shape of a read-data response.
type readResult struct {
	Status persist.Status `cbor:"status"`
	Data   []byte         `cbor:"data"`
}

// writeResult is the wire shape of a write-data response.
type writeResult struct {
	Status persist.Status `cbor:"status"`
}

func (h *Handler) readData(ctx context.Context, raw []byte) (any, error) {
	var request struct {
		ID string `cbor:"id"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, errOpaque
	}

	var result readResult
	err := h.withStore(ctx, func(params *catalog.StorageParameters, store persist.Store) error {
		status, data, err := store.Retrieve(ctx, params.Scope, params.Domain, request.ID)
		if err != nil {
			return err
		}
		result = readResult{Status: status, Data: data}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *Handler) writeData(ctx context.Context, raw []byte) (any, error) {
	var request struct {
		ID   string `cbor:"id"`
		Data []byte `cbor:"data"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, errOpaque
	}

	var result writeResult
	err := h.withStore(ctx, func(params *catalog.StorageParameters, store persist.Store) error {
		status, err := store.Persist(ctx, params.Scope, params.Domain, request.ID, request.Data)
		if err != nil {
			return err
		}
		result = writeResult{Status: status}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// withStore runs one storage operation against the persistence link,
// wrapping the link in an encrypting adapter when the application's
// parameters request it. A transport failure invalidates the link and
// is retried exactly once against a freshly established link; a second
// failure, or a failure to re-establish, surfaces as the opaque error.
//
// Encryption material is derived per request and released before the
// request returns: key lifetime never exceeds one call.
func (h *Handler) withStore(ctx context.Context, op func(params *catalog.StorageParameters, store persist.Store) error) error {
	params := h.app.Descriptor.Storage
	if params == nil {
		h.logger.Error("unconfigured storage call")
		return errOpaque
	}

	for round := 0; round <= 1; round++ {
		if link, ok := h.registry.CurrentLink(); ok {
			store, release, err := h.wrapLink(link, params)
			if err != nil {
				// Key derivation or adapter construction trouble is a
				// configuration failure, not a link failure; the link
				// stays up.
				h.logger.Error("building persistence target failed", "error", err)
				return errOpaque
			}
			err = op(params, store)
			release()
			if err == nil {
				return nil
			}
			// The link may be stale; drop it so the next round
			// re-establishes.
			h.registry.InvalidateLink(link)
			h.logger.Error("persistence operation failed", "error", err)
			if round == 1 {
				return errOpaque
			}
		}

		if _, err := h.registry.EnsureLink(ctx); err != nil {
			h.logger.Error("persistence link unavailable", "error", err)
			return errOpaque
		}
	}
	return errOpaque
}

// wrapLink selects the persistence target for one round: the link
// directly, or an encrypting adapter around it when the application's
// parameters carry an encryption key version. The release function
// frees any derived key material.
func (h *Handler) wrapLink(link registry.Link, params *catalog.StorageParameters) (persist.Store, func(), error) {
	if params.EncryptionKeyVersion == nil {
		return link, func() {}, nil
	}

	key, err := h.registry.Secrets().StorageKey(h.app.Descriptor.ID, *params.EncryptionKeyVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving storage key: %w", err)
	}
	encrypted, err := persist.NewEncryptedStore(link, key)
	if err != nil {
		key.Close()
		return nil, nil, fmt.Errorf("building encrypting adapter: %w", err)
	}
	return encrypted, func() { key.Close() }, nil
}
