// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/bureau-foundation/enclaved/lib/codec"
)

// ActionFunc processes one request on a session. The raw parameter is
// the full CBOR request (including the "action" field); the handler
// decodes action-specific fields from it.
//
// Return a value to include in the success response, or an error for a
// failure response. A nil value produces a bare {ok: true}; a non-nil
// value is marshaled into the response's "data" field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the wire-format envelope for all session responses.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// maxRequestSize bounds a single CBOR request. The largest legitimate
// message is a write-data payload; 4 MB is far beyond any record the
// persistence service accepts.
const maxRequestSize = 4 * 1024 * 1024

// messageReader enforces maxRequestSize per request rather than per
// connection. The session resets the limit before each decode; a
// single oversized request kills the session instead of the process's
// memory.
type messageReader struct {
	conn      net.Conn
	remaining int
}

func (r *messageReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, fmt.Errorf("request exceeds %d byte limit", maxRequestSize)
	}
	if len(p) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.conn.Read(p)
	r.remaining -= n
	return n, err
}

// ServeSession runs the request/response loop on conn, dispatching
// each request to the handler registered for its action. It returns
// when the peer closes the connection, the context is cancelled, or
// the stream becomes undecodable.
//
// Handler errors do not terminate the session: they are reported to
// the peer as {ok: false} responses and the loop continues. This
// matches the trust model: a sandboxed application's failed storage
// request must not cost it its session.
func ServeSession(ctx context.Context, conn net.Conn, handlers map[string]ActionFunc, logger *slog.Logger) error {
	defer conn.Close()

	// Unblock the blocking decode when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	reader := &messageReader{conn: conn}
	decoder := codec.NewDecoder(reader)
	encoder := codec.NewEncoder(conn)

	for {
		reader.remaining = maxRequestSize

		var raw codec.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("decoding request: %w", err)
		}

		var header struct {
			Action string `cbor:"action"`
		}
		if err := codec.Unmarshal(raw, &header); err != nil {
			if writeErr := writeError(encoder, fmt.Sprintf("invalid request: %v", err)); writeErr != nil {
				return writeErr
			}
			continue
		}
		if header.Action == "" {
			if err := writeError(encoder, "missing required field: action"); err != nil {
				return err
			}
			continue
		}

		handler, exists := handlers[header.Action]
		if !exists {
			if err := writeError(encoder, fmt.Sprintf("unknown action %q", header.Action)); err != nil {
				return err
			}
			continue
		}

		result, err := handler(ctx, []byte(raw))
		if err != nil {
			logger.Debug("action failed", "action", header.Action, "error", err)
			if writeErr := writeError(encoder, err.Error()); writeErr != nil {
				return writeErr
			}
			continue
		}

		if err := writeSuccess(encoder, result); err != nil {
			return err
		}
	}
}

func writeError(encoder *codec.Encoder, message string) error {
	return encoder.Encode(Response{OK: false, Error: message})
}

func writeSuccess(encoder *codec.Encoder, result any) error {
	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			return writeError(encoder, fmt.Sprintf("internal: marshaling response: %v", err))
		}
		response.Data = data
	}
	return encoder.Encode(response)
}
