// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bureau-foundation/enclaved/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to a
// session peer. Covers only the connect phase; per-call deadlines come
// from the caller's context.
const dialTimeout = 5 * time.Second

// CallError is returned by Call when the peer responds with ok=false.
// It carries only the peer's message and the action that failed.
type CallError struct {
	Action  string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %q failed: %s", e.Action, e.Message)
}

// Client is the requesting side of a session: one connection, a
// sequence of Call round trips. Not safe for concurrent use; each
// session has a single logical request in flight at a time.
type Client struct {
	conn    net.Conn
	encoder *codec.Encoder
	decoder *codec.Decoder
}

// Dial connects to addr on the given network ("tcp" or "unix") and
// returns a session client. The caller must Close the client.
func Dial(network, addr string) (*Client, error) {
	conn, err := net.DialTimeout(network, addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s %s: %w", network, addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection in a session client. The
// client takes ownership of conn.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:    conn,
		encoder: codec.NewEncoder(conn),
		decoder: codec.NewDecoder(conn),
	}
}

// Call sends one request and decodes its response. The fields map may
// carry any action-specific request fields; the client adds "action"
// itself, so the caller must not include an "action" key. Pass nil for
// actions without parameters.
//
// On ok=true, a non-nil result receives the CBOR-decoded data field.
// On ok=false, Call returns a *CallError with the peer's message.
// Transport and encoding failures are returned as plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	} else {
		c.conn.SetDeadline(time.Time{})
	}

	if err := c.encoder.Encode(request); err != nil {
		return fmt.Errorf("sending %q: %w", action, err)
	}

	var response Response
	if err := c.decoder.Decode(&response); err != nil {
		return fmt.Errorf("reading %q response: %w", action, err)
	}

	if !response.OK {
		return &CallError{Action: action, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding %q response data: %w", action, err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
