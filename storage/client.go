// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"net"

	"github.com/bureau-foundation/enclaved/lib/rpc"
	"github.com/bureau-foundation/enclaved/persist"
)

// Client is the application side of a storage session. A sandboxed
// application builds one over the internal transport it finds on
// descriptor slots 3 and 4.
type Client struct {
	session *rpc.Client
}

// NewClient wraps the application's end of the internal transport.
func NewClient(conn net.Conn) *Client {
	return &Client{session: rpc.NewClient(conn)}
}

// ReadData fetches the record stored under id.
func (c *Client) ReadData(ctx context.Context, id string) (persist.Status, []byte, error) {
	var result readResult
	if err := c.session.Call(ctx, "read-data", map[string]any{"id": id}, &result); err != nil {
		return persist.StatusFailure, nil, err
	}
	return result.Status, result.Data, nil
}

// WriteData stores data under id.
func (c *Client) WriteData(ctx context.Context, id string, data []byte) (persist.Status, error) {
	var result writeResult
	if err := c.session.Call(ctx, "write-data", map[string]any{"id": id, "data": data}, &result); err != nil {
		return persist.StatusFailure, err
	}
	return result.Status, nil
}

// Close closes the session.
func (c *Client) Close() error {
	return c.session.Close()
}
