// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/enclaved/lib/rpc"
)

// Client is the manager's link to the remote persistence service: one
// connection carrying retrieve/persist round trips. Not safe for
// concurrent use; the registry serializes access to the shared link.
type Client struct {
	session *rpc.Client
}

// Dial connects to the persistence service at addr on the given
// network.
func Dial(network, addr string) (*Client, error) {
	session, err := rpc.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to persistence service: %w", err)
	}
	return &Client{session: session}, nil
}

// NewClient wraps an established session. Used by tests.
func NewClient(session *rpc.Client) *Client {
	return &Client{session: session}
}

// retrieveResult is the wire shape of a retrieve response.
type retrieveResult struct {
	Status Status `cbor:"status"`
	Data   []byte `cbor:"data"`
}

// persistResult is the wire shape of a persist response.
type persistResult struct {
	Status Status `cbor:"status"`
}

// Retrieve implements Store.
func (c *Client) Retrieve(ctx context.Context, scope, domain, id string) (Status, []byte, error) {
	var result retrieveResult
	err := c.session.Call(ctx, "retrieve", map[string]any{
		"scope":  scope,
		"domain": domain,
		"id":     id,
	}, &result)
	if err != nil {
		return StatusFailure, nil, err
	}
	return result.Status, result.Data, nil
}

// Persist implements Store.
func (c *Client) Persist(ctx context.Context, scope, domain, id string, data []byte) (Status, error) {
	var result persistResult
	err := c.session.Call(ctx, "persist", map[string]any{
		"scope":  scope,
		"domain": domain,
		"id":     id,
		"data":   data,
	}, &result)
	if err != nil {
		return StatusFailure, err
	}
	return result.Status, nil
}

// Close closes the link.
func (c *Client) Close() error {
	return c.session.Close()
}
