// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/enclaved/lib/rpc"
)

// Client is the broker side of a control session.
type Client struct {
	session *rpc.Client
}

// Dial opens a control session to the manager at addr.
func Dial(network, addr string) (*Client, error) {
	session, err := rpc.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("connecting control session: %w", err)
	}
	return &Client{session: session}, nil
}

// NewClient wraps an established session.
func NewClient(session *rpc.Client) *Client {
	return &Client{session: session}
}

// StartSession reserves the given port for an application connection.
func (c *Client) StartSession(ctx context.Context, appID string, port uint32) error {
	return c.session.Call(ctx, "start-session", map[string]any{
		"app_id": appID,
		"port":   port,
	}, nil)
}

// GetLogs drains the manager's diagnostic log buffer.
func (c *Client) GetLogs(ctx context.Context) ([][]byte, error) {
	var result logsResult
	if err := c.session.Call(ctx, "get-logs", nil, &result); err != nil {
		return nil, err
	}
	return result.Logs, nil
}

// Close closes the session.
func (c *Client) Close() error {
	return c.session.Close()
}
