// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"sync"

	"github.com/bureau-foundation/enclaved/persist"
)

// serializedLink wraps the persistence client so that concurrent
// storage sessions take turns on the shared connection: the protocol
// is strictly request/response, so exactly one round trip may be in
// flight at a time.
type serializedLink struct {
	mu     sync.Mutex
	client *persist.Client
}

func (l *serializedLink) Retrieve(ctx context.Context, scope, domain, id string) (persist.Status, []byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client.Retrieve(ctx, scope, domain, id)
}

func (l *serializedLink) Persist(ctx context.Context, scope, domain, id string, data []byte) (persist.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client.Persist(ctx, scope, domain, id, data)
}

func (l *serializedLink) Close() error {
	return l.client.Close()
}

// DialPersistence returns a LinkDialer connecting to the persistence
// service at addr on the given network.
func DialPersistence(network, addr string) LinkDialer {
	return func(ctx context.Context) (Link, error) {
		client, err := persist.Dial(network, addr)
		if err != nil {
			return nil, err
		}
		return &serializedLink{client: client}, nil
	}
}

// WrapClient wraps an established persistence client as a Link. Used
// by startup for eager connection.
func WrapClient(client *persist.Client) Link {
	return &serializedLink{client: client}
}
