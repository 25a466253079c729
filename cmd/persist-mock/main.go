// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Persist-mock is a drop-in persistence service for development and
// integration testing. It speaks the retrieve/persist protocol
// exactly, stores every record in memory, and forgets everything on
// exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bureau-foundation/enclaved/lib/codec"
	"github.com/bureau-foundation/enclaved/lib/rpc"
	"github.com/bureau-foundation/enclaved/persist"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listenAddr string
		network    string
	)
	flag.StringVar(&listenAddr, "listen", "127.0.0.1:5553", "address to listen on")
	flag.StringVar(&network, "network", "tcp", "listen network (tcp or unix)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	listener, err := net.Listen(network, listenAddr)
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	store := newMemoryStore()
	logger.Info("persist-mock listening", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go rpc.ServeSession(ctx, conn, store.actions(), logger)
	}
}

// memoryStore keeps records in a map keyed by scope, domain, and id.
type memoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string][]byte)}
}

func recordKey(scope, domain, id string) string {
	return scope + "\x00" + domain + "\x00" + id
}

func (s *memoryStore) actions() map[string]rpc.ActionFunc {
	return map[string]rpc.ActionFunc{
		"retrieve": s.retrieve,
		"persist":  s.persist,
	}
}

type storageRequest struct {
	Scope  string `cbor:"scope"`
	Domain string `cbor:"domain"`
	ID     string `cbor:"id"`
	Data   []byte `cbor:"data"`
}

type retrieveResult struct {
	Status persist.Status `cbor:"status"`
	Data   []byte         `cbor:"data"`
}

type persistResult struct {
	Status persist.Status `cbor:"status"`
}

func (s *memoryStore) retrieve(ctx context.Context, raw []byte) (any, error) {
	var request storageRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding retrieve request: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, exists := s.records[recordKey(request.Scope, request.Domain, request.ID)]
	if !exists {
		return retrieveResult{Status: persist.StatusIDNotFound}, nil
	}
	return retrieveResult{Status: persist.StatusSuccess, Data: data}, nil
}

func (s *memoryStore) persist(ctx context.Context, raw []byte) (any, error) {
	var request storageRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding persist request: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey(request.Scope, request.Domain, request.ID)] = request.Data
	return persistResult{Status: persist.StatusSuccess}, nil
}
