// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Enclaved is the trusted-application life-cycle manager. It listens
// for connections from the broker, launches catalog applications into
// sandboxes when a reserved connection arrives, proxies each running
// application's storage traffic to the persistence service, and
// buffers diagnostic log records for the broker to drain.
//
// Connection dispatch is default-deny: a connection must match a
// pending reservation or arrive from the expected control port, or
// it is dropped.
package main
