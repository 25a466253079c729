// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc implements the request/response session protocol shared
// by all three enclaved wire surfaces: the broker control session, the
// per-application storage session, and the persistence-service link.
//
// A session is one long-lived connection carrying a sequence of CBOR
// request/response cycles. Each request is a CBOR map with an "action"
// field naming the operation plus action-specific fields; each response
// is an envelope {ok, error, data}. CBOR is self-delimiting, so no
// framing protocol is needed.
//
// The server side dispatches requests to registered ActionFunc
// handlers and keeps serving until the peer closes the connection. The
// client side sends one request at a time over its connection.
package rpc
