// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package persist speaks the persistence-service protocol: retrieve
// and persist operations keyed by (scope, domain, record id). The
// manager holds at most one link to the service per process; every
// running application's storage traffic shares it.
//
// EncryptedStore wraps a link for applications whose storage
// parameters carry an encryption key version: record payloads are
// compressed and sealed before they leave the manager, and the
// persistence service only ever sees ciphertext for those
// applications.
package persist

import (
	"context"
	"fmt"
)

// Status is the persistence service's application-level result. A
// Status travels alongside transport success; a failed round trip is
// an error, not a Status.
type Status uint8

const (
	// StatusSuccess means the operation completed.
	StatusSuccess Status = 0

	// StatusIDNotFound means no record exists under the requested id.
	StatusIDNotFound Status = 1

	// StatusFailure means the service could not complete the
	// operation (storage backend trouble, quota, malformed record).
	StatusFailure Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusIDNotFound:
		return "id-not-found"
	case StatusFailure:
		return "failure"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Store is the persistence operation surface shared by the plain link
// and the encrypting adapter. The storage proxy picks one variant per
// request based on the application's configuration.
type Store interface {
	// Retrieve fetches the record stored under (scope, domain, id).
	Retrieve(ctx context.Context, scope, domain, id string) (Status, []byte, error)

	// Persist stores data under (scope, domain, id), replacing any
	// previous record.
	Persist(ctx context.Context, scope, domain, id string, data []byte) (Status, error)
}
