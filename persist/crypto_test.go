// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"bytes"
	"context"
	"testing"

	"github.com/bureau-foundation/enclaved/lib/secret"
)

// memoryStore is an in-memory Store for adapter tests.
type memoryStore struct {
	records map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string][]byte)}
}

func (m *memoryStore) key(scope, domain, id string) string {
	return scope + "/" + domain + "/" + id
}

func (m *memoryStore) Retrieve(ctx context.Context, scope, domain, id string) (Status, []byte, error) {
	data, exists := m.records[m.key(scope, domain, id)]
	if !exists {
		return StatusIDNotFound, nil, nil
	}
	return StatusSuccess, data, nil
}

func (m *memoryStore) Persist(ctx context.Context, scope, domain, id string, data []byte) (Status, error) {
	m.records[m.key(scope, domain, id)] = append([]byte(nil), data...)
	return StatusSuccess, nil
}

func testKey(t *testing.T, fill byte) *secret.Buffer {
	t.Helper()
	key, err := secret.New(32)
	if err != nil {
		t.Fatalf("secret.New() error: %v", err)
	}
	t.Cleanup(func() { key.Close() })
	for index := range key.Bytes() {
		key.Bytes()[index] = fill
	}
	return key
}

func TestEncryptedRoundTrip(t *testing.T) {
	backing := newMemoryStore()
	store, err := NewEncryptedStore(backing, testKey(t, 0x11))
	if err != nil {
		t.Fatalf("NewEncryptedStore() error: %v", err)
	}

	plaintext := []byte("shader cache entry, reasonably compressible aaaaaaaaaaaaaaaaaaaa")
	status, err := store.Persist(context.Background(), "app", "shader", "entry-1", plaintext)
	if err != nil {
		t.Fatalf("Persist() error: %v", err)
	}
	if status != StatusSuccess {
		t.Fatalf("Persist() status = %v, want success", status)
	}

	// The backing store must never see the plaintext.
	stored := backing.records["app/shader/entry-1"]
	if bytes.Contains(stored, plaintext) {
		t.Error("backing store holds unwrapped plaintext")
	}

	status, got, err := store.Retrieve(context.Background(), "app", "shader", "entry-1")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if status != StatusSuccess {
		t.Fatalf("Retrieve() status = %v, want success", status)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Retrieve() = %q, want %q", got, plaintext)
	}
}

func TestEncryptedWrongKey(t *testing.T) {
	backing := newMemoryStore()
	writer, err := NewEncryptedStore(backing, testKey(t, 0x22))
	if err != nil {
		t.Fatalf("NewEncryptedStore() error: %v", err)
	}
	if _, err := writer.Persist(context.Background(), "app", "d", "id", []byte("secret")); err != nil {
		t.Fatalf("Persist() error: %v", err)
	}

	reader, err := NewEncryptedStore(backing, testKey(t, 0x33))
	if err != nil {
		t.Fatalf("NewEncryptedStore() error: %v", err)
	}
	status, _, err := reader.Retrieve(context.Background(), "app", "d", "id")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if status != StatusFailure {
		t.Errorf("Retrieve() with wrong key status = %v, want failure", status)
	}
}

func TestEncryptedRecordBoundToIdentity(t *testing.T) {
	backing := newMemoryStore()
	store, err := NewEncryptedStore(backing, testKey(t, 0x44))
	if err != nil {
		t.Fatalf("NewEncryptedStore() error: %v", err)
	}
	if _, err := store.Persist(context.Background(), "app", "d", "original", []byte("payload")); err != nil {
		t.Fatalf("Persist() error: %v", err)
	}

	// Simulate a backend that serves the ciphertext under a different
	// record id. The AEAD binding must reject it.
	backing.records["app/d/moved"] = backing.records["app/d/original"]

	status, _, err := store.Retrieve(context.Background(), "app", "d", "moved")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if status != StatusFailure {
		t.Errorf("Retrieve() of relocated ciphertext status = %v, want failure", status)
	}
}

func TestEncryptedNotFoundPassesThrough(t *testing.T) {
	store, err := NewEncryptedStore(newMemoryStore(), testKey(t, 0x55))
	if err != nil {
		t.Fatalf("NewEncryptedStore() error: %v", err)
	}
	status, data, err := store.Retrieve(context.Background(), "app", "d", "missing")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if status != StatusIDNotFound {
		t.Errorf("Retrieve() status = %v, want id-not-found", status)
	}
	if data != nil {
		t.Errorf("Retrieve() data = %v, want nil", data)
	}
}

func TestNewEncryptedStoreRejectsBadKeySize(t *testing.T) {
	short, err := secret.New(16)
	if err != nil {
		t.Fatalf("secret.New() error: %v", err)
	}
	defer short.Close()

	if _, err := NewEncryptedStore(newMemoryStore(), short); err == nil {
		t.Error("NewEncryptedStore() accepted 16-byte key")
	}
}
