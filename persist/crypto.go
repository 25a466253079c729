// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bureau-foundation/enclaved/lib/secret"
)

// EncryptedStore wraps a Store so that record payloads are compressed
// and sealed before they reach it. The key is borrowed for the
// lifetime of a single request: the storage proxy derives it, builds
// the adapter, performs one operation, and closes the key. Nothing
// here caches key material.
//
// The AEAD additional data binds the ciphertext to (scope, domain,
// id), so a record moved to a different key by a corrupted or
// malicious persistence backend fails to open rather than decrypting
// under the wrong identity.
type EncryptedStore struct {
	inner Store
	key   *secret.Buffer
}

// NewEncryptedStore wraps inner with the given derived key. The key
// must be StorageKeySize-compatible (chacha20poly1305.KeySize bytes);
// it is borrowed, not closed.
func NewEncryptedStore(inner Store, key *secret.Buffer) (*EncryptedStore, error) {
	if key.Len() != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("derived key is %d bytes, want %d", key.Len(), chacha20poly1305.KeySize)
	}
	return &EncryptedStore{inner: inner, key: key}, nil
}

// zstd encoder/decoder without an attached stream, used in EncodeAll/
// DecodeAll mode. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic("persist: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("persist: zstd decoder initialization failed: " + err.Error())
	}
}

// additionalData returns the AEAD binding for a record.
func additionalData(scope, domain, id string) []byte {
	return []byte(scope + "\x00" + domain + "\x00" + id)
}

// seal compresses and encrypts plaintext. Output layout: 24-byte
// XChaCha20 nonce followed by the ciphertext.
func (s *EncryptedStore) seal(plaintext []byte, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("building AEAD: %w", err)
	}

	compressed := zstdEncoder.EncodeAll(plaintext, nil)

	sealed := make([]byte, aead.NonceSize(), aead.NonceSize()+len(compressed)+aead.Overhead())
	if _, err := rand.Read(sealed[:aead.NonceSize()]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(sealed, sealed[:aead.NonceSize()], compressed, aad), nil
}

// open decrypts and decompresses a sealed record.
func (s *EncryptedStore) open(sealed []byte, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("building AEAD: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed record shorter than nonce")
	}

	compressed, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], aad)
	if err != nil {
		return nil, fmt.Errorf("opening sealed record: %w", err)
	}

	plaintext, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing record: %w", err)
	}
	return plaintext, nil
}

// Retrieve implements Store: fetch ciphertext, open, decompress. A
// record that cannot be opened is reported as a failure Status, not a
// transport error: the link is healthy, the record is not.
func (s *EncryptedStore) Retrieve(ctx context.Context, scope, domain, id string) (Status, []byte, error) {
	status, data, err := s.inner.Retrieve(ctx, scope, domain, id)
	if err != nil || status != StatusSuccess {
		return status, nil, err
	}

	plaintext, err := s.open(data, additionalData(scope, domain, id))
	if err != nil {
		return StatusFailure, nil, nil
	}
	return StatusSuccess, plaintext, nil
}

// Persist implements Store: compress, seal, store ciphertext.
func (s *EncryptedStore) Persist(ctx context.Context, scope, domain, id string, data []byte) (Status, error) {
	sealed, err := s.seal(data, additionalData(scope, domain, id))
	if err != nil {
		return StatusFailure, fmt.Errorf("sealing record: %w", err)
	}
	return s.inner.Persist(ctx, scope, domain, id, sealed)
}
