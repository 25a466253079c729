// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secrets derives per-application cryptographic material from
// the platform secret. The platform secret is provisioned at rest as
// an age-sealed file; the manager unseals it once at startup and keeps
// it in mlocked memory for the life of the process.
//
// Derived keys are versioned: StorageParameters carry an encryption
// key version, and each version yields an independent key, so a
// compromised key generation can be rotated without re-keying every
// application at once.
package secrets

import (
	"bytes"
	"fmt"
	"os"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/enclaved/lib/sealed"
	"github.com/bureau-foundation/enclaved/lib/secret"
)

// StorageKeySize is the size of a derived storage key in bytes.
// Matches the chacha20poly1305 key size used by the storage proxy's
// encrypting adapter.
const StorageKeySize = 32

// MaxKeyVersion bounds the encryption key version accepted from
// storage parameters. Versions are small rotation counters, not
// arbitrary numbers; a huge version in a manifest is a typo.
const MaxKeyVersion = 1024

// Manager owns the platform secret and derives application keys from
// it. All methods are safe for use from concurrent sessions: the
// platform secret is read-only after construction.
type Manager struct {
	platform *secret.Buffer
}

// New wraps an already-unsealed platform secret. Takes ownership of
// the buffer.
func New(platform *secret.Buffer) *Manager {
	return &Manager{platform: platform}
}

// LoadSealed unseals the platform secret file with the identity whose
// private key is stored at identityPath, and returns a manager holding
// the plaintext secret in mlocked memory.
func LoadSealed(secretPath, identityPath string) (*Manager, error) {
	keyData, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading sealing identity: %w", err)
	}
	privateKey, err := secret.NewFromBytes(bytes.TrimSpace(keyData))
	// Whatever surrounding whitespace TrimSpace left behind still
	// holds no key bytes, but zero the whole read regardless.
	secret.Zero(keyData)
	if err != nil {
		return nil, fmt.Errorf("protecting sealing identity: %w", err)
	}
	defer privateKey.Close()

	if err := sealed.ParsePrivateKey(privateKey); err != nil {
		return nil, err
	}

	ciphertext, err := os.ReadFile(secretPath)
	if err != nil {
		return nil, fmt.Errorf("reading platform secret: %w", err)
	}

	platform, err := sealed.Unseal(ciphertext, privateKey)
	if err != nil {
		return nil, fmt.Errorf("unsealing platform secret: %w", err)
	}
	return New(platform), nil
}

// NewDevelopment returns a manager seeded with a fixed development
// secret. Keys derived from it protect nothing; it exists so the
// manager can run on a workstation without provisioned secrets.
func NewDevelopment() (*Manager, error) {
	seed := bytes.Repeat([]byte{0x4d}, 64)
	platform, err := secret.NewFromBytes(seed)
	if err != nil {
		return nil, fmt.Errorf("allocating development secret: %w", err)
	}
	return New(platform), nil
}

// StorageKey derives the storage key for the given application and key
// version. The returned buffer is mlocked; the caller must Close it as
// soon as the request that needed it completes; derived keys are
// per-request, never cached.
func (m *Manager) StorageKey(appID string, version uint64) (*secret.Buffer, error) {
	if appID == "" {
		return nil, fmt.Errorf("empty application id")
	}
	if version > MaxKeyVersion {
		return nil, fmt.Errorf("key version %d exceeds maximum %d", version, MaxKeyVersion)
	}

	key, err := secret.New(StorageKeySize)
	if err != nil {
		return nil, fmt.Errorf("allocating derived key: %w", err)
	}

	context := fmt.Sprintf("enclaved 2026-01-09 storage key v%d for %s", version, appID)
	blake3.DeriveKey(context, m.platform.Bytes(), key.Bytes())
	return key, nil
}

// Close releases the platform secret.
func (m *Manager) Close() error {
	return m.platform.Close()
}
