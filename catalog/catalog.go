// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog holds the static manifest of trusted applications
// the manager is willing to launch: for each application identifier,
// the sandbox kind, the executable path, and optional storage
// parameters. The manifest is loaded once at startup from a YAML file
// and is read-only afterwards.
package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnknownApplication is returned by Lookup for identifiers not in
// the manifest. A reservation for an unknown identifier is accepted by
// the control protocol and fails here, at spawn time.
var ErrUnknownApplication = errors.New("unknown application")

// SandboxKind selects the isolation strategy for a launched
// application.
type SandboxKind string

const (
	// KindPassthrough runs the executable with no additional
	// isolation. Development only.
	KindPassthrough SandboxKind = "passthrough"

	// KindContainer runs the executable inside fresh namespaces with
	// the configured resource limits.
	KindContainer SandboxKind = "container"

	// KindVirtualMachine is defined in the protocol but intentionally
	// unsupported; launching always fails.
	KindVirtualMachine SandboxKind = "virtual-machine"
)

// valid reports whether the kind is one of the defined values.
func (k SandboxKind) valid() bool {
	switch k {
	case KindPassthrough, KindContainer, KindVirtualMachine:
		return true
	}
	return false
}

// StorageParameters entitles an application to the storage proxy.
// Absence (nil) means the application cannot use storage at all.
type StorageParameters struct {
	// Scope and Domain qualify every record the application persists;
	// they are fixed per application, never chosen by the application
	// at request time.
	Scope  string `yaml:"scope"`
	Domain string `yaml:"domain"`

	// EncryptionKeyVersion, when set, selects the generation of the
	// derived per-application key that wraps each record before it
	// leaves the manager. When nil, records travel to the persistence
	// service as the application wrote them.
	EncryptionKeyVersion *uint64 `yaml:"encryption_key_version,omitempty"`
}

// Descriptor is one manifest entry. Immutable after load; the launcher
// copies it into the running application's record.
type Descriptor struct {
	ID      string             `yaml:"id"`
	Sandbox SandboxKind        `yaml:"sandbox"`
	Path    string             `yaml:"path"`
	Storage *StorageParameters `yaml:"storage,omitempty"`
}

// Catalog is the loaded application manifest.
type Catalog struct {
	entries map[string]Descriptor
}

// manifest is the YAML file shape.
type manifest struct {
	Applications []Descriptor `yaml:"applications"`
}

// Load reads and validates the manifest file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading application manifest: %w", err)
	}
	return Parse(data)
}

// Parse validates manifest bytes. Exposed for tests and for callers
// that embed a manifest.
func Parse(data []byte) (*Catalog, error) {
	var parsed manifest
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing application manifest: %w", err)
	}
	return New(parsed.Applications...)
}

// New builds a catalog from descriptors directly, applying the same
// validation as Parse. Used by tests and by embedded deployments that
// compile their manifest in.
func New(descriptors ...Descriptor) (*Catalog, error) {
	entries := make(map[string]Descriptor, len(descriptors))
	for _, entry := range descriptors {
		if entry.ID == "" {
			return nil, fmt.Errorf("manifest entry with empty id")
		}
		if _, exists := entries[entry.ID]; exists {
			return nil, fmt.Errorf("duplicate manifest entry %q", entry.ID)
		}
		if !entry.Sandbox.valid() {
			return nil, fmt.Errorf("manifest entry %q: unknown sandbox kind %q", entry.ID, entry.Sandbox)
		}
		if entry.Path == "" {
			return nil, fmt.Errorf("manifest entry %q: empty executable path", entry.ID)
		}
		if entry.Storage != nil {
			if entry.Storage.Scope == "" || entry.Storage.Domain == "" {
				return nil, fmt.Errorf("manifest entry %q: storage parameters need scope and domain", entry.ID)
			}
		}
		entries[entry.ID] = entry
	}
	return &Catalog{entries: entries}, nil
}

// Lookup returns the descriptor for id, or ErrUnknownApplication.
func (c *Catalog) Lookup(id string) (Descriptor, error) {
	entry, exists := c.entries[id]
	if !exists {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownApplication, id)
	}
	return entry, nil
}

// Len returns the number of manifest entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}
