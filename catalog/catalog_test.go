// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
applications:
  - id: shadercached
    sandbox: container
    path: /usr/bin/shadercached
    storage:
      scope: app
      domain: shader
      encryption_key_version: 1
  - id: demo
    sandbox: passthrough
    path: /usr/local/bin/demo
  - id: guestvm
    sandbox: virtual-machine
    path: /usr/bin/guestvm
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cat.Len() != 3 {
		t.Errorf("Len() = %d, want 3", cat.Len())
	}

	entry, err := cat.Lookup("shadercached")
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if entry.Sandbox != KindContainer {
		t.Errorf("Sandbox = %q, want %q", entry.Sandbox, KindContainer)
	}
	if entry.Storage == nil {
		t.Fatal("Storage is nil, want parameters")
	}
	if entry.Storage.Scope != "app" || entry.Storage.Domain != "shader" {
		t.Errorf("Storage = %+v, want scope=app domain=shader", entry.Storage)
	}
	if entry.Storage.EncryptionKeyVersion == nil || *entry.Storage.EncryptionKeyVersion != 1 {
		t.Errorf("EncryptionKeyVersion = %v, want 1", entry.Storage.EncryptionKeyVersion)
	}
}

func TestLookupUnknown(t *testing.T) {
	cat, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	_, err = cat.Lookup("no-such-app")
	if !errors.Is(err, ErrUnknownApplication) {
		t.Errorf("Lookup() error = %v, want ErrUnknownApplication", err)
	}
}

func TestStorageOptional(t *testing.T) {
	cat, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	entry, err := cat.Lookup("demo")
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if entry.Storage != nil {
		t.Errorf("Storage = %+v, want nil", entry.Storage)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
	}{
		{"unknownKind", "applications:\n  - id: a\n    sandbox: chroot\n    path: /bin/a\n"},
		{"emptyID", "applications:\n  - id: \"\"\n    sandbox: container\n    path: /bin/a\n"},
		{"emptyPath", "applications:\n  - id: a\n    sandbox: container\n    path: \"\"\n"},
		{"duplicate", "applications:\n  - id: a\n    sandbox: container\n    path: /bin/a\n  - id: a\n    sandbox: passthrough\n    path: /bin/b\n"},
		{"partialStorage", "applications:\n  - id: a\n    sandbox: container\n    path: /bin/a\n    storage:\n      scope: app\n"},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := Parse([]byte(testCase.manifest)); err == nil {
				t.Errorf("Parse() accepted invalid manifest")
			}
		})
	}
}

func TestNewValidatesDescriptors(t *testing.T) {
	valid := Descriptor{ID: "a", Sandbox: KindContainer, Path: "/bin/a"}

	cat, err := New(valid)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if cat.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cat.Len())
	}

	if _, err := New(valid, Descriptor{ID: "a", Sandbox: KindPassthrough, Path: "/bin/b"}); err == nil {
		t.Error("New() accepted a duplicate id")
	}
	if _, err := New(Descriptor{ID: "b", Sandbox: "chroot", Path: "/bin/b"}); err == nil {
		t.Error("New() accepted an unknown sandbox kind")
	}
	if _, err := New(Descriptor{ID: "c", Sandbox: KindContainer, Path: "/bin/c", Storage: &StorageParameters{Scope: "app"}}); err == nil {
		t.Error("New() accepted partial storage parameters")
	}
}
