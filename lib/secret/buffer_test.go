// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestNewAndClose(t *testing.T) {
	buffer, err := New(32)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if buffer.Len() != 32 {
		t.Errorf("Len() = %d, want 32", buffer.Len())
	}

	copy(buffer.Bytes(), []byte("platform secret material here!!!"))
	if !bytes.Equal(buffer.Bytes()[:8], []byte("platform")) {
		t.Error("buffer contents do not round-trip")
	}

	if err := buffer.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	// Idempotent.
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestBytesAfterClosePanics(t *testing.T) {
	buffer, err := New(16)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Error("Bytes() after Close did not panic")
		}
	}()
	buffer.Bytes()
}

func TestNewFromBytesZerosSource(t *testing.T) {
	source := []byte("derive me")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes() error: %v", err)
	}
	defer buffer.Close()

	if string(buffer.Bytes()) != "derive me" {
		t.Errorf("buffer contents = %q, want %q", buffer.Bytes(), "derive me")
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source[%d] = %d, want 0 (source must be zeroed)", index, value)
		}
	}
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("New(0) succeeded, want error")
	}
	if _, err := New(-4); err == nil {
		t.Error("New(-4) succeeded, want error")
	}
}

func TestZero(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	Zero(data)
	if !bytes.Equal(data, []byte{0, 0, 0, 0}) {
		t.Errorf("Zero() left %v", data)
	}
}
