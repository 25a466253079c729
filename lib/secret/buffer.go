// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material in memory the rest of the process
// cannot leak by accident: the platform secret, derived storage keys,
// and the manager's sealing identity all live in Buffers.
package secret

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is an off-heap region for sensitive bytes. The region is an
// anonymous mapping, so the garbage collector never moves or
// duplicates it; it is mlocked so it cannot reach swap, and marked
// MADV_DONTDUMP so it never appears in a core dump. Close zeroes the
// region before returning it to the kernel.
//
// Access after Close panics rather than returning stale memory.
type Buffer struct {
	mu     sync.Mutex
	region []byte
	closed bool
}

// New allocates a protected buffer of the given size. The caller owns
// the buffer and must Close it once the secret is dead.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: invalid buffer size %d", size)
	}

	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	if err := protect(region); err != nil {
		unix.Munmap(region)
		return nil, err
	}
	return &Buffer{region: region}, nil
}

// protect pins the region in RAM and excludes it from core dumps.
func protect(region []byte) error {
	if err := unix.Mlock(region); err != nil {
		return fmt.Errorf("secret: mlock: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		return fmt.Errorf("secret: madvise: %w", err)
	}
	return nil
}

// NewFromBytes moves source into a protected buffer. The source slice
// is zeroed once copied; after the call only the buffer holds the
// secret.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: empty source")
	}
	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.region, source)
	Zero(source)
	return buffer, nil
}

// Bytes returns the protected region itself, not a copy. Callers must
// not retain the slice past the buffer's lifetime. Panics after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.region
}

// Len returns the buffer size.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.region)
}

// Close zeroes the region and unmaps it. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	Zero(b.region)
	err := unix.Munlock(b.region)
	if unmapErr := unix.Munmap(b.region); err == nil {
		err = unmapErr
	}
	b.region = nil
	if err != nil {
		return fmt.Errorf("secret: releasing buffer: %w", err)
	}
	return nil
}

// Zero overwrites data in place. Use on every transient copy of key
// material the moment it is no longer needed.
func Zero(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
