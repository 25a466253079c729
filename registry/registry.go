// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the manager's single mutable record: pending
// reservations, running applications, buffered diagnostic log records,
// and the lazily-connected persistence link. One Registry exists per
// process, created at startup and alive until exit.
//
// Handlers hold a *Registry and never copy its state; the internal
// mutex makes each operation atomic with respect to every session
// goroutine.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/enclaved/catalog"
	"github.com/bureau-foundation/enclaved/persist"
	"github.com/bureau-foundation/enclaved/sandbox"
	"github.com/bureau-foundation/enclaved/secrets"
)

// Link is the shared persistence connection. Implementations must
// serialize their round trips internally: every running application's
// storage traffic flows through the one current link.
type Link interface {
	persist.Store
	Close() error
}

// LinkDialer establishes a fresh persistence link. Called lazily on
// first use and again after invalidation.
type LinkDialer func(ctx context.Context) (Link, error)

// Config assembles a Registry.
type Config struct {
	// Catalog is the static application manifest.
	Catalog *catalog.Catalog

	// Secrets derives per-application storage keys.
	Secrets *secrets.Manager

	// DialLink connects to the persistence service.
	DialLink LinkDialer

	// ControlPort is the port the broker's control connection must
	// arrive from. May be adjusted once at startup when the listener
	// bound an ephemeral port.
	ControlPort uint32
}

// Registry is the process-wide mutable record.
type Registry struct {
	catalog *catalog.Catalog
	secrets *secrets.Manager

	mu          sync.Mutex
	pending     map[Endpoint]string
	running     map[Endpoint]*sandbox.App
	logs        [][]byte
	controlPort uint32

	// launching counts spawn attempts between BeginLaunch and their
	// AddRunning/AbortLaunch. While nonzero, reaped holds pids the
	// reap loop collected without finding a running entry, so a
	// registration racing the process's own exit can be declined
	// instead of inserting an entry nothing would ever remove.
	launching int
	reaped    map[int]struct{}

	// linkMu guards only the link pointer and dialing; round trips on
	// an established link are serialized inside the Link itself so a
	// slow persistence call does not block reservation bookkeeping.
	linkMu   sync.Mutex
	link     Link
	dialLink LinkDialer
}

// New creates the Registry.
func New(config Config) *Registry {
	return &Registry{
		catalog:     config.Catalog,
		secrets:     config.Secrets,
		dialLink:    config.DialLink,
		controlPort: config.ControlPort,
		pending:     make(map[Endpoint]string),
		running:     make(map[Endpoint]*sandbox.App),
		reaped:      make(map[int]struct{}),
	}
}

// Catalog returns the application manifest.
func (r *Registry) Catalog() *catalog.Catalog {
	return r.catalog
}

// Secrets returns the secret manager.
func (r *Registry) Secrets() *secrets.Manager {
	return r.secrets
}

// Reserve associates a future connection's endpoint with an
// application identifier. A second reservation for the same endpoint
// replaces the first; an endpoint appears in the pending set at most
// once.
func (r *Registry) Reserve(endpoint Endpoint, appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[endpoint] = appID
}

// TakeReservation consumes the reservation for endpoint, if any. Each
// reservation is consumed exactly once: the entry is removed before
// the caller learns the application identifier, so a failed launch
// does not leave the reservation behind.
func (r *Registry) TakeReservation(endpoint Endpoint) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appID, exists := r.pending[endpoint]
	if exists {
		delete(r.pending, endpoint)
	}
	return appID, exists
}

// PendingCount returns the number of outstanding reservations.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// BeginLaunch marks a spawn attempt in flight. Every BeginLaunch must
// be balanced by AddRunning or AbortLaunch.
func (r *Registry) BeginLaunch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launching++
}

// AbortLaunch ends a spawn attempt that produced no running process.
func (r *Registry) AbortLaunch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLaunchLocked()
}

func (r *Registry) endLaunchLocked() {
	if r.launching > 0 {
		r.launching--
	}
	// Unmatched exits are only interesting while a registration may
	// still be racing them.
	if r.launching == 0 && len(r.reaped) > 0 {
		clear(r.reaped)
	}
}

// AddRunning records a successfully launched application under the
// endpoint its connection arrived from, ending the spawn attempt begun
// with BeginLaunch. It reports false when the reap loop has already
// collected the process's exit; the entry is not inserted and the
// caller owns releasing the process handle.
func (r *Registry) AddRunning(endpoint Endpoint, app *sandbox.App) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.endLaunchLocked()
	if _, exited := r.reaped[app.PID()]; exited {
		delete(r.reaped, app.PID())
		return false
	}
	r.running[endpoint] = app
	return true
}

// DropRunningByPID removes and returns the running entry whose process
// id matches. The reap loop calls this when it collects an exited
// application, so the running set tracks live processes rather than
// growing for the life of the manager.
//
// When no entry matches while a spawn attempt is in flight, the pid is
// remembered so the racing AddRunning declines the insertion: a
// process can exit and be collected between its launch and its
// registration.
func (r *Registry) DropRunningByPID(pid int) (*sandbox.App, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for endpoint, app := range r.running {
		if app.PID() == pid {
			delete(r.running, endpoint)
			return app, true
		}
	}
	if r.launching > 0 {
		r.reaped[pid] = struct{}{}
	}
	return nil, false
}

// RunningApps returns a snapshot of the running applications.
func (r *Registry) RunningApps() []*sandbox.App {
	r.mu.Lock()
	defer r.mu.Unlock()
	apps := make([]*sandbox.App, 0, len(r.running))
	for _, app := range r.running {
		apps = append(apps, app)
	}
	return apps
}

// AppendLog buffers one diagnostic log record.
func (r *Registry) AppendLog(record []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, record)
}

// DrainLogs atomically swaps the log buffer for an empty one and
// returns the previous contents in arrival order. Every record is
// returned by exactly one drain.
func (r *Registry) DrainLogs() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := r.logs
	r.logs = nil
	return drained
}

// ControlPort returns the port a broker control connection must use.
func (r *Registry) ControlPort() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controlPort
}

// SetControlPort adjusts the expected control port. Done once, at
// startup, when the listener bound an ephemeral port.
func (r *Registry) SetControlPort(port uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controlPort = port
}

// CurrentLink returns the persistence link if one is established.
func (r *Registry) CurrentLink() (Link, bool) {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()
	return r.link, r.link != nil
}

// EnsureLink returns the persistence link, establishing it first if
// absent. On dial failure the link remains absent and the error
// surfaces to the caller.
func (r *Registry) EnsureLink(ctx context.Context) (Link, error) {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()
	if r.link != nil {
		return r.link, nil
	}
	if r.dialLink == nil {
		return nil, fmt.Errorf("no persistence service configured")
	}
	link, err := r.dialLink(ctx)
	if err != nil {
		return nil, fmt.Errorf("establishing persistence link: %w", err)
	}
	r.link = link
	return link, nil
}

// SetLink installs an already-established link. Used by startup when a
// persistence address is given on the command line and connected
// eagerly.
func (r *Registry) SetLink(link Link) {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()
	if r.link != nil {
		r.link.Close()
	}
	r.link = link
}

// InvalidateLink drops the given link so the next use re-establishes
// one. The failed link is only dropped if it is still current; a
// session racing against an already-replaced link must not tear down
// its successor.
func (r *Registry) InvalidateLink(failed Link) {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()
	if r.link != failed {
		return
	}
	r.link.Close()
	r.link = nil
}

// Close drops the persistence link if present.
func (r *Registry) Close() error {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()
	if r.link == nil {
		return nil
	}
	err := r.link.Close()
	r.link = nil
	return err
}
