// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/enclaved/catalog"
	"github.com/bureau-foundation/enclaved/persist"
	"github.com/bureau-foundation/enclaved/registry"
	"github.com/bureau-foundation/enclaved/secrets"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		manifestPath       string
		listenAddr         string
		controlPort        uint
		persistenceAddr    string
		persistenceNetwork string
		logSocketPath      string
		platformSecretPath string
		identityPath       string
		devSecrets         bool
	)

	flag.StringVar(&manifestPath, "manifest", "", "path to the application catalog (required)")
	flag.StringVar(&listenAddr, "listen", "0.0.0.0:5552", "address to listen on for broker and application connections")
	flag.UintVar(&controlPort, "control-port", 0, "source port broker control connections arrive from (defaults to the listen port, or the bound port plus one when listening on an ephemeral port)")
	flag.StringVar(&persistenceAddr, "persistence", "", "address of the persistence service; connected eagerly when set, otherwise the link is established on first storage use")
	flag.StringVar(&persistenceNetwork, "persistence-network", "tcp", "network of the persistence service address (tcp or unix)")
	flag.StringVar(&logSocketPath, "log-socket", "/run/enclaved/log", "path of the datagram socket receiving diagnostic log records")
	flag.StringVar(&platformSecretPath, "platform-secret", "", "path to the sealed platform secret")
	flag.StringVar(&identityPath, "identity", "", "path to the identity key that unseals the platform secret")
	flag.BoolVar(&devSecrets, "dev-secrets", false, "derive storage keys from a fixed development secret instead of a sealed platform secret")
	flag.Parse()

	if manifestPath == "" {
		return fmt.Errorf("--manifest is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	detachSession(logger)

	applications, err := catalog.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("loading application catalog: %w", err)
	}

	var manager *secrets.Manager
	switch {
	case devSecrets:
		manager, err = secrets.NewDevelopment()
		if err != nil {
			return fmt.Errorf("building development secrets: %w", err)
		}
	case platformSecretPath != "" && identityPath != "":
		manager, err = secrets.LoadSealed(platformSecretPath, identityPath)
		if err != nil {
			return fmt.Errorf("loading platform secret: %w", err)
		}
	default:
		return fmt.Errorf("either --dev-secrets or both --platform-secret and --identity are required")
	}
	defer manager.Close()

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}
	defer listener.Close()

	expectedPort, err := resolveControlPort(listenAddr, listener.Addr(), controlPort)
	if err != nil {
		return err
	}

	var dialLink registry.LinkDialer
	if persistenceAddr != "" {
		dialLink = registry.DialPersistence(persistenceNetwork, persistenceAddr)
	}

	reg := registry.New(registry.Config{
		Catalog:     applications,
		Secrets:     manager,
		DialLink:    dialLink,
		ControlPort: expectedPort,
	})
	defer reg.Close()

	if persistenceAddr != "" {
		client, err := persist.Dial(persistenceNetwork, persistenceAddr)
		if err != nil {
			return fmt.Errorf("connecting to persistence service: %w", err)
		}
		reg.SetLink(registry.WrapClient(client))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := startLogReceiver(ctx, logSocketPath, reg, logger); err != nil {
		return fmt.Errorf("starting diagnostic log receiver: %w", err)
	}

	if err := becomeSubreaper(); err != nil {
		logger.Warn("not a child subreaper; re-parented sandbox children will not be collected", "error", err)
	}
	go reapLoop(ctx, reg, logger)

	logger.Info("listening",
		"addr", listener.Addr().String(),
		"control_port", expectedPort,
		"applications", applications.Len())
	return serve(ctx, listener, reg, logger)
}

// resolveControlPort decides the port broker control connections must
// arrive from. An explicit --control-port wins; otherwise it is the
// listen port, or the bound port plus one when the listener bound an
// ephemeral port.
func resolveControlPort(listenAddr string, boundAddr net.Addr, flagPort uint) (uint32, error) {
	if flagPort != 0 {
		return uint32(flagPort), nil
	}
	_, portText, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return 0, fmt.Errorf("parsing listen address: %w", err)
	}
	requested, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parsing listen port: %w", err)
	}
	if requested != 0 {
		return uint32(requested), nil
	}
	bound, ok := boundAddr.(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address type %T", boundAddr)
	}
	return uint32(bound.Port) + 1, nil
}

// detachSession puts the process in its own session so it does not
// share a controlling terminal with whatever started it. Skipped when
// the process already leads its session.
func detachSession(logger *slog.Logger) {
	sid, err := unix.Getsid(0)
	if err == nil && sid == os.Getpid() {
		return
	}
	if _, err := unix.Setsid(); err != nil {
		logger.Warn("could not detach into a new session", "error", err)
	}
}
