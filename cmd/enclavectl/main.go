// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Enclavectl drives the manager's control protocol from the broker
// side: reserving an application session and draining buffered
// diagnostic logs. The manager authenticates control traffic by
// source port, so the client binds its end of the connection to the
// expected control port before dialing.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/enclaved/control"
	"github.com/bureau-foundation/enclaved/lib/rpc"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "enclavectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("enclavectl", pflag.ContinueOnError)
	manager := flags.String("manager", "127.0.0.1:5552", "address of the enclaved manager")
	controlPort := flags.Uint16("control-port", 5552, "local port to bind; must match the manager's expected control port")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: enclavectl [flags] <command>\n\ncommands:\n  start-session <app-id> <port>   reserve an application session\n  get-logs                        drain buffered diagnostic logs\n\nflags:\n%s", flags.FlagUsages())
	}
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 1 {
		flags.Usage()
		return fmt.Errorf("a command is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := dialControl(*manager, int(*controlPort))
	if err != nil {
		return err
	}
	defer client.Close()

	switch command := flags.Arg(0); command {
	case "start-session":
		if flags.NArg() != 3 {
			return fmt.Errorf("usage: enclavectl start-session <app-id> <port>")
		}
		port, err := strconv.ParseUint(flags.Arg(2), 10, 16)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", flags.Arg(2), err)
		}
		if err := client.StartSession(ctx, flags.Arg(1), uint32(port)); err != nil {
			return fmt.Errorf("reserving session: %w", err)
		}
		fmt.Printf("reserved %s on port %d\n", flags.Arg(1), port)
		return nil

	case "get-logs":
		records, err := client.GetLogs(ctx)
		if err != nil {
			return fmt.Errorf("draining logs: %w", err)
		}
		for _, record := range records {
			os.Stdout.Write(record)
			if len(record) == 0 || record[len(record)-1] != '\n' {
				fmt.Println()
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// dialControl connects to the manager from the given local port.
func dialControl(managerAddr string, localPort int) (*control.Client, error) {
	remote, err := net.ResolveTCPAddr("tcp", managerAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving manager address: %w", err)
	}
	local := &net.TCPAddr{Port: localPort}
	conn, err := net.DialTCP("tcp", local, remote)
	if err != nil {
		return nil, fmt.Errorf("connecting to manager: %w", err)
	}
	return control.NewClient(rpc.NewClient(conn)), nil
}
