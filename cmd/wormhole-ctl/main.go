// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// wormhole-ctl is a command-line tool for controlling a running wormhole
// daemon over its local control socket.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/wormholed/wormhole/internal/config"
	"github.com/wormholed/wormhole/pkg/client"
)

var (
	version      = "0.1"
	jsonOutput   = false
	apiClient    *client.Client
)

func main() {
	socketPath := os.Getenv("WORMHOLE_SOCKET")

	var filteredArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	if socketPath == "" {
		socketPath = config.DefaultControlSocketPath()
	}
	apiClient = client.New(socketPath)

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := filteredArgs[0]
	args := filteredArgs[1:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(args)
	case "open":
		err = cmdOpen(args)
	case "close":
		err = cmdClose(args)
	case "list":
		err = cmdList(args)
	case "query":
		err = cmdQuery(args)
	case "version", "-v", "--version":
		fmt.Printf("wormhole-ctl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`wormhole-ctl - Control a running wormhole daemon

Usage:
  wormhole-ctl [-json] <command> [arguments]

Environment:
  WORMHOLE_SOCKET   Path to the daemon's control socket (default: per-user temp path)

Commands:
  open <name> <directory>   Open a new session rooted at directory
  close <name>               Close a session and delete its event log
  list                        List every session the daemon owns
  query <name> <text>        Send a query to a session's agent
  status                      Show daemon status
  version                     Show wormhole-ctl version`)
}

func cmdOpen(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: wormhole-ctl open <name> <directory>")
	}
	return apiClient.OpenSession(context.Background(), args[0], args[1], nil)
}

func cmdClose(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: wormhole-ctl close <name>")
	}
	return apiClient.CloseSession(context.Background(), args[0])
}

func cmdQuery(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: wormhole-ctl query <name> <text>")
	}
	return apiClient.QuerySession(context.Background(), args[0], strings.Join(args[1:], " "))
}

func cmdList(_ []string) error {
	sessions, err := apiClient.ListSessions(context.Background())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(sessions)
	}
	for _, s := range sessions {
		fmt.Printf("%-20s %-10s %-40s $%.4f\n", s.Name, s.State, s.Directory, s.Cost)
	}
	return nil
}

func cmdStatus(_ []string) error {
	status, err := apiClient.GetStatus(context.Background())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(status)
	}
	fmt.Printf("running: %v\nmachine: %s\nport: %d\nsessions: %d\nclients: %d\n",
		status.Running, status.MachineName, status.Port, status.SessionCount, status.ConnectedClients)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
