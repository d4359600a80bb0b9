// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wormholed/wormhole/internal/config"
	"github.com/wormholed/wormhole/internal/daemon"
	"github.com/wormholed/wormhole/internal/session"
)

var version = "0.1"

func main() {
	var (
		configPath  string
		host        string
		port        int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "Public listener host (overrides config)")
	flag.IntVar(&port, "port", 0, "Public listener port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("wormholed %s\n", version)
		os.Exit(0)
	}

	loader := config.NewLoader()
	if configPath == "" {
		if found, err := loader.FindConfig(); err == nil {
			configPath = found
		}
	}

	ctx := context.Background()
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		log.Printf("Using config: %s", configPath)
		cfg, err = loader.LoadWithDefaults(ctx, configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		log.Printf("No config file found, using defaults")
		cfg = config.Default()
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	daemon.Version = version
	d := daemon.New(*cfg, func() session.Agent { return session.NewClaudeAgent() })

	if err := d.Boot(ctx); err != nil {
		log.Fatalf("Failed to start daemon: %v", err)
	}
	log.Printf("wormholed listening on %s:%d, control socket at %s", cfg.Server.Host, cfg.Server.Port, cfg.ControlSocket.Path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %v, shutting down...", sig)

	d.Shutdown()
}
