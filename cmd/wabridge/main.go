// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command wabridge is a WhatsApp session bridge. It keeps one WhatsApp
// session paired and connected through a protocol gateway, relays session
// events and inbound messages to a backend over webhooks and serves a small
// HTTP control API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.mau.fi/util/exzerolog"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/wabridge/pkg/connector"
	"github.com/aiku/wabridge/pkg/credstore"
	"github.com/aiku/wabridge/pkg/relay"
	"github.com/aiku/wabridge/pkg/transport/wsgateway"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const name = "wabridge"

var configPath = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
var generateExample = flag.MakeFull("e", "generate-example-config", "Save the example config to the config path and quit.", "false").Bool()
var noUpdate = flag.MakeFull("n", "no-update", "Don't save updated config to disk.", "false").Bool()
var version = flag.MakeFull("v", "version", "View bridge version and quit.", "false").Bool()
var wantHelp, _ = flag.MakeHelpFlag()

func main() {
	flag.SetHelpTitles(
		fmt.Sprintf("%s - A WhatsApp session bridge", name),
		fmt.Sprintf("%s [-hnev] [-c <path>]", name),
	)
	if err := flag.Parse(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *version {
		fmt.Printf("%s %s (commit %s, built at %s)\n", name, Tag, Commit, BuildTime)
		os.Exit(0)
	} else if *generateExample {
		if err := writeExampleConfig(*configPath); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		_, _ = fmt.Fprintln(os.Stderr, "Wrote example config to", *configPath)
		os.Exit(0)
	}

	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func writeExampleConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return connector.WriteExampleConfig(path)
}

func run() error {
	cfg, err := connector.LoadConfig(*configPath, !*noUpdate)
	if err != nil {
		return err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Initializing bridge")

	store, err := credstore.New(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to set up credential store: %w", err)
	}
	gateway := wsgateway.New(cfg.Gateway, *log)
	rl := relay.New(cfg.Webhook, *log)
	rl.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wc := connector.New(cfg, gateway, store, rl, *log)
	if err := wc.Start(ctx); err != nil {
		rl.Stop()
		return fmt.Errorf("failed to start connector: %w", err)
	}
	log.Info().Msg("Bridge started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	wc.Stop()
	<-wc.Done()
	rl.Stop()
	<-rl.Done()
	log.Info().Msg("Shutdown complete")
	return nil
}
