// Command slack-matrix-bridge runs the Slack-to-Matrix relay service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/wiggin77/slack-matrix-bridge/bridge"
	"github.com/wiggin77/slack-matrix-bridge/store/kvstore"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "slack-matrix-bridge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	lgr, err := bridge.CreateLogger()
	if err != nil {
		return errors.Wrap(err, "failed to create logger")
	}
	logger := bridge.NewLogrLogger(lgr)

	config, err := bridge.LoadConfiguration(configPath)
	if err != nil {
		return err
	}

	kv, err := openKVStore(config, logger)
	if err != nil {
		return err
	}

	b := bridge.New(config, kv, logger)

	if err := b.TestConnection(); err != nil {
		// Don't refuse to start; the homeserver may simply not be up yet.
		logger.LogWarn("Matrix connection test failed", "error", err)
	}

	server := &http.Server{
		Addr:              config.ListenAddress,
		Handler:           b.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.LogInfo("Starting bridge", "listen_address", config.ListenAddress, "matrix_server", config.MatrixServerURL)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "HTTP server failed")
	}
	return nil
}

func openKVStore(config *bridge.Configuration, logger bridge.Logger) (kvstore.KVStore, error) {
	if config.PostgresDSN == "" {
		logger.LogWarn("No Postgres DSN configured, using in-memory store; bridge state will not survive restarts")
		return kvstore.NewMemoryKVStore(), nil
	}

	store, err := kvstore.NewPostgresKVStore(context.Background(), config.PostgresDSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open Postgres store")
	}
	return store, nil
}
