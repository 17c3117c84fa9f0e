// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/internal/server"
	"github.com/jeremyhahn/go-passkey/pkg/logging"
)

const defaultConfigPath = "/etc/passkey/config.yaml"

// serveCmd starts the passkey server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the passkey server",
	Long: `Start the HTTP server and serve passkey registration and
authentication ceremonies until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		debug := verbose || strings.EqualFold(cfg.Logging.Level, "debug")
		logger := logging.NewLogger(debug)

		srv, err := server.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		// Run the listener; surface startup failures alongside signals
		errChan := make(chan error, 1)
		go func() {
			errChan <- srv.Start()
		}()

		shutdownCtx, stop := signal.NotifyContext(context.Background(),
			syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		select {
		case <-shutdownCtx.Done():
			logger.Info("shutdown signal received")
		case err := <-errChan:
			if err != nil {
				return err
			}
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Stop(ctx)
	},
}

// loadConfig reads the configuration file, falling back to defaults plus
// environment overrides when no file is present.
func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		if envConfig := os.Getenv("PASSKEY_CONFIG"); envConfig != "" {
			path = envConfig
		} else {
			path = defaultConfigPath
		}
	}

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}

	// A missing default config is not an error; explicit paths must exist
	if configFile == "" && errors.Is(err, os.ErrNotExist) {
		return config.Default()
	}
	return nil, err
}
