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

// Package cli implements the passkey-server command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	// configFile is the path to the YAML configuration file.
	configFile string

	// verbose enables debug logging.
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "passkey-server",
	Short: "go-passkey - WebAuthn relying party server",
	Long: `go-passkey serves passkey (WebAuthn) registration and authentication
ceremonies over an HTTP/JSON API: challenge issuance, ephemeral ceremony
state, credential storage, and signature-counter clone detection.

The cryptographic verification of attestations and assertions is delegated
to the embedded verifier; this server owns the ceremony lifecycle.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is /etc/passkey/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
