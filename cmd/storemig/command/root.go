// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package command provides the root and sub-commands for the storemig
// program. Commands are organized using the cobra library.
// The "db" sub-command groups the actions which connect to the
// configured database, while the "chain" sub-command only works on the
// schema chain file.
//
//	./storemig db migrate [-c /path/of/config.yaml]
//	./storemig db status [-c /path/of/config.yaml]
//	./storemig db plan [--from N] [-c /path/of/config.yaml]
//	./storemig chain check [-c /path/of/config.yaml]
package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/goccy/go-json"
	"github.com/momeni/storemig/pkg/adapter/config"
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "storemig",
	Short: "Versioned schema migrations for object stores",
	Long: `Versioned schema migrations for object stores.
A schema chain file describes the object stores of a database and how
they change from one schema version to the next one. Each version may
remove columns (or whole stores, by removing their primary keys) and
add columns (or whole stores, with their primary keys).
The database records its schema version in a version marker, so the
outstanding migrations can be computed and applied in one exclusive
version-scope. PostgreSQL and SQLite (through GORM), bbolt files, and
MongoDB databases are supported as backends.`,
	SilenceUsage: true,
}

// Execute runs the rootCmd which in turn parses CLI arguments and
// flags and runs the most specific cobra command. The exit code is
// zero for success and one for failures.
// The command context is cancelled by an interrupt signal.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(fixConfigPath)
	rootCmd.PersistentFlags().StringVarP(
		&cfgPath, "config", "c", "", "config file path",
	)
}

// fixConfigPath ensures that cfgPath is set respectively by either the
// CLI args, the CONFIG_FILE environment variable, or its default value.
func fixConfigPath() {
	if cfgPath != "" {
		return
	}
	var found bool
	if cfgPath, found = os.LookupEnv("CONFIG_FILE"); !found {
		cfgPath = "configs/storemig.yaml"
	}
}

// loadConfig loads the cfgPath configuration file and installs its
// logger, writing to the stderr of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config.Load(%q): %w", cfgPath, err)
	}
	if err = c.SetupLogger(cmd.ErrOrStderr()); err != nil {
		return nil, fmt.Errorf("setting up logger: %w", err)
	}
	return c, nil
}

// printJSON writes v to w as an indented JSON document.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
