// Copyright (c) 2023-2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config is an adapter which accepts yaml formatted config
// files from its users and allows the storemig command to instantiate
// different components, from the adapter or use cases layers, using
// those loaded configuration settings.
// The parsed and validated configurations are passed to their ultimate
// components as a series of individual params (for the mandatory items)
// and a series of functional options (for the optional items), so they
// may be validated again in the relevant end-component (such as a
// UseCase instance or a backend).
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/momeni/storemig/pkg/adapter/chainfile"
	"github.com/momeni/storemig/pkg/adapter/config/settings"
	"github.com/momeni/storemig/pkg/adapter/db/bolt"
	"github.com/momeni/storemig/pkg/adapter/db/mongo"
	"github.com/momeni/storemig/pkg/adapter/db/relational"
	"github.com/momeni/storemig/pkg/adapter/metrics"
	"github.com/momeni/storemig/pkg/core/log"
	"github.com/momeni/storemig/pkg/core/model"
	"github.com/momeni/storemig/pkg/core/repo"
	"github.com/momeni/storemig/pkg/core/usecase/migrationuc"
	"gopkg.in/yaml.v3"
)

// These constants bound the acceptable lock timeout values.
const (
	MinLockTimeout = settings.Duration(10 * time.Millisecond)
	MaxLockTimeout = settings.Duration(10 * time.Minute)
)

// Config contains all settings which are required by the storemig
// command. It is implemented with primitive fields or structs which
// are defined locally, so the configuration file format is kept intact
// while other layers can change freely.
type Config struct {
	Backend Backend `yaml:"backend"`

	// Chain is the path of the schema chain file. A relative path is
	// resolved against the directory of the configuration file.
	Chain string `yaml:"chain" validate:"required"`

	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`

	dir string // directory of the loaded configuration file
}

// Backend contains the database connection settings. Kind selects the
// backend implementation and the other fields which are relevant.
type Backend struct {
	Kind string `yaml:"kind" validate:"required,oneof=postgres sqlite bolt mongo"`

	// DSN is the postgres connection string or sqlite file path.
	DSN string `yaml:"dsn,omitempty" validate:"required_if=Kind postgres,required_if=Kind sqlite"`

	// Path is the bbolt database file path.
	Path string `yaml:"path,omitempty" validate:"required_if=Kind bolt"`

	// URI and Database identify the mongodb deployment and database.
	URI      string `yaml:"uri,omitempty" validate:"required_if=Kind mongo,omitempty,uri"`
	Database string `yaml:"database,omitempty" validate:"required_if=Kind mongo"`

	// LockTimeout is the amount of time which the version-scope may be
	// waited for. The repo.LockTimeout is used when it is missing.
	LockTimeout *settings.Duration `yaml:"lock-timeout,omitempty"`
}

// Log contains the logging settings.
type Log struct {
	Level  string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
}

// Metrics contains the prometheus metrics settings.
type Metrics struct {
	// Namespace prefixes all metric names. It defaults to "storemig".
	Namespace string `yaml:"namespace,omitempty" validate:"omitempty,alphanum"`

	// Textfile is an optional path where the collected metrics are
	// written after each command, in the prometheus text format.
	Textfile string `yaml:"textfile,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, validates, and normalizes the path configuration file
// and returns its settings as an instance of the Config struct.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// Parse unmarshals the data byte slice as a Config instance. Unknown
// items are rejected and missing items take their default values.
// Thereafter, the parsed Config is validated and normalized.
func Parse(data []byte) (*Config, error) {
	n := &yaml.Node{}
	if err := yaml.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("unmarshalling yaml: %w", err)
	}
	if l := len(n.Content); l != 1 {
		return nil, fmt.Errorf(
			"found %d children nodes, instead of 1 mapping child", l,
		)
	}
	c := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}
	if err := c.ValidateAndNormalize(); err != nil {
		return nil, fmt.Errorf("validating configs: %w", err)
	}
	return c, nil
}

// ValidateAndNormalize validates the configuration settings and
// returns an error if they were not acceptable. It also replaces the
// missing settings with their default values.
func (c *Config) ValidateAndNormalize() error {
	if err := validate.Struct(c); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) {
			fields := make([]string, 0, len(ves))
			for _, fe := range ves {
				fields = append(fields, fmt.Sprintf(
					"%s (%s)", fe.Namespace(), fe.Tag(),
				))
			}
			return fmt.Errorf("invalid fields: %s", strings.Join(fields, ", "))
		}
		return err
	}
	settings.Default(&c.Backend.LockTimeout, settings.Duration(repo.LockTimeout))
	minb, maxb := MinLockTimeout, MaxLockTimeout
	if err := settings.VerifyRange(
		&c.Backend.LockTimeout, &minb, &maxb,
	); err != nil {
		return fmt.Errorf("lock-timeout [%v, %v]: %w", minb, maxb, err)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "storemig"
	}
	return nil
}

// resolve returns path relative to the configuration file directory.
func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// SetupLogger installs the configured slog handler which writes to w.
func (c *Config) SetupLogger(w io.Writer) error {
	return log.SetDefault(w, c.Log.Format, c.Log.Level)
}

// OpenBackend connects to the configured database backend.
func (c *Config) OpenBackend(ctx context.Context) (repo.Backend, error) {
	b := c.Backend
	lt := settings.Value(b.LockTimeout).Std()
	switch b.Kind {
	case "postgres", "sqlite":
		d, err := relational.ParseDialect(b.Kind)
		if err != nil {
			return nil, err
		}
		dsn := b.DSN
		if d == relational.SQLite {
			dsn = c.resolve(dsn)
		}
		return relational.Open(ctx, d, dsn, relational.WithLockTimeout(lt))
	case "bolt":
		return bolt.Open(c.resolve(b.Path), bolt.WithLockTimeout(lt))
	case "mongo":
		return mongo.Open(ctx, b.URI, b.Database, mongo.WithLockTimeout(lt))
	default:
		return nil, fmt.Errorf("unsupported backend kind: %q", b.Kind)
	}
}

// LoadChain loads the configured schema chain file and returns its
// head schema.
func (c *Config) LoadChain() (*model.Schema, error) {
	head, err := chainfile.Load(c.resolve(c.Chain))
	if err != nil {
		return nil, fmt.Errorf("loading schema chain: %w", err)
	}
	return head, nil
}

// NewMetrics creates a metrics collector with the configured namespace.
func (c *Config) NewMetrics() *metrics.Collector {
	return metrics.New(c.Metrics.Namespace)
}

// WriteMetrics writes the collected metrics of m into the configured
// text file. It does nothing if no text file is configured.
func (c *Config) WriteMetrics(m *metrics.Collector) error {
	if c.Metrics.Textfile == "" {
		return nil
	}
	return m.WriteToTextfile(c.resolve(c.Metrics.Textfile))
}

// NewMigrationUseCase instantiates a migration use case for migrating
// the b backend to the head schema, reporting to the m metrics
// collector (if not nil) and tagging its logs with runID.
func (c *Config) NewMigrationUseCase(
	b repo.Backend, head *model.Schema, m *metrics.Collector, runID string,
) (*migrationuc.UseCase, error) {
	opts := make([]migrationuc.Option, 0, 2)
	if m != nil {
		opts = append(opts, migrationuc.WithObserver(m))
	}
	if runID != "" {
		opts = append(opts, migrationuc.WithRunID(runID))
	}
	return migrationuc.New(b, head, opts...)
}
