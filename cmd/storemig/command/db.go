// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/momeni/storemig/pkg/adapter/config"
	"github.com/momeni/storemig/pkg/adapter/metrics"
	"github.com/momeni/storemig/pkg/core/log"
	"github.com/momeni/storemig/pkg/core/repo"
	"github.com/momeni/storemig/pkg/core/usecase/migrationuc"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database migration actions",
	Long: `Database migration actions can be chosen by sub-commands.
The migrate action applies the outstanding migrations, the plan action
only lists them, and the status action describes the version marker
and physical layout of the configured database.`,
}

// session holds the components which are shared by the db actions.
type session struct {
	cfg     *config.Config
	backend repo.Backend
	metrics *metrics.Collector
	uc      *migrationuc.UseCase
}

// openSession loads the configuration and chain files, connects to the
// database, and instantiates the migration use case. The returned
// session must be closed by the caller.
func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	c, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	head, err := c.LoadChain()
	if err != nil {
		return nil, err
	}
	b, err := c.OpenBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", c.Backend.Kind, err)
	}
	m := c.NewMetrics()
	uc, err := c.NewMigrationUseCase(b, head, m, uuid.NewString())
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("creating migration use case: %w", err)
	}
	return &session{cfg: c, backend: b, metrics: m, uc: uc}, nil
}

// Close writes the collected metrics and closes the backend.
func (s *session) Close(ctx context.Context) {
	if err := s.cfg.WriteMetrics(s.metrics); err != nil {
		log.Warn(ctx, "cannot write metrics", log.Err("err", err))
	}
	if err := s.backend.Close(); err != nil {
		log.Warn(ctx, "cannot close backend", log.Err("err", err))
	}
}

func init() {
	rootCmd.AddCommand(dbCmd)
}
