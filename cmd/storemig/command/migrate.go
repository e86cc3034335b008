// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the outstanding migrations to the configured database",
	Long: `Apply the outstanding migrations to the configured database.
The version marker of the database is read and all migrations between
that version and the head version of the schema chain are applied in
order. An empty database (without any version marker) is treated as
version zero, so the stores of the root schema are created first.
All changes are made in one exclusive version-scope. If any step fails,
the version-scope is aborted and the database keeps its old version.
Backends without transactional DDL (MongoDB) keep the executed steps,
but their version marker is not changed either.`,
	RunE: migrate,
	Args: cobra.NoArgs,
}

func migrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close(ctx)
	p, err := s.uc.Apply(ctx)
	if err != nil {
		return fmt.Errorf("migrating DB: %w", err)
	}
	s.metrics.SetVersion(s.backend.Kind(), p.Target)
	return printJSON(cmd.OutOrStdout(), newPlanOutput(p))
}

func init() {
	dbCmd.AddCommand(migrateCmd)
}
