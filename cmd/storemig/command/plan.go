// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"fmt"

	"github.com/momeni/storemig/pkg/core/model"
	"github.com/momeni/storemig/pkg/core/usecase/migrationuc"
	"github.com/spf13/cobra"
)

var fromVersion int

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "List the outstanding migrations without applying them",
	Long: `List the outstanding migrations without applying them.
By default, the version marker is read from the configured database.
With the --from flag, the given version is used instead and no database
connection is made at all.`,
	RunE: plan,
	Args: cobra.NoArgs,
}

// planOutput is the JSON representation of a migrationuc.Plan.
type planOutput struct {
	Current    int      `json:"current"`
	Target     int      `json:"target"`
	Migrations []string `json:"migrations"`
}

func newPlanOutput(p *migrationuc.Plan) planOutput {
	return planOutput{
		Current: p.Current, Target: p.Target, Migrations: p.Labels(),
	}
}

func plan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	var p *migrationuc.Plan
	if cmd.Flags().Changed("from") {
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		head, err := c.LoadChain()
		if err != nil {
			return err
		}
		h, err := model.NewHistory(head)
		if err != nil {
			return fmt.Errorf("indexing schema history: %w", err)
		}
		if p, err = migrationuc.Resolve(h, fromVersion); err != nil {
			return fmt.Errorf("resolving migrations: %w", err)
		}
	} else {
		s, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.Close(ctx)
		if p, err = s.uc.Plan(ctx); err != nil {
			return err
		}
		s.metrics.SetVersion(s.backend.Kind(), p.Current)
	}
	return printJSON(cmd.OutOrStdout(), newPlanOutput(p))
}

func init() {
	planCmd.Flags().IntVar(
		&fromVersion, "from", 0,
		"resolve from this version instead of reading the database",
	)
	dbCmd.AddCommand(planCmd)
}
