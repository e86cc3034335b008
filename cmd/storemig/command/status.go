// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Describe the version and stores of the configured database",
	Long: `Describe the version and stores of the configured database.
The recorded version, head version, outstanding migrations, and the
physical layout of each store of the head schema are printed as JSON.
Stores which are declared by the head schema but do not exist are
listed as missing. Nothing is modified.`,
	RunE: status,
	Args: cobra.NoArgs,
}

func status(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close(ctx)
	st, err := s.uc.Status(ctx)
	if err != nil {
		return err
	}
	s.metrics.SetVersion(s.backend.Kind(), st.Current)
	return printJSON(cmd.OutOrStdout(), st)
}

func init() {
	dbCmd.AddCommand(statusCmd)
}
