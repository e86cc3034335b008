// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"fmt"

	"github.com/momeni/storemig/pkg/core/model"
	"github.com/spf13/cobra"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Schema chain file actions",
}

var chainCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configured schema chain file",
	Long: `Validate the configured schema chain file.
All migrations are replayed from the root schema, so any schema contract
or chain integrity violation is reported. For a valid chain, its known
versions and the stores of its head schema are printed as JSON.`,
	RunE: checkChain,
	Args: cobra.NoArgs,
}

type chainOutput struct {
	Versions []int              `json:"versions"`
	Head     model.ObjectStores `json:"head"`
}

func checkChain(cmd *cobra.Command, _ []string) error {
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
	return printJSON(cmd.OutOrStdout(), chainOutput{
		Versions: h.Versions(), Head: head.Stores,
	})
}

func init() {
	chainCmd.AddCommand(chainCheckCmd)
	rootCmd.AddCommand(chainCmd)
}
