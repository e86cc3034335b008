// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package chainfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/momeni/storemig/pkg/adapter/chainfile"
	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postsChain = `
root:
  version: 1
  stores:
    posts:
      id: {kind: primary-key, type: integer, auto-increment: true}
      body: {}
migrations:
  - version: 2
    added:
      posts:
        slug: {kind: index, unique: true}
  - version: 3
    removed:
      posts: [slug]
    added:
      tags:
        name: {kind: pk}
        posts: {kind: index, multi-entry: true, key-path: [refs, posts]}
`

func TestParseReplaysMigrations(t *testing.T) {
	head, err := chainfile.Parse([]byte(postsChain))
	require.NoError(t, err)
	assert.Equal(t, 3, head.Version)
	assert.Equal(t, []string{"posts", "tags"}, head.Stores.Names())
	assert.Equal(t, []string{"body", "id"}, head.Stores["posts"].Names())
	assert.Equal(t, model.PrimaryKeyColumn(
		model.WithType(model.Integer), model.AutoIncrementing(),
	), head.Stores["posts"]["id"])
	assert.Equal(t, model.IndexColumn(
		model.MultiEntry(), model.WithKeyPath("refs", "posts"),
	), head.Stores["tags"]["posts"])

	v2 := head.Migration.Base
	require.NotNil(t, v2)
	assert.Equal(t, "2->3", head.Migration.Label())
	assert.True(t, v2.Stores["posts"]["slug"].Unique)
	assert.True(t, v2.Migration.Base.IsRoot())
}

func TestLoadReadsFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(postsChain), 0o600))
	head, err := chainfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, head.Version)

	_, err = chainfile.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		contract bool
	}{
		{name: "empty", doc: ""},
		{name: "unknown field", doc: "root: {version: 1}\nextra: 2\n"},
		{name: "unknown kind", doc: `
root:
  version: 1
  stores:
    users:
      id: {kind: foreign-key}
`},
		{name: "store without primary key", doc: `
root:
  version: 1
  stores:
    users:
      name: {}
`, contract: true},
		{name: "non-increasing version", doc: `
root: {version: 2}
migrations:
  - version: 2
`, contract: true},
		{name: "removing a missing column", doc: `
root: {version: 1}
migrations:
  - version: 2
    removed:
      users: [name]
`, contract: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := chainfile.Parse([]byte(tc.doc))
			require.Error(t, err)
			if tc.contract {
				assert.ErrorIs(t, err, cerr.ErrSchemaContract)
			}
		})
	}
}
