// Copyright (c) 2023 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package dbcontainer is an internal helper for the test packages.
// It starts a temporary postgres:16 podman container and opens
// relational backends on it, each one confined to its own database
// schema, so the conformance scenarios do not see each other stores.
// When the DOCKER_HOST environment variable is not set, the calling
// test is skipped.
package dbcontainer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bitcomplete/sqltestutil"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/momeni/storemig/pkg/adapter/db/relational"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/clause"
)

// Container is a running postgres container and an admin backend
// which is connected to its default schema.
type Container struct {
	PG    *sqltestutil.PostgresContainer
	Admin *relational.Backend

	schemas int
}

// Start creates and starts up a postgres podman container.
// The podman.service needs to be started and the DOCKER_HOST
// environment variable needs to be initialized beforehand like
// DOCKER_HOST=unix://$XDG_RUNTIME_DIR/podman/podman.sock
// in order to be identified by this function properly.
// The timeout bounds the start up phase. The container is shut down
// by the t cleanup functions.
func Start(ctx context.Context, t *testing.T, timeout time.Duration) *Container {
	t.Helper()
	if os.Getenv("DOCKER_HOST") == "" {
		t.Skip("DOCKER_HOST is not set, skipping postgres tests")
	}
	ctx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pg, err := sqltestutil.StartPostgresContainer(ctx2, "16")
	require.NoError(t, err, "failed to set up a test database")
	t.Cleanup(func() {
		assert.NoError(t, pg.Shutdown(ctx), "failed to shutdown test database")
	})
	c := &Container{PG: pg}
	c.Admin = open(ctx2, t, pg.ConnectionString())
	return c
}

// open connects to dsn, retrying while the server is starting up.
func open(ctx context.Context, t *testing.T, dsn string) *relational.Backend {
	t.Helper()
	for {
		b, err := relational.Open(ctx, relational.Postgres, dsn)
		if err == nil {
			t.Cleanup(func() {
				assert.NoError(t, b.Close(), "failed to close the backend")
			})
			return b
		}
		var pgErr *pgconn.PgError
		var netErr net.Error
		retry := errors.As(err, &pgErr) && pgErr.SQLState() == "57P03" ||
			errors.As(err, &netErr)
		if !retry || ctx.Err() != nil {
			require.NoError(t, err, "cannot connect to test database")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// OpenSchema creates a fresh database schema and returns a backend
// whose connections use it as their search_path.
func (c *Container) OpenSchema(ctx context.Context, t *testing.T) *relational.Backend {
	t.Helper()
	c.schemas++
	name := fmt.Sprintf("scenario%d", c.schemas)
	err := c.Admin.GORM(ctx).Exec(
		"CREATE SCHEMA ?", clause.Table{Name: name},
	).Error
	require.NoError(t, err, "creating schema %q", name)
	dsn := c.PG.ConnectionString()
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return open(ctx, t, dsn+sep+"search_path="+name)
}
