package pgstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"testing"

	"escrow/store"

	"github.com/go-kit/log"
	"github.com/gofrs/uuid"
	pgx "github.com/jackc/pgx/v4"
)

// NewTestStore returns a store backed by a fresh database on the server named
// by PGCONNSTRING, and skips the test if that variable is unset. The database
// is dropped when the test passes.
func NewTestStore(t *testing.T) store.Store {
	t.Helper()

	connStr := os.Getenv("PGCONNSTRING")
	if connStr == "" {
		t.Skipf("set PGCONNSTRING to run this test")
	}

	ctx := context.Background()

	cfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse connection string: %v", err)
	}

	cfg.Database = "postgres"
	admin, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect to database: %v", err)
	}

	dbName := "escrow-test-" + uuid.Must(uuid.NewV4()).String()[:8]
	if _, err := admin.Exec(ctx, fmt.Sprintf(`create database %q`, dbName)); err != nil {
		t.Fatalf("create test DB: %v", err)
	}

	t.Cleanup(func() {
		defer admin.Close(ctx)

		if t.Failed() {
			t.Logf("database %s left intact", dbName)
			return
		}

		if _, err := admin.Exec(ctx, `
			select pg_terminate_backend(pid)
			from pg_stat_activity
			where datname = $1
		`, dbName); err != nil {
			t.Errorf("terminate test DB clients: %v", err)
		}

		if _, err := admin.Exec(ctx, fmt.Sprintf(`drop database %q`, dbName)); err != nil {
			t.Errorf("drop test DB: %v", err)
		}
	})

	u, err := url.Parse(connStr)
	if err != nil {
		t.Fatalf("parse connection string as URL: %v", err)
	}
	u.Path = "/" + dbName

	s, err := NewStore(ctx, u.String(), log.NewNopLogger())
	if err != nil {
		t.Fatalf("create test DB store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close test DB store: %v", err)
		}
	})

	return s
}
