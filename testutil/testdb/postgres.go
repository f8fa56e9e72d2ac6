//go:build integration

package testdb

import (
	"context"
	"testing"
	"time"

	"github.com/Raytar/helpqueue/database"
	"github.com/jonboulle/clockwork"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresDSN starts a postgres container and returns its connection
// string. The container is terminated when the test ends.
func PostgresDSN(t testing.TB) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg, err := postgres.RunContainer(ctx,
		tc.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("helpqueue"),
		postgres.WithUsername("helpqueue"),
		postgres.WithPassword("helpqueue"),
		tc.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = pg.Terminate(ctx)
	})

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	return dsn
}

// Open opens a database on dsn that is closed when the test ends.
func Open(t testing.TB, dsn string, clock clockwork.Clock) *database.Database {
	t.Helper()
	db, err := database.Open(database.Config{Driver: "postgres", DSN: dsn}, Logger(t), clock)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
