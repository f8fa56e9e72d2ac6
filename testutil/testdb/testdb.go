// Package testdb opens throwaway databases for tests.
package testdb

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Raytar/helpqueue/database"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Epoch is the start time of the fake clocks handed out by New.
var Epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var seq atomic.Uint64

// Logger returns a logger that discards its output unless -v is given.
func Logger(t testing.TB) *logrus.Logger {
	log := logrus.New()
	if !testing.Verbose() {
		log.SetOutput(io.Discard)
	}
	log.SetLevel(logrus.DebugLevel)
	return log
}

// New opens a private in-memory sqlite database driven by a fake clock.
// The database is closed when the test ends.
func New(t testing.TB) (*database.Database, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(Epoch)
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: dsn}, Logger(t), clock)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, clock
}
