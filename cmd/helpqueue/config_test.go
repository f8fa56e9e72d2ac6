package main

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestReadConfig(t *testing.T) {
	t.Setenv("HELPQUEUE_DB_DSN", "postgres://queue@localhost/queue")
	t.Setenv("HELPQUEUE_SENTRY_DSN", "https://key@sentry.example/1")
	t.Setenv("HELPQUEUE_DEFAULT_MAX_FREEZE", "90s")

	fs := pflag.NewFlagSet("helpqueue", pflag.ContinueOnError)
	cfg, err := readConfig(viper.New(), fs, []string{"--db-driver", "postgres", "--http-addr", ""})
	if err != nil {
		t.Fatal(err)
	}

	check := func(name, got, want string) {
		t.Helper()
		if got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	check("db-driver", cfg.Database.Driver, "postgres")
	check("db-dsn", cfg.Database.DSN, "postgres://queue@localhost/queue")
	check("sentry-dsn", cfg.SentryDSN, "https://key@sentry.example/1")
	check("http-addr", cfg.HTTPAddr, "")
	check("log-level", cfg.LogLevel, "info")
	if cfg.DefaultMaxFreeze != 90*time.Second {
		t.Errorf("default-max-freeze = %v, want 1m30s", cfg.DefaultMaxFreeze)
	}
}
