// Package helpqueue wires the help queue together: storage, the state
// machine, change detection, timers and the consumers of the event bus.
package helpqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Raytar/helpqueue/changes"
	"github.com/Raytar/helpqueue/database"
	"github.com/Raytar/helpqueue/events"
	"github.com/Raytar/helpqueue/metrics"
	"github.com/Raytar/helpqueue/notify"
	"github.com/Raytar/helpqueue/queue"
	"github.com/Raytar/helpqueue/report"
	"github.com/Raytar/helpqueue/scheduler"
	"github.com/Raytar/helpqueue/stats"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Database         database.Config `mapstructure:",squash"`
	Notify           notify.Config   `mapstructure:",squash"`
	LogLevel         string          `mapstructure:"log-level"`
	DefaultMaxFreeze time.Duration   `mapstructure:"default-max-freeze"`
	HTTPAddr         string          `mapstructure:"http-addr"`
	SentryDSN        string          `mapstructure:"sentry-dsn"`
	Env              string          `mapstructure:"env"`
}

type App struct {
	cfg Config
	log *logrus.Logger

	DB       *database.Database
	Bus      *events.Bus
	Queue    *queue.Machine
	Freeze   *scheduler.Freeze
	Activity *stats.ActivityTracker
	Stats    *stats.Calculator
	Reports  *report.Reporter

	notifier    *notify.Notifier
	closeNotify func() error
	stops       []func()
}

// New opens the database and builds the components. Nothing runs until
// Start is called.
func New(cfg Config, log *logrus.Logger, clock clockwork.Clock) (app *App, err error) {
	app = &App{cfg: cfg, log: log}
	app.DB, err = database.Open(cfg.Database, log, clock)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = app.DB.Close()
		}
	}()

	app.Queue, err = queue.New(app.DB, log, cfg.DefaultMaxFreeze)
	if err != nil {
		return nil, err
	}
	app.Bus = events.NewBus(log)
	app.Freeze = scheduler.NewFreeze(app.DB, app.Bus, clock, log)
	app.Activity = stats.NewActivityTracker(app.DB, app.Bus, clock, log)
	app.Stats = stats.NewCalculator(app.DB)
	app.Reports = report.New(app.DB, app.Stats, time.Local)
	changes.New(app.DB, app.Bus, app.Freeze, log).Register()

	app.notifier, app.closeNotify, err = notify.Open(cfg.Notify, log)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Start rebuilds the timers lost by a restart and starts the consumers and
// the ops server. They stop when ctx is done or Close is called.
func (app *App) Start(ctx context.Context) error {
	if _, err := app.Freeze.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile freeze timers: %w", err)
	}
	if _, err := app.Activity.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile active CA recounts: %w", err)
	}

	app.stops = append(app.stops, app.Activity.Start(), app.Freeze.Stop)
	if app.notifier != nil {
		app.stops = append(app.stops, app.notifier.Attach(app.Bus))
	}
	if app.cfg.HTTPAddr != "" {
		srv := metrics.Serve(ctx, app.cfg.HTTPAddr, app.DB)
		app.log.Infof("Serving metrics on %s", srv.Addr())
	}
	return nil
}

// Close stops the consumers and timers and closes the connections.
func (app *App) Close() error {
	for i := len(app.stops) - 1; i >= 0; i-- {
		app.stops[i]()
	}
	app.stops = nil
	return errors.Join(app.closeNotify(), app.DB.Close())
}
