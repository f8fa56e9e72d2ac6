package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Raytar/helpqueue"
	"github.com/Raytar/helpqueue/observability"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	appName = "helpqueue"
	cfgFile = ".helpqueue"
)

var version = "dev"

var log = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.InfoLevel,
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalln("Failed to read config:", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	} else {
		log.Warnf("Unknown log level %q, using %s", cfg.LogLevel, log.Level)
	}

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, version)
	if err != nil {
		log.Errorln("Failed to init sentry:", err)
	}
	defer flush()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := helpqueue.New(cfg, log, clockwork.NewRealClock())
	if err != nil {
		log.Fatalln("Failed to initialize:", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Errorln("Failed to shut down cleanly:", err)
		}
	}()

	if err := app.Start(ctx); err != nil {
		log.Errorln("Failed to start:", err)
		return
	}
	log.Infoln("Help queue running")

	// run until interrupted
	<-ctx.Done()
	log.Infoln("Shutting down")
}
