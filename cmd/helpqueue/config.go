package main

import (
	"errors"
	"os"
	"strings"

	"github.com/Raytar/helpqueue"
	"github.com/Raytar/helpqueue/queue"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func loadConfig() (cfg helpqueue.Config, err error) {
	// .env is optional
	_ = godotenv.Load()
	return readConfig(viper.GetViper(), pflag.CommandLine, os.Args[1:])
}

func readConfig(v *viper.Viper, fs *pflag.FlagSet, args []string) (cfg helpqueue.Config, err error) {
	// command line
	fs.String("db-driver", "sqlite", "Database driver (sqlite or postgres)")
	fs.String("db-dsn", "file:helpqueue.db", "Database connection string")
	fs.Bool("gorm-debug", false, "Log every SQL statement")
	fs.String("log-level", "info", "Log level")
	fs.Duration("default-max-freeze", queue.DefaultMaxFreeze, "Freeze duration for courses without queue settings")
	fs.String("http-addr", ":9090", "Address of the health and metrics server (empty to disable)")
	fs.String("sentry-dsn", "", "Sentry DSN (empty to disable)")
	fs.String("env", "development", "Environment reported to Sentry")
	fs.String("discord-token", "", "Discord bot token (empty to disable notifications)")
	fs.String("discord-channel", "", "Discord channel receiving notifications")
	if err = fs.Parse(args); err != nil {
		return
	}

	err = v.BindPFlags(fs)
	if err != nil {
		return
	}

	// env, HELPQUEUE_DB_DSN sets db-dsn
	v.SetEnvPrefix(appName)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// config file
	v.SetConfigName(cfgFile)
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	err = v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return
	}

	err = v.Unmarshal(&cfg)
	return
}
