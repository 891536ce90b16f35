// Package config loads the ws application configuration.
//
// Configuration comes from ws.yaml (searched in the working directory, then
// ~/.worksync), overridden by WS_* environment variables. Nested keys map to
// env vars with dots replaced by underscores: sync.concurrency becomes
// WS_SYNC_CONCURRENCY.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config keys.
const (
	KeyDBPath          = "db.path"
	KeySyncConcurrency = "sync.concurrency"
	KeySyncTimeout     = "sync.timeout"
	KeyLogFile         = "log.file"
	KeyLogMaxSizeMB    = "log.max-size-mb"
	KeyLogMaxBackups   = "log.max-backups"
	KeyLogMaxAgeDays   = "log.max-age-days"
)

// App is the resolved application configuration.
type App struct {
	// DBPath is the sqlite database location.
	DBPath string

	// SyncConcurrency caps how many sync runs execute at once.
	SyncConcurrency int

	// SyncTimeout bounds a single sync run. Zero means no limit.
	SyncTimeout time.Duration

	// Log controls the daemon log file. An empty File means stderr.
	Log LogSettings

	v *viper.Viper
}

// LogSettings configures rotating file logging for the daemon.
type LogSettings struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads ws.yaml and the environment. When configFile is non-empty it is
// used verbatim; otherwise the default search paths apply. A missing config
// file is not an error; defaults and environment still apply.
func Load(configFile string) (*App, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("ws")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".worksync"))
		}
	}

	v.SetEnvPrefix("WS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDBPath, "worksync.db")
	v.SetDefault(KeySyncConcurrency, 3)
	v.SetDefault(KeySyncTimeout, "10m")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, 50)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyLogMaxAgeDays, 28)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// An explicit --config path that does not exist is also fatal.
			if configFile == "" || !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
			return nil, fmt.Errorf("config file %s: %w", configFile, err)
		}
	}

	app := &App{
		DBPath:          v.GetString(KeyDBPath),
		SyncConcurrency: v.GetInt(KeySyncConcurrency),
		SyncTimeout:     v.GetDuration(KeySyncTimeout),
		Log: LogSettings{
			File:       v.GetString(KeyLogFile),
			MaxSizeMB:  v.GetInt(KeyLogMaxSizeMB),
			MaxBackups: v.GetInt(KeyLogMaxBackups),
			MaxAgeDays: v.GetInt(KeyLogMaxAgeDays),
		},
		v: v,
	}
	if app.SyncConcurrency < 1 {
		return nil, fmt.Errorf("%s must be at least 1, got %d", KeySyncConcurrency, app.SyncConcurrency)
	}
	return app, nil
}

// ConfigFileUsed returns the path of the file viper actually read, or "".
func (a *App) ConfigFileUsed() string {
	if a.v == nil {
		return ""
	}
	return a.v.ConfigFileUsed()
}

// LogWriter returns the daemon log destination. With a log file configured
// this is a size/age-rotated file; otherwise fallback (usually stderr).
func (a *App) LogWriter(fallback io.Writer) io.Writer {
	if a.Log.File == "" {
		return fallback
	}
	return &lumberjack.Logger{
		Filename:   a.Log.File,
		MaxSize:    a.Log.MaxSizeMB,
		MaxBackups: a.Log.MaxBackups,
		MaxAge:     a.Log.MaxAgeDays,
		Compress:   true,
	}
}
