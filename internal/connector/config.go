package connector

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// SettingsStore provides read access to the key/value configuration where
// connector settings live.
type SettingsStore interface {
	GetAllConfigValues(ctx context.Context) (map[string]string, error)
}

// LoadSettings collects the settings for one side of a sync configuration.
// Keys are stored as "<prefix>.<setting>" (e.g. "conn.3.source.pat"); the
// returned map is keyed by the bare setting name. Environment variables of
// the form <CONNECTOR>_<SETTING> fill in anything the store lacks, so
// credentials can stay out of the database.
func LoadSettings(ctx context.Context, store SettingsStore, prefix, connectorName string) (map[string]string, error) {
	settings := make(map[string]string)

	if store != nil {
		all, err := store.GetAllConfigValues(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading connector settings: %w", err)
		}
		p := prefix + "."
		for key, value := range all {
			if strings.HasPrefix(key, p) {
				settings[strings.TrimPrefix(key, p)] = value
			}
		}
	}

	for _, key := range []string{"organization", "project", "pat", "url", "token"} {
		if settings[key] != "" {
			continue
		}
		envKey := strings.ToUpper(connectorName + "_" + key)
		envKey = strings.ReplaceAll(envKey, ".", "_")
		if v := os.Getenv(envKey); v != "" {
			settings[key] = v
		}
	}

	return settings, nil
}

// RequireSetting returns the named setting or an explanatory error.
func RequireSetting(settings map[string]string, connectorName, key string) (string, error) {
	if v := settings[key]; v != "" {
		return v, nil
	}
	envKey := strings.ToUpper(connectorName + "_" + key)
	return "", fmt.Errorf("%s is not configured for %s\nRun: ws config set <prefix>.%s VALUE\nOr: export %s=VALUE",
		key, connectorName, key, envKey)
}
