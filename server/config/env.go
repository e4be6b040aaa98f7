// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dirwarden/dirwarden/server/definitions"
	"github.com/spf13/viper"
)

// EnvSettings carries the process-level tunables read from the environment.
// The cluster topology never lives here; only operational knobs do.
type EnvSettings struct {
	AllowedOrigins []string
	LogLevel       int
	LogJSON        bool
	Port           int
	Workers        int

	NetTimeout    time.Duration
	OpTimeout     time.Duration
	CredentialTTL time.Duration
	PoolIdleTTL   time.Duration

	SecretsDir string
	Instance   string
}

// parseLogLevel maps a LOG_LEVEL string to the internal level constants.
func parseLogLevel(value string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return definitions.LogLevelInfo, nil
	case "none":
		return definitions.LogLevelNone, nil
	case "error":
		return definitions.LogLevelError, nil
	case "warn", "warning":
		return definitions.LogLevelWarn, nil
	case "debug":
		return definitions.LogLevelDebug, nil
	default:
		return 0, fmt.Errorf("wrong log level: <%s>", value)
	}
}

// LoadEnvironment reads the recognized environment keys, applying defaults
// for everything unset. Unknown LOG_LEVEL values are fatal.
func LoadEnvironment() (*EnvSettings, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", definitions.DefaultHTTPPort)
	v.SetDefault("WORKERS", 0)
	v.SetDefault("LDAP_NET_TIMEOUT_S", int(definitions.DefaultNetTimeout/time.Second))
	v.SetDefault("LDAP_OP_TIMEOUT_S", int(definitions.DefaultOpTimeout/time.Second))
	v.SetDefault("PASSWORD_CACHE_TTL_S", int(definitions.DefaultCredentialTTL/time.Second))
	v.SetDefault("POOL_IDLE_TTL_S", int(definitions.DefaultPoolIdleTTL/time.Second))
	v.SetDefault("SECRETS_DIR", ".secrets")
	v.SetDefault("INSTANCE", "dirwarden")

	logLevel, err := parseLogLevel(v.GetString("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}

	var origins []string

	for _, origin := range strings.Split(v.GetString("ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return &EnvSettings{
		AllowedOrigins: origins,
		LogLevel:       logLevel,
		LogJSON:        v.GetBool("JSON_LOGS"),
		Port:           v.GetInt("PORT"),
		Workers:        v.GetInt("WORKERS"),
		NetTimeout:     time.Duration(v.GetInt("LDAP_NET_TIMEOUT_S")) * time.Second,
		OpTimeout:      time.Duration(v.GetInt("LDAP_OP_TIMEOUT_S")) * time.Second,
		CredentialTTL:  time.Duration(v.GetInt("PASSWORD_CACHE_TTL_S")) * time.Second,
		PoolIdleTTL:    time.Duration(v.GetInt("POOL_IDLE_TTL_S")) * time.Second,
		SecretsDir:     v.GetString("SECRETS_DIR"),
		Instance:       v.GetString("INSTANCE"),
	}, nil
}
