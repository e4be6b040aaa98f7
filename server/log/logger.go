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

package log

import (
	"log/slog"
	"os"
	"sync"

	"github.com/dirwarden/dirwarden/server/definitions"
)

var (
	mu sync.Mutex

	// Logger is used for all messages that are printed to stdout. Packages
	// that support dependency injection should accept a *slog.Logger and fall
	// back to this global only when handed nil.
	Logger *slog.Logger = slog.Default()
)

// SetupLogging initializes the global Logger object.
func SetupLogging(configLogLevel int, formatJSON bool, instance string) {
	mu.Lock()

	defer mu.Unlock()

	var logLevel slog.Level

	switch configLogLevel {
	case definitions.LogLevelNone:
		// slog has no "off"; park the threshold above every level we emit.
		logLevel = slog.LevelError + 4
	case definitions.LogLevelError:
		logLevel = slog.LevelError
	case definitions.LogLevelWarn:
		logLevel = slog.LevelWarn
	case definitions.LogLevelInfo:
		logLevel = slog.LevelInfo
	case definitions.LogLevelDebug:
		logLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler

	if formatJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(handler).With(definitions.LogKeyInstance, instance)
}

// GetLogger returns the injected logger or the global fallback.
func GetLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}

	return Logger
}
