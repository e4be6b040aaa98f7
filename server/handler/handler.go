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

// Package handler renders the JSON API. It is the only layer that turns
// typed error kinds into HTTP status codes.
package handler

import (
	"log/slog"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/directory"
	"github.com/dirwarden/dirwarden/server/errors"
	"github.com/dirwarden/dirwarden/server/ldapgw"
	"github.com/dirwarden/dirwarden/server/log"
	"github.com/dirwarden/dirwarden/server/monitor"
	"github.com/dirwarden/dirwarden/server/pool"
	"github.com/dirwarden/dirwarden/server/vault"

	"github.com/gin-gonic/gin"
)

// Deps carries every collaborator the handlers need. Handlers stay free of
// globals so tests can assemble them with mocks.
type Deps struct {
	Settings *config.Store
	Env      *config.EnvSettings
	Vault    *vault.Vault
	Gateway  *ldapgw.Gateway
	Service  *directory.Service
	Monitor  *monitor.Monitor
	Pool     *pool.Pool
	Logger   *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	return log.GetLogger(d.Logger)
}

// renderError writes the error as JSON with the status of its kind. The full
// error chain goes to the request log, never to the client.
func renderError(ctx *gin.Context, err error) {
	kind := errors.KindOf(err)

	_ = ctx.Error(err)

	ctx.JSON(kind.HTTPStatus(), gin.H{
		"error": errors.MessageOf(err),
		"kind":  string(kind),
	})
}
