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

package handler

import (
	"net/http"

	"github.com/dirwarden/dirwarden/server/errors"

	"github.com/gin-gonic/gin"
)

type connectRequest struct {
	Cluster      string `json:"cluster" binding:"required"`
	BindPassword string `json:"bind_password" binding:"required"`
}

// Connect validates the submitted administrator password with a bind test
// and stores it in the vault only on success.
func (d *Deps) Connect(ctx *gin.Context) {
	var req connectRequest

	if err := ctx.ShouldBindJSON(&req); err != nil {
		renderError(ctx, errors.Wrap(errors.KindBadRequest, "cluster and bind_password are required", err))

		return
	}

	cluster := d.Settings.Get().GetCluster(req.Cluster)
	if cluster == nil {
		renderError(ctx, errors.New(errors.KindNotFound, "cluster not found"))

		return
	}

	if err := d.Gateway.BindTest(ctx.Request.Context(), req.Cluster, cluster.BindDN, req.BindPassword); err != nil {
		renderError(ctx, err)

		return
	}

	if err := d.Vault.Store(req.Cluster, req.BindPassword); err != nil {
		renderError(ctx, errors.Wrap(errors.KindInternal, "failed to cache credential", err))

		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "success"})
}

// PasswordCheck reports whether a live credential is cached.
func (d *Deps) PasswordCheck(ctx *gin.Context) {
	name := ctx.Param("name")

	if d.Settings.Get().GetCluster(name) == nil {
		ctx.JSON(http.StatusOK, gin.H{"cached": false})

		return
	}

	ctx.JSON(http.StatusOK, gin.H{"cached": d.Vault.Present(name)})
}

// PasswordClear removes the cached credential.
func (d *Deps) PasswordClear(ctx *gin.Context) {
	name := ctx.Param("name")

	if d.Settings.Get().GetCluster(name) == nil {
		renderError(ctx, errors.New(errors.KindNotFound, "cluster not found"))

		return
	}

	d.Vault.Clear(name)

	ctx.JSON(http.StatusOK, gin.H{"status": "success", "message": "credential cache cleared"})
}
