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

// MonitoringNodes returns the per-node replication snapshot.
func (d *Deps) MonitoringNodes(ctx *gin.Context) {
	cluster := ctx.Query("cluster")
	if cluster == "" {
		renderError(ctx, errors.New(errors.KindBadRequest, "cluster query parameter is required"))

		return
	}

	snapshot, err := d.Monitor.Snapshot(ctx.Request.Context(), cluster)
	if err != nil {
		renderError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, snapshot)
}

// MonitoringTopology returns the declared syncrepl graph.
func (d *Deps) MonitoringTopology(ctx *gin.Context) {
	cluster := ctx.Query("cluster")
	if cluster == "" {
		renderError(ctx, errors.New(errors.KindBadRequest, "cluster query parameter is required"))

		return
	}

	topology, err := d.Monitor.Topology(ctx.Request.Context(), cluster)
	if err != nil {
		renderError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, gin.H{"topology": topology})
}

// TestReplication runs the write-propagation probe.
func (d *Deps) TestReplication(ctx *gin.Context) {
	cluster := ctx.Query("cluster")
	if cluster == "" {
		renderError(ctx, errors.New(errors.KindBadRequest, "cluster query parameter is required"))

		return
	}

	result, err := d.Monitor.Probe(ctx.Request.Context(), cluster)
	if err != nil {
		renderError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, result)
}
