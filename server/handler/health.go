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

	"github.com/gin-gonic/gin"
)

const (
	healthStatusUp   = "up"
	healthStatusDown = "down"
)

type healthCheck struct {
	Status string         `json:"status"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Health reports liveness: config loaded, vault readable, pool bookkeeping.
func (d *Deps) Health(ctx *gin.Context) {
	checks := map[string]*healthCheck{}
	status := healthStatusUp

	if len(d.Settings.Get().Clusters) > 0 {
		checks["config"] = &healthCheck{
			Status: healthStatusUp,
			Meta:   map[string]any{"clusters": len(d.Settings.Get().Clusters)},
		}
	} else {
		checks["config"] = &healthCheck{Status: healthStatusDown}
		status = healthStatusDown
	}

	if d.Vault.Healthy() {
		checks["vault"] = &healthCheck{Status: healthStatusUp}
	} else {
		checks["vault"] = &healthCheck{Status: healthStatusDown}
		status = healthStatusDown
	}

	poolStats := d.Pool.Stats()
	checks["pool"] = &healthCheck{
		Status: healthStatusUp,
		Meta: map[string]any{
			"buckets":       poolStats.Buckets,
			"idle_sessions": poolStats.IdleSessions,
		},
	}

	statusCode := http.StatusOK
	if status == healthStatusDown {
		statusCode = http.StatusServiceUnavailable
	}

	ctx.JSON(statusCode, gin.H{"status": status, "checks": checks})
}
