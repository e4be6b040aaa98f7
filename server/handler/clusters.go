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

	"github.com/dirwarden/dirwarden/server/config"

	"github.com/gin-gonic/gin"
)

// clusterSummary is the list representation of a cluster.
type clusterSummary struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Host        string        `json:"host,omitempty"`
	Port        int           `json:"port,omitempty"`
	Nodes       []config.Node `json:"nodes,omitempty"`
	BaseDN      string        `json:"base_dn"`
	BindDN      string        `json:"bind_dn"`
	Readonly    bool          `json:"readonly"`
}

// ListClusters enumerates the configured clusters.
func (d *Deps) ListClusters(ctx *gin.Context) {
	summaries := make([]clusterSummary, 0, len(d.Settings.Get().Clusters))

	for _, cluster := range d.Settings.Get().Clusters {
		summaries = append(summaries, clusterSummary{
			Name:        cluster.Name,
			Description: cluster.Description,
			Host:        cluster.Host,
			Port:        cluster.Port,
			Nodes:       cluster.Nodes,
			BaseDN:      cluster.BaseDN,
			BindDN:      cluster.BindDN,
			Readonly:    cluster.Readonly,
		})
	}

	ctx.JSON(http.StatusOK, gin.H{"clusters": summaries})
}

// ClusterHealth binds to the health node and reports connectivity.
func (d *Deps) ClusterHealth(ctx *gin.Context) {
	name := ctx.Param("name")

	cluster := d.Settings.Get().GetCluster(name)
	if cluster == nil {
		ctx.JSON(http.StatusOK, gin.H{
			"status":  "error",
			"message": "cluster not found in configuration",
		})

		return
	}

	password, err := d.Vault.Load(name)
	if err != nil {
		ctx.JSON(http.StatusOK, gin.H{
			"status":  "warning",
			"message": "password not configured, connect first",
		})

		return
	}

	if err = d.Gateway.BindTest(ctx.Request.Context(), name, cluster.BindDN, password); err != nil {
		ctx.JSON(http.StatusOK, gin.H{
			"status":  "error",
			"message": "connection failed, verify the server is running and credentials are valid",
		})

		return
	}

	node := cluster.WriteNode()

	// Bind succeeded; a rootDSE read confirms the node actually serves data.
	if _, err = d.Gateway.RootDSE(ctx.Request.Context(), cluster, node, []string{"namingContexts"}); err != nil {
		ctx.JSON(http.StatusOK, gin.H{
			"status":  "error",
			"message": "bind succeeded but rootDSE read failed on " + node.String(),
		})

		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "successfully connected to " + node.String(),
	})
}

// ClusterForm returns the declarative user creation form.
func (d *Deps) ClusterForm(ctx *gin.Context) {
	cluster := d.Settings.Get().GetCluster(ctx.Param("name"))
	if cluster == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "cluster not found"})

		return
	}

	if cluster.UserCreationForm == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no user creation form configured"})

		return
	}

	ctx.JSON(http.StatusOK, cluster.UserCreationForm)
}

// ClusterColumns returns the per-view column descriptors.
func (d *Deps) ClusterColumns(ctx *gin.Context) {
	cluster := d.Settings.Get().GetCluster(ctx.Param("name"))
	if cluster == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "cluster not found"})

		return
	}

	columns := cluster.TableColumns
	if columns == nil {
		columns = map[string][]config.TableColumn{}
	}

	ctx.JSON(http.StatusOK, columns)
}

// ClusterPasswordPolicy returns the password policy with defaults applied.
func (d *Deps) ClusterPasswordPolicy(ctx *gin.Context) {
	cluster := d.Settings.Get().GetCluster(ctx.Param("name"))
	if cluster == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "cluster not found"})

		return
	}

	ctx.JSON(http.StatusOK, cluster.GetPasswordPolicy())
}
