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
	"github.com/dirwarden/dirwarden/server/middleware/cors"
	"github.com/dirwarden/dirwarden/server/middleware/logging"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the gin engine with middlewares and all API routes.
func NewRouter(deps *Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.LoggerMiddleware(deps.logger()))
	router.Use(cors.Middleware(deps.Env.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/health", deps.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	clusters := api.Group("/clusters")
	{
		clusters.GET("/list", deps.ListClusters)
		clusters.GET("/health/:name", deps.ClusterHealth)
		clusters.GET("/form/:name", deps.ClusterForm)
		clusters.GET("/columns/:name", deps.ClusterColumns)
		clusters.GET("/password-policy/:name", deps.ClusterPasswordPolicy)
	}

	connection := api.Group("/connection")
	{
		connection.POST("/connect", deps.Connect)
	}

	password := api.Group("/password")
	{
		password.GET("/check/:name", deps.PasswordCheck)
		password.DELETE("/cache/:name", deps.PasswordClear)
	}

	entries := api.Group("/entries")
	{
		entries.GET("/stats", deps.EntryStats)
		entries.GET("/search", deps.EntrySearch)
		entries.POST("/create", deps.EntryCreate)
		entries.PUT("/update", deps.EntryUpdate)
		entries.DELETE("/delete", deps.EntryDelete)
		entries.GET("/groups/all", deps.GroupsAll)
		entries.GET("/user/groups", deps.UserGroups)
		entries.PUT("/user/groups", deps.SetUserGroups)
	}

	monitoring := api.Group("/monitoring")
	{
		monitoring.GET("/nodes", deps.MonitoringNodes)
		monitoring.GET("/topology", deps.MonitoringTopology)
		monitoring.POST("/test-replication", deps.TestReplication)
	}

	return router
}
