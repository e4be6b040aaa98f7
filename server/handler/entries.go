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
	"strconv"

	"github.com/dirwarden/dirwarden/server/definitions"
	"github.com/dirwarden/dirwarden/server/directory"
	"github.com/dirwarden/dirwarden/server/errors"

	"github.com/gin-gonic/gin"
)

// EntryStats returns per-view counts.
func (d *Deps) EntryStats(ctx *gin.Context) {
	cluster := ctx.Query("cluster")
	if cluster == "" {
		renderError(ctx, errors.New(errors.KindBadRequest, "cluster query parameter is required"))

		return
	}

	result, err := d.Service.Stats(ctx.Request.Context(), cluster)
	if err != nil {
		renderError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, result)
}

// EntrySearch lists one page of a view.
func (d *Deps) EntrySearch(ctx *gin.Context) {
	cluster := ctx.Query("cluster")
	if cluster == "" {
		renderError(ctx, errors.New(errors.KindBadRequest, "cluster query parameter is required"))

		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(ctx.DefaultQuery("page_size", "10"))

	result, err := d.Service.List(ctx.Request.Context(), directory.ListRequest{
		Cluster:        cluster,
		View:           definitions.View(ctx.DefaultQuery("filter_type", "all")),
		Page:           page,
		PageSize:       pageSize,
		Query:          ctx.Query("search"),
		ConsistentRead: ctx.Query("consistent") == "true",
	})
	if err != nil {
		renderError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, result)
}

type entryCreateRequest struct {
	Cluster    string              `json:"cluster" binding:"required"`
	DN         string              `json:"dn" binding:"required"`
	Attributes map[string][]string `json:"attributes" binding:"required"`
}

// EntryCreate adds an entry.
func (d *Deps) EntryCreate(ctx *gin.Context) {
	var req entryCreateRequest

	if err := ctx.ShouldBindJSON(&req); err != nil {
		renderError(ctx, errors.Wrap(errors.KindBadRequest, "cluster, dn and attributes are required", err))

		return
	}

	if err := d.Service.Create(ctx.Request.Context(), req.Cluster, req.DN, req.Attributes); err != nil {
		renderError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "success", "dn": req.DN})
}

type entryUpdateRequest struct {
	Cluster       string              `json:"cluster" binding:"required"`
	DN            string              `json:"dn" binding:"required"`
	Modifications map[string][]string `json:"modifications" binding:"required"`
}

// EntryUpdate replaces attribute values.
func (d *Deps) EntryUpdate(ctx *gin.Context) {
	var req entryUpdateRequest

	if err := ctx.ShouldBindJSON(&req); err != nil {
		renderError(ctx, errors.Wrap(errors.KindBadRequest, "cluster, dn and modifications are required", err))

		return
	}

	if err := d.Service.Update(ctx.Request.Context(), req.Cluster, req.DN, req.Modifications); err != nil {
		renderError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "success", "dn": req.DN})
}

// EntryDelete removes an entry.
func (d *Deps) EntryDelete(ctx *gin.Context) {
	cluster := ctx.Query("cluster")
	dn := ctx.Query("dn")

	if cluster == "" || dn == "" {
		renderError(ctx, errors.New(errors.KindBadRequest, "cluster and dn query parameters are required"))

		return
	}

	if err := d.Service.Delete(ctx.Request.Context(), cluster, dn); err != nil {
		renderError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "success", "dn": dn})
}

// GroupsAll enumerates the cluster's groups.
func (d *Deps) GroupsAll(ctx *gin.Context) {
	cluster := ctx.Query("cluster")
	if cluster == "" {
		renderError(ctx, errors.New(errors.KindBadRequest, "cluster query parameter is required"))

		return
	}

	groups, err := d.Service.ListGroups(ctx.Request.Context(), cluster)
	if err != nil {
		renderError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, gin.H{"groups": groups})
}

// UserGroups returns the groups a user belongs to.
func (d *Deps) UserGroups(ctx *gin.Context) {
	cluster := ctx.Query("cluster")
	userDN := ctx.Query("user_dn")

	if cluster == "" || userDN == "" {
		renderError(ctx, errors.New(errors.KindBadRequest, "cluster and user_dn query parameters are required"))

		return
	}

	groups, err := d.Service.UserGroups(ctx.Request.Context(), cluster, userDN)
	if err != nil {
		renderError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user_dn": userDN, "groups": groups})
}

type membershipRequest struct {
	Cluster        string   `json:"cluster" binding:"required"`
	UserDN         string   `json:"user_dn" binding:"required"`
	GroupsToAdd    []string `json:"groups_to_add"`
	GroupsToRemove []string `json:"groups_to_remove"`
}

// SetUserGroups runs the membership transaction. Partial failure is a 200
// with status "partial" and the per-group error list.
func (d *Deps) SetUserGroups(ctx *gin.Context) {
	var req membershipRequest

	if err := ctx.ShouldBindJSON(&req); err != nil {
		renderError(ctx, errors.Wrap(errors.KindBadRequest, "cluster and user_dn are required", err))

		return
	}

	result, err := d.Service.SetUserGroups(ctx.Request.Context(), req.Cluster, req.UserDN, req.GroupsToAdd, req.GroupsToRemove)
	if err != nil {
		renderError(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, result)
}
