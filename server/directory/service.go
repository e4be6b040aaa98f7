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

// Package directory is the use-case layer above the LDAP gateway: paginated
// listings, entry CRUD, group membership transactions and per-view counts.
// Every write is audit-logged with cluster, DN, operation and outcome.
package directory

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/definitions"
	"github.com/dirwarden/dirwarden/server/errors"
	"github.com/dirwarden/dirwarden/server/ldapgw"
	"github.com/dirwarden/dirwarden/server/log"

	"github.com/go-ldap/ldap/v3"
)

// Service exposes the directory use cases.
type Service struct {
	gateway *ldapgw.Gateway
	logger  *slog.Logger
}

// NewService creates the use-case layer.
func NewService(gateway *ldapgw.Gateway, logger *slog.Logger) *Service {
	return &Service{gateway: gateway, logger: log.GetLogger(logger)}
}

// audit emits the structured audit record for a write operation.
func (s *Service) audit(cluster string, dn string, operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}

	attrs := []any{
		definitions.LogKeyCluster, cluster,
		definitions.LogKeyDN, dn,
		definitions.LogKeyOperation, operation,
		definitions.LogKeyOutcome, outcome,
	}

	if operation == "DELETE" {
		s.logger.Warn("directory entry deleted", attrs...)
	} else {
		s.logger.Info("directory write", attrs...)
	}
}

// checkWritable rejects writes to read-only clusters.
func (s *Service) checkWritable(clusterName string) (*config.Cluster, error) {
	cluster, err := s.gateway.Cluster(clusterName)
	if err != nil {
		return nil, err
	}

	if cluster.Readonly {
		return nil, errors.New(errors.KindForbidden, "cluster is read-only")
	}

	return cluster, nil
}

// EntryStats counts entries per view without fetching them.
type EntryStats struct {
	Total  int `json:"total"`
	Users  int `json:"users"`
	Groups int `json:"groups"`
	OUs    int `json:"ous"`
	Other  int `json:"other"`
}

// Stats returns the per-view entry counts of a cluster.
func (s *Service) Stats(ctx context.Context, clusterName string) (*EntryStats, error) {
	cluster, err := s.gateway.Cluster(clusterName)
	if err != nil {
		return nil, err
	}

	result := &EntryStats{}

	counts := []struct {
		filter string
		target *int
	}{
		{definitions.FilterAll, &result.Total},
		{definitions.FilterUsers, &result.Users},
		{definitions.FilterGroups, &result.Groups},
		{definitions.FilterOUs, &result.OUs},
	}

	for _, count := range counts {
		n, countErr := s.gateway.CountEntries(ctx, clusterName, cluster.BaseDN, count.filter)
		if countErr != nil {
			return nil, countErr
		}

		*count.target = n
	}

	result.Other = result.Total - result.Users - result.Groups - result.OUs

	return result, nil
}

// ListRequest parameterizes a paginated view listing.
type ListRequest struct {
	Cluster  string
	View     definitions.View
	Page     int
	PageSize int
	Query    string

	// ConsistentRead forces the listing onto the write node for
	// read-after-write consistency.
	ConsistentRead bool
}

// ListResult is one page of a view listing. Total is exact when the count
// query completed within the server limits and a lower bound otherwise.
type ListResult struct {
	Entries  []*ldapgw.Entry `json:"entries"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
	HasMore  bool            `json:"has_more"`
}

// List walks the paged enumeration up to the requested page. LDAP paging has
// no random access, so earlier pages are fetched and discarded.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	cluster, err := s.gateway.Cluster(req.Cluster)
	if err != nil {
		return nil, err
	}

	if req.Page < 1 {
		req.Page = 1
	}

	if req.PageSize < 1 {
		req.PageSize = 10
	}

	filter, ok := ldapgw.ViewSearchFilter(req.View, req.Query, cluster.GetSearchAttributes())
	if !ok {
		return nil, errors.New(errors.KindBadRequest, "unknown view")
	}

	iterator, err := s.gateway.SearchPaged(ctx, req.Cluster, ldapgw.PagedSearchOptions{
		BaseDN:         cluster.BaseDN,
		Scope:          ldap.ScopeWholeSubtree,
		Filter:         filter,
		Attributes:     []string{"*", "+"},
		PageSize:       uint32(req.PageSize),
		MaxPages:       req.Page,
		ConsistentRead: req.ConsistentRead,
	})
	if err != nil {
		return nil, err
	}

	defer iterator.Close()

	result := &ListResult{
		Entries:  []*ldapgw.Entry{},
		Page:     req.Page,
		PageSize: req.PageSize,
	}

	for {
		entries, more, nextErr := iterator.Next(ctx)
		if nextErr != nil {
			return nil, nextErr
		}

		if !more {
			break
		}

		if iterator.Page() == req.Page {
			result.Entries = entries

			break
		}
	}

	result.HasMore = iterator.HasMore()

	// Exact-if-cheap total: one DN-only count query. Past the server's size
	// limit this degrades to a lower bound.
	total, err := s.gateway.CountEntries(ctx, req.Cluster, cluster.BaseDN, filter)
	if err != nil {
		return nil, err
	}

	seen := (req.Page-1)*req.PageSize + len(result.Entries)
	if total < seen {
		total = seen
	}

	result.Total = total

	return result, nil
}

// Create adds an entry, resolving the cluster's declarative placeholders.
func (s *Service) Create(ctx context.Context, clusterName string, dn string, attributes map[string][]string) error {
	if _, err := s.checkWritable(clusterName); err != nil {
		return err
	}

	err := s.gateway.CreateWithTemplate(ctx, clusterName, dn, attributes)

	s.audit(clusterName, dn, "CREATE", err)

	return err
}

// Update replaces attribute values on an entry. Password changes on shadow
// accounts also bump shadowLastChange.
func (s *Service) Update(ctx context.Context, clusterName string, dn string, changes map[string][]string) error {
	if _, err := s.checkWritable(clusterName); err != nil {
		return err
	}

	if _, touchesPassword := changes["userPassword"]; touchesPassword {
		s.maybeSetShadowLastChange(ctx, clusterName, dn, changes)
	}

	err := s.gateway.Modify(ctx, clusterName, dn, changes)

	s.audit(clusterName, dn, "UPDATE", err)

	return err
}

// maybeSetShadowLastChange adds shadowLastChange when the target entry is a
// shadowAccount. Failures to inspect the entry are ignored; the update
// proceeds without the bookkeeping attribute.
func (s *Service) maybeSetShadowLastChange(ctx context.Context, clusterName string, dn string, changes map[string][]string) {
	entry, err := s.gateway.ReadEntry(ctx, clusterName, dn, []string{"objectClass"}, true)
	if err != nil {
		return
	}

	for _, class := range entry.Attributes["objectClass"] {
		if strings.EqualFold(class, "shadowAccount") {
			days := int(time.Now().UTC().Unix() / 86400)
			changes["shadowLastChange"] = []string{strconv.Itoa(days)}

			return
		}
	}
}

// Delete removes an entry.
func (s *Service) Delete(ctx context.Context, clusterName string, dn string) error {
	if _, err := s.checkWritable(clusterName); err != nil {
		return err
	}

	err := s.gateway.Delete(ctx, clusterName, dn)

	s.audit(clusterName, dn, "DELETE", err)

	return err
}

// ListGroups enumerates all groups of a cluster.
func (s *Service) ListGroups(ctx context.Context, clusterName string) ([]*ldapgw.Entry, error) {
	cluster, err := s.gateway.Cluster(clusterName)
	if err != nil {
		return nil, err
	}

	return s.gateway.Search(ctx, clusterName, ldapgw.SearchOptions{
		BaseDN:     cluster.BaseDN,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     definitions.FilterGroups,
		Attributes: []string{"cn", "description", "objectClass"},
	})
}

// UserGroups returns the groups that reference the user through any of the
// common membership attributes.
func (s *Service) UserGroups(ctx context.Context, clusterName string, userDN string) ([]*ldapgw.Entry, error) {
	cluster, err := s.gateway.Cluster(clusterName)
	if err != nil {
		return nil, err
	}

	return s.gateway.Search(ctx, clusterName, ldapgw.SearchOptions{
		BaseDN:     cluster.BaseDN,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     membershipFilter(userDN),
		Attributes: []string{"cn", "description", "objectClass"},
	})
}

// membershipFilter matches groups holding the user either by DN or, for
// posixGroup, by the uid taken from the DN's first RDN.
func membershipFilter(userDN string) string {
	return ldapgw.Or(
		ldapgw.Equals("member", userDN),
		ldapgw.Equals("uniqueMember", userDN),
		ldapgw.Equals("memberUid", rdnValue(userDN)),
	)
}

// rdnValue extracts the value of the first RDN, falling back to the raw DN.
func rdnValue(dn string) string {
	first := strings.SplitN(dn, ",", 2)[0]

	if idx := strings.Index(first, "="); idx >= 0 {
		return first[idx+1:]
	}

	return dn
}
