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

// Package monitor composes replication health signals. Every node is queried
// over a short-lived authenticated session so monitoring fan-out never
// displaces warm pooled sessions.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/definitions"
	"github.com/dirwarden/dirwarden/server/ldapgw"
	"github.com/dirwarden/dirwarden/server/log"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/sync/errgroup"
)

// csnTimestampLayout matches the leading timestamp of an OpenLDAP
// contextCSN: YYYYMMDDhhmmss.ffffffZ#...
const csnTimestampLayout = "20060102150405"

// csnSyncTolerance is how far CSN timestamps may drift while the cluster
// still counts as in sync.
const csnSyncTolerance = time.Second

// NodeSnapshot is the health picture of one node.
type NodeSnapshot struct {
	Node       string `json:"node"`
	Total      int    `json:"total"`
	Users      int    `json:"users"`
	Groups     int    `json:"groups"`
	OUs        int    `json:"ous"`
	Others     int    `json:"others"`
	Status     string `json:"status"`
	ContextCSN string `json:"contextCSN"`
	ResponseMS int64  `json:"response_ms"`
	SyncAgeS   int64  `json:"sync_age_s"`
	Error      string `json:"error,omitempty"`
}

// ClusterSnapshot aggregates the per-node snapshots.
type ClusterSnapshot struct {
	Nodes  []NodeSnapshot `json:"nodes"`
	InSync bool           `json:"in_sync"`
}

// Monitor walks cluster nodes for replication health.
type Monitor struct {
	gateway   *ldapgw.Gateway
	probeWait time.Duration
	logger    *slog.Logger

	// now is swapped out by tests.
	now func() time.Time
}

// New creates a monitor.
func New(gateway *ldapgw.Gateway, probeWait time.Duration, logger *slog.Logger) *Monitor {
	if probeWait <= 0 {
		probeWait = definitions.DefaultProbeWait
	}

	return &Monitor{
		gateway:   gateway,
		probeWait: probeWait,
		logger:    log.GetLogger(logger),
		now:       time.Now,
	}
}

// Snapshot queries every node concurrently and derives the cluster-level
// in_sync verdict from the set of contextCSN timestamps.
func (m *Monitor) Snapshot(ctx context.Context, clusterName string) (*ClusterSnapshot, error) {
	cluster, err := m.gateway.Cluster(clusterName)
	if err != nil {
		return nil, err
	}

	nodes := cluster.AllNodes()
	snapshots := make([]NodeSnapshot, len(nodes))

	group, groupCtx := errgroup.WithContext(ctx)

	for index, node := range nodes {
		group.Go(func() error {
			snapshots[index] = m.snapshotNode(groupCtx, cluster, node)

			return nil
		})
	}

	_ = group.Wait()

	return &ClusterSnapshot{
		Nodes:  snapshots,
		InSync: inSync(snapshots),
	}, nil
}

// snapshotNode times a connect+bind, counts the views and reads the suffix
// entry's contextCSN on one node.
func (m *Monitor) snapshotNode(ctx context.Context, cluster *config.Cluster, node config.Node) NodeSnapshot {
	snapshot := NodeSnapshot{Node: node.Label(), Status: "healthy"}

	start := m.now()

	conn, closeConn, err := m.gateway.OpenEphemeral(ctx, cluster, node)
	if err != nil {
		snapshot.Status = "error"
		snapshot.Error = err.Error()

		return snapshot
	}

	defer closeConn()

	snapshot.ResponseMS = m.now().Sub(start).Milliseconds()

	counts := []struct {
		filter string
		target *int
	}{
		{definitions.FilterAll, &snapshot.Total},
		{definitions.FilterUsers, &snapshot.Users},
		{definitions.FilterGroups, &snapshot.Groups},
		{definitions.FilterOUs, &snapshot.OUs},
	}

	for _, count := range counts {
		result, searchErr := conn.Search(ldap.NewSearchRequest(
			cluster.BaseDN,
			ldap.ScopeWholeSubtree,
			ldap.NeverDerefAliases,
			0,
			0,
			false,
			count.filter,
			[]string{"1.1"},
			nil,
		))
		if searchErr != nil {
			snapshot.Status = "error"
			snapshot.Error = searchErr.Error()

			return snapshot
		}

		*count.target = len(result.Entries)
	}

	snapshot.Others = snapshot.Total - snapshot.Users - snapshot.Groups - snapshot.OUs

	// contextCSN lives on the replicated suffix entry.
	csnResult, err := conn.Search(ldap.NewSearchRequest(
		cluster.BaseDN,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		definitions.FilterAll,
		[]string{"contextCSN"},
		nil,
	))
	if err != nil || len(csnResult.Entries) == 0 {
		m.logger.Debug("contextCSN not readable",
			definitions.LogKeyCluster, cluster.Name,
			definitions.LogKeyNode, node.String())

		return snapshot
	}

	values := csnResult.Entries[0].GetAttributeValues("contextCSN")
	if len(values) == 0 {
		return snapshot
	}

	// Multi-master suffixes carry one CSN per server ID; the newest one
	// reflects this node's replication progress.
	sort.Strings(values)
	snapshot.ContextCSN = values[len(values)-1]

	if csnTime, ok := parseCSNTimestamp(snapshot.ContextCSN); ok {
		snapshot.SyncAgeS = int64(m.now().UTC().Sub(csnTime) / time.Second)
	}

	return snapshot
}

// parseCSNTimestamp extracts the leading wall-clock timestamp of a CSN.
func parseCSNTimestamp(csn string) (time.Time, bool) {
	head := strings.SplitN(csn, "#", 2)[0]
	head = strings.TrimSuffix(head, "Z")

	if idx := strings.Index(head, "."); idx >= 0 {
		head = head[:idx]
	}

	if len(head) < len(csnTimestampLayout) {
		return time.Time{}, false
	}

	csnTime, err := time.Parse(csnTimestampLayout, head[:len(csnTimestampLayout)])
	if err != nil {
		return time.Time{}, false
	}

	return csnTime, true
}

// inSync is true when the CSN timestamps of all reachable nodes agree within
// the tolerance. A single reachable node (or none reporting a CSN) counts as
// in sync.
func inSync(snapshots []NodeSnapshot) bool {
	var times []time.Time

	healthy := 0

	for _, snapshot := range snapshots {
		if snapshot.Status != "healthy" {
			continue
		}

		healthy++

		if csnTime, ok := parseCSNTimestamp(snapshot.ContextCSN); ok {
			times = append(times, csnTime)
		}
	}

	if healthy == 0 {
		return false
	}

	if len(times) <= 1 {
		return true
	}

	earliest, latest := times[0], times[0]

	for _, t := range times[1:] {
		if t.Before(earliest) {
			earliest = t
		}

		if t.After(latest) {
			latest = t
		}
	}

	return latest.Sub(earliest) <= csnSyncTolerance
}
