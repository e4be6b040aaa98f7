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

package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/definitions"

	"github.com/go-ldap/ldap/v3"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"
)

// ProbeNodeResult reports whether one replica observed the probe entry.
type ProbeNodeResult struct {
	Node       string `json:"node"`
	Replicated bool   `json:"replicated"`
	Error      string `json:"error,omitempty"`
}

// ProbeResult is the outcome of a write-propagation test.
type ProbeResult struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	LatencyMS int64             `json:"latency_ms"`
	Results   []ProbeNodeResult `json:"results,omitempty"`
}

// Probe creates a temporary entry on the primary master, waits a bounded
// interval, and reads it back on every replica. Cleanup is best-effort with
// one retry; an orphaned probe DN is logged for external cleanup.
func (m *Monitor) Probe(ctx context.Context, clusterName string) (*ProbeResult, error) {
	cluster, err := m.gateway.Cluster(clusterName)
	if err != nil {
		return nil, err
	}

	nodes := cluster.AllNodes()
	if len(nodes) < 2 {
		return &ProbeResult{
			Success: false,
			Message: "need at least 2 nodes for a replication probe",
		}, nil
	}

	master := nodes[0]
	probeID := "repl-probe-" + ksuid.New().String()
	probeDN := fmt.Sprintf("cn=%s,%s", probeID, cluster.BaseDN)

	start := m.now()

	if err = m.createProbeEntry(ctx, cluster, master, probeDN, probeID); err != nil {
		return &ProbeResult{
			Success: false,
			Message: fmt.Sprintf("failed to create probe entry: %v", err),
		}, nil
	}

	// Give syncrepl time to propagate.
	select {
	case <-ctx.Done():
	case <-time.After(m.probeWait):
	}

	results := make([]ProbeNodeResult, len(nodes)-1)

	group, groupCtx := errgroup.WithContext(ctx)

	for index, node := range nodes[1:] {
		group.Go(func() error {
			results[index] = m.readProbeEntry(groupCtx, cluster, node, probeDN)

			return nil
		})
	}

	_ = group.Wait()

	m.cleanupProbeEntry(ctx, cluster, master, probeDN)

	success := true

	for _, result := range results {
		if !result.Replicated {
			success = false

			break
		}
	}

	message := "replication working"
	if !success {
		message = "replication failed on some nodes"
	}

	return &ProbeResult{
		Success:   success,
		Message:   message,
		LatencyMS: m.now().Sub(start).Milliseconds(),
		Results:   results,
	}, nil
}

func (m *Monitor) createProbeEntry(ctx context.Context, cluster *config.Cluster, master config.Node, probeDN string, probeID string) error {
	conn, closeConn, err := m.gateway.OpenEphemeral(ctx, cluster, master)
	if err != nil {
		return err
	}

	defer closeConn()

	request := ldap.NewAddRequest(probeDN, nil)
	request.Attribute("objectClass", []string{"organizationalRole"})
	request.Attribute("cn", []string{probeID})
	request.Attribute("description", []string{"replication health check"})

	return conn.Add(request)
}

func (m *Monitor) readProbeEntry(ctx context.Context, cluster *config.Cluster, node config.Node, probeDN string) ProbeNodeResult {
	result := ProbeNodeResult{Node: node.Label()}

	conn, closeConn, err := m.gateway.OpenEphemeral(ctx, cluster, node)
	if err != nil {
		result.Error = err.Error()

		return result
	}

	defer closeConn()

	searchResult, err := conn.Search(ldap.NewSearchRequest(
		probeDN,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		definitions.FilterAll,
		[]string{"cn"},
		nil,
	))
	if err != nil {
		result.Error = err.Error()

		return result
	}

	result.Replicated = len(searchResult.Entries) > 0

	return result
}

// cleanupProbeEntry deletes the probe entry on the master, retrying once. An
// entry that survives both attempts is reported so an operator can remove it.
func (m *Monitor) cleanupProbeEntry(ctx context.Context, cluster *config.Cluster, master config.Node, probeDN string) {
	deleteOnce := func() error {
		conn, closeConn, err := m.gateway.OpenEphemeral(ctx, cluster, master)
		if err != nil {
			return err
		}

		defer closeConn()

		return conn.Del(ldap.NewDelRequest(probeDN, nil))
	}

	err := deleteOnce()
	if err != nil {
		err = deleteOnce()
	}

	if err != nil {
		m.logger.Error("probe entry left behind, manual cleanup required",
			definitions.LogKeyCluster, cluster.Name,
			definitions.LogKeyDN, probeDN,
			definitions.LogKeyError, err.Error())
	}
}
