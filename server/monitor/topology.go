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
	"net/url"
	"strings"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/definitions"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/sync/errgroup"
)

// ReplicationPeer is one syncrepl consumer relationship.
type ReplicationPeer struct {
	Host string `json:"host"`
	RID  string `json:"rid"`
}

// TopologyNode describes where one node pulls changes from.
type TopologyNode struct {
	Node      string            `json:"node"`
	ServerID  string            `json:"server_id,omitempty"`
	ReadsFrom []ReplicationPeer `json:"reads_from"`
}

// Topology reads the declared syncrepl graph from each node's cn=config.
// Nodes that refuse the config bind contribute an empty entry rather than
// failing the whole view.
func (m *Monitor) Topology(ctx context.Context, clusterName string) ([]TopologyNode, error) {
	cluster, err := m.gateway.Cluster(clusterName)
	if err != nil {
		return nil, err
	}

	nodes := cluster.AllNodes()
	if len(nodes) <= 1 {
		return []TopologyNode{}, nil
	}

	topology := make([]TopologyNode, len(nodes))

	group, groupCtx := errgroup.WithContext(ctx)

	for index, node := range nodes {
		group.Go(func() error {
			topology[index] = m.topologyNode(groupCtx, cluster, node)

			return nil
		})
	}

	_ = group.Wait()

	return topology, nil
}

func (m *Monitor) topologyNode(ctx context.Context, cluster *config.Cluster, node config.Node) TopologyNode {
	result := TopologyNode{Node: node.Label(), ReadsFrom: []ReplicationPeer{}}

	conn, closeConn, err := m.gateway.OpenEphemeralAs(ctx, cluster, node, "cn=config")
	if err != nil {
		m.logger.Debug("topology query skipped",
			definitions.LogKeyCluster, cluster.Name,
			definitions.LogKeyNode, node.String(),
			definitions.LogKeyError, err.Error())

		return result
	}

	defer closeConn()

	// olcServerID on the global config entry.
	if global, searchErr := conn.Search(ldap.NewSearchRequest(
		"cn=config",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		"(objectClass=olcGlobal)",
		[]string{"olcServerID"},
		nil,
	)); searchErr == nil && len(global.Entries) > 0 {
		if values := global.Entries[0].GetAttributeValues("olcServerID"); len(values) > 0 {
			result.ServerID = strings.Fields(values[0])[0]
		}
	}

	// Databases carrying a syncrepl stanza.
	databases, err := conn.Search(ldap.NewSearchRequest(
		"cn=config",
		ldap.ScopeSingleLevel,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		"(&(objectClass=olcDatabaseConfig)(olcSyncrepl=*))",
		[]string{"olcSyncrepl"},
		nil,
	))
	if err != nil {
		return result
	}

	for _, entry := range databases.Entries {
		for _, stanza := range entry.GetAttributeValues("olcSyncrepl") {
			if peer, ok := parseSyncreplStanza(stanza); ok {
				result.ReadsFrom = append(result.ReadsFrom, peer)
			}
		}
	}

	return result
}

// parseSyncreplStanza extracts rid and provider host from an olcSyncrepl
// value such as `rid=001 provider=ldap://node1:389 searchbase="dc=x" ...`.
func parseSyncreplStanza(stanza string) (ReplicationPeer, bool) {
	peer := ReplicationPeer{}

	for _, field := range strings.Fields(stanza) {
		switch {
		case strings.HasPrefix(field, "rid="):
			peer.RID = strings.TrimPrefix(field, "rid=")
		case strings.HasPrefix(field, "provider="):
			provider := strings.TrimPrefix(field, "provider=")

			if parsed, err := url.Parse(provider); err == nil && parsed.Host != "" {
				peer.Host = parsed.Hostname()
			} else {
				peer.Host = provider
			}
		}
	}

	return peer, peer.RID != "" && peer.Host != ""
}
