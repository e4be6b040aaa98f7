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

// Package selector chooses the LDAP node that receives an operation.
//
// WRITE operations always target node index 0 (the primary master) and never
// fail over; this keeps a single-writer ordering on eventually consistent
// replica sets. READ operations walk the declared node order in reverse so
// load lands on replicas first. HEALTH checks target the master, with the
// full node list exposed for monitoring fan-out.
package selector

import (
	"log/slog"
	"net"
	"time"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/definitions"
	"github.com/dirwarden/dirwarden/server/errors"
	"github.com/dirwarden/dirwarden/server/log"

	gocache "github.com/patrickmn/go-cache"
)

// Dialer is the reachability probe. Swapped out by tests.
type Dialer func(network string, address string, timeout time.Duration) (net.Conn, error)

// Selector is stateless apart from a short-lived "known unreachable" cache
// that keeps a flapping node from being probed on every request. The cache
// TTL equals the probe timeout, so recovery is never masked longer than one
// probe interval.
type Selector struct {
	probeTimeout time.Duration
	unreachable  *gocache.Cache
	dial         Dialer
	logger       *slog.Logger
}

// New creates a selector with the default TCP probe.
func New(probeTimeout time.Duration, logger *slog.Logger) *Selector {
	if probeTimeout <= 0 {
		probeTimeout = definitions.DefaultReachabilityTimeout
	}

	return &Selector{
		probeTimeout: probeTimeout,
		unreachable:  gocache.New(probeTimeout, 2*probeTimeout),
		dial:         net.DialTimeout,
		logger:       log.GetLogger(logger),
	}
}

// SetDialer replaces the reachability probe. Intended for tests.
func (s *Selector) SetDialer(dial Dialer) {
	s.dial = dial
}

// Select returns the node that should receive an operation of the given
// class, or an error when no candidate is reachable.
func (s *Selector) Select(cluster *config.Cluster, class definitions.OperationClass) (config.Node, error) {
	nodes := cluster.AllNodes()
	if len(nodes) == 0 {
		return config.Node{}, errors.ErrNoNodes
	}

	switch class {
	case definitions.OpWrite:
		master := nodes[0]

		if !s.Reachable(master) {
			s.logger.Error("write node unreachable",
				definitions.LogKeyCluster, cluster.Name,
				definitions.LogKeyNode, master.String())

			return config.Node{}, errors.ErrWriteNodeDown
		}

		return master, nil

	case definitions.OpRead:
		// Last node first, master last.
		for index := len(nodes) - 1; index >= 0; index-- {
			if s.Reachable(nodes[index]) {
				s.logger.Debug("selected read node",
					definitions.LogKeyCluster, cluster.Name,
					definitions.LogKeyNode, nodes[index].String())

				return nodes[index], nil
			}

			s.logger.Warn("node unreachable, trying next",
				definitions.LogKeyCluster, cluster.Name,
				definitions.LogKeyNode, nodes[index].String())
		}

		return config.Node{}, errors.ErrNoReachableNode

	case definitions.OpHealth:
		return nodes[0], nil
	}

	return config.Node{}, errors.ErrUnknownOperation
}

// AllNodes returns the full topology for monitoring fan-out.
func (s *Selector) AllNodes(cluster *config.Cluster) []config.Node {
	return cluster.AllNodes()
}

// Reachable performs a best-effort L4 connect check. A failed probe is
// remembered for one probe interval; a successful one clears the mark.
func (s *Selector) Reachable(node config.Node) bool {
	address := node.String()

	if _, found := s.unreachable.Get(address); found {
		return false
	}

	conn, err := s.dial("tcp", address, s.probeTimeout)
	if err != nil {
		s.unreachable.SetDefault(address, struct{}{})

		return false
	}

	_ = conn.Close()

	s.unreachable.Delete(address)

	return true
}
