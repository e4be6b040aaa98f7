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

package selector

import (
	"net"
	"testing"
	"time"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/definitions"
	"github.com/dirwarden/dirwarden/server/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDialer marks specific addresses as down and records every probe.
type fakeDialer struct {
	down   map[string]bool
	probes []string
}

func (f *fakeDialer) dial(_ string, address string, _ time.Duration) (net.Conn, error) {
	f.probes = append(f.probes, address)

	if f.down[address] {
		return nil, &net.OpError{Op: "dial", Err: assertErr{}}
	}

	client, server := net.Pipe()

	go server.Close()

	return client, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "connection refused" }

func threeNodeCluster() *config.Cluster {
	return &config.Cluster{
		Name:   "c1",
		BindDN: "cn=admin,dc=x",
		BaseDN: "dc=x",
		Nodes: []config.Node{
			{Host: "a", Port: 389},
			{Host: "b", Port: 389},
			{Host: "c", Port: 389},
		},
	}
}

func newTestSelector(down ...string) (*Selector, *fakeDialer) {
	dialer := &fakeDialer{down: map[string]bool{}}

	for _, address := range down {
		dialer.down[address] = true
	}

	s := New(10*time.Millisecond, nil)
	s.SetDialer(dialer.dial)

	return s, dialer
}

func TestReadPrefersLastNode(t *testing.T) {
	s, _ := newTestSelector()

	node, err := s.Select(threeNodeCluster(), definitions.OpRead)
	require.NoError(t, err)
	assert.Equal(t, "c:389", node.String())
}

func TestReadFailoverChain(t *testing.T) {
	cluster := threeNodeCluster()

	// c down: fall back to b.
	s, _ := newTestSelector("c:389")

	node, err := s.Select(cluster, definitions.OpRead)
	require.NoError(t, err)
	assert.Equal(t, "b:389", node.String())

	// c and b down: only the master remains.
	s, _ = newTestSelector("c:389", "b:389")

	node, err = s.Select(cluster, definitions.OpRead)
	require.NoError(t, err)
	assert.Equal(t, "a:389", node.String())

	// everything down: typed failure.
	s, _ = newTestSelector("a:389", "b:389", "c:389")

	_, err = s.Select(cluster, definitions.OpRead)
	assert.ErrorIs(t, err, errors.ErrNoReachableNode)
}

func TestWritePinnedToMaster(t *testing.T) {
	s, dialer := newTestSelector()

	node, err := s.Select(threeNodeCluster(), definitions.OpWrite)
	require.NoError(t, err)
	assert.Equal(t, "a:389", node.String())

	// The write path never probes the replicas.
	for _, probe := range dialer.probes {
		assert.Equal(t, "a:389", probe)
	}
}

func TestWriteNeverFailsOver(t *testing.T) {
	s, dialer := newTestSelector("a:389")

	_, err := s.Select(threeNodeCluster(), definitions.OpWrite)
	assert.ErrorIs(t, err, errors.ErrWriteNodeDown)

	for _, probe := range dialer.probes {
		assert.NotEqual(t, "b:389", probe)
		assert.NotEqual(t, "c:389", probe)
	}
}

func TestHealthTargetsMaster(t *testing.T) {
	s, _ := newTestSelector()

	node, err := s.Select(threeNodeCluster(), definitions.OpHealth)
	require.NoError(t, err)
	assert.Equal(t, "a:389", node.String())
}

func TestSingleHostCluster(t *testing.T) {
	s, _ := newTestSelector()

	cluster := &config.Cluster{Name: "solo", Host: "ldap.example.org", BindDN: "cn=admin", BaseDN: "dc=x"}

	node, err := s.Select(cluster, definitions.OpRead)
	require.NoError(t, err)
	assert.Equal(t, "ldap.example.org:389", node.String())

	assert.Len(t, s.AllNodes(cluster), 1)
}

func TestUnreachableCacheExpires(t *testing.T) {
	s, dialer := newTestSelector("c:389")

	cluster := threeNodeCluster()

	_, err := s.Select(cluster, definitions.OpRead)
	require.NoError(t, err)

	probesAfterFirst := len(dialer.probes)

	// Within the cache window the down node is not probed again.
	_, err = s.Select(cluster, definitions.OpRead)
	require.NoError(t, err)

	for _, probe := range dialer.probes[probesAfterFirst:] {
		assert.NotEqual(t, "c:389", probe)
	}

	// After the interval the node recovers and is probed again.
	dialer.down["c:389"] = false

	time.Sleep(25 * time.Millisecond)

	node, err := s.Select(cluster, definitions.OpRead)
	require.NoError(t, err)
	assert.Equal(t, "c:389", node.String())
}

func TestNoNodes(t *testing.T) {
	s, _ := newTestSelector()

	_, err := s.Select(&config.Cluster{Name: "empty"}, definitions.OpRead)
	assert.ErrorIs(t, err, errors.ErrNoNodes)
}
