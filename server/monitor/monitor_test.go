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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSNTimestamp(t *testing.T) {
	csnTime, ok := parseCSNTimestamp("20260119194719.531790Z#000000#001#000000")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 19, 19, 47, 19, 0, time.UTC), csnTime)

	csnTime, ok = parseCSNTimestamp("20240101000000.000000Z#000000#002#000000")
	require.True(t, ok)
	assert.Equal(t, 2024, csnTime.Year())

	_, ok = parseCSNTimestamp("")
	assert.False(t, ok)

	_, ok = parseCSNTimestamp("garbage")
	assert.False(t, ok)

	_, ok = parseCSNTimestamp("2026011")
	assert.False(t, ok)
}

func csnAt(t time.Time, sid string) string {
	return t.UTC().Format("20060102150405") + ".000000Z#000000#" + sid + "#000000"
}

func TestInSync(t *testing.T) {
	base := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		snapshots []NodeSnapshot
		expected  bool
	}{
		{
			name:      "no_nodes",
			snapshots: nil,
			expected:  false,
		},
		{
			name: "single_node_without_csn",
			snapshots: []NodeSnapshot{
				{Status: "healthy"},
			},
			expected: true,
		},
		{
			name: "single_reachable_node",
			snapshots: []NodeSnapshot{
				{Status: "healthy", ContextCSN: csnAt(base, "001")},
				{Status: "error"},
			},
			expected: true,
		},
		{
			name: "identical_timestamps",
			snapshots: []NodeSnapshot{
				{Status: "healthy", ContextCSN: csnAt(base, "001")},
				{Status: "healthy", ContextCSN: csnAt(base, "002")},
			},
			expected: true,
		},
		{
			name: "within_tolerance",
			snapshots: []NodeSnapshot{
				{Status: "healthy", ContextCSN: csnAt(base, "001")},
				{Status: "healthy", ContextCSN: csnAt(base.Add(time.Second), "002")},
			},
			expected: true,
		},
		{
			name: "diverged",
			snapshots: []NodeSnapshot{
				{Status: "healthy", ContextCSN: csnAt(base, "001")},
				{Status: "healthy", ContextCSN: csnAt(base.Add(30*time.Second), "002")},
			},
			expected: false,
		},
		{
			name: "all_unreachable",
			snapshots: []NodeSnapshot{
				{Status: "error"},
				{Status: "error"},
			},
			expected: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, inSync(tc.snapshots))
		})
	}
}

func TestParseSyncreplStanza(t *testing.T) {
	peer, ok := parseSyncreplStanza(`rid=001 provider=ldap://ldap1.example.org:389 searchbase="dc=example,dc=org" type=refreshAndPersist`)
	require.True(t, ok)
	assert.Equal(t, "001", peer.RID)
	assert.Equal(t, "ldap1.example.org", peer.Host)

	peer, ok = parseSyncreplStanza(`rid=002 provider=ldaps://ldap2.example.org bindmethod=simple`)
	require.True(t, ok)
	assert.Equal(t, "ldap2.example.org", peer.Host)

	_, ok = parseSyncreplStanza(`searchbase="dc=x" type=refreshOnly`)
	assert.False(t, ok)

	_, ok = parseSyncreplStanza("")
	assert.False(t, ok)
}
