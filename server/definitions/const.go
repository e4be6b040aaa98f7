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

package definitions

import "time"

// Log field keys shared by all packages.
const (
	LogKeyGUID      = "session"
	LogKeyInstance  = "instance"
	LogKeyCluster   = "cluster"
	LogKeyNode      = "node"
	LogKeyOperation = "operation"
	LogKeyDN        = "dn"
	LogKeyOutcome   = "outcome"
	LogKeyLatency   = "latency_ms"
	LogKeyMethod    = "method"
	LogKeyUriPath   = "path"
	LogKeyStatus    = "status"
	LogKeyClientIP  = "client_ip"
	LogKeyMsg       = "msg"
	LogKeyError     = "error"
)

// Log levels as configured through LOG_LEVEL.
const (
	LogLevelNone = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// Defaults for tunables that may be overridden through the environment.
const (
	DefaultHTTPPort = 8000

	// DefaultNetTimeout bounds dialing an LDAP node.
	DefaultNetTimeout = 30 * time.Second

	// DefaultOpTimeout bounds a single LDAP operation on an open connection.
	DefaultOpTimeout = 30 * time.Second

	// DefaultReachabilityTimeout is the TCP connect probe used by the node
	// selector before handing a node to a caller.
	DefaultReachabilityTimeout = 2 * time.Second

	// DefaultCredentialTTL is how long a cached bind password stays valid.
	DefaultCredentialTTL = time.Hour

	// DefaultPoolIdleTTL is how long an unused pooled session survives.
	DefaultPoolIdleTTL = 5 * time.Minute

	// DefaultProbeWait is the replication propagation wait of the write probe.
	DefaultProbeWait = 5 * time.Second

	// MaxPageSize clamps caller-requested page sizes on paged searches.
	MaxPageSize = 1000

	// UIDNumberFloor is the smallest uidNumber the next_uid generator hands out.
	UIDNumberFloor = 2000

	// UIDAllocationRetries caps retries after a server-side uidNumber collision.
	UIDAllocationRetries = 3
)

// Canonical view filters (directory service views).
const (
	FilterUsers  = "(|(objectClass=inetOrgPerson)(objectClass=posixAccount)(objectClass=account))"
	FilterGroups = "(|(objectClass=groupOfNames)(objectClass=groupOfUniqueNames)(objectClass=posixGroup))"
	FilterOUs    = "(objectClass=organizationalUnit)"
	FilterAll    = "(objectClass=*)"
)

// Vault file names below the secrets directory.
const (
	VaultKeyFile      = "vault.key"
	CredentialSuffix  = ".cred"
	CredentialVersion = 1
)
