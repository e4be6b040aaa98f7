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

// OperationClass drives node selection. WRITE operations are pinned to the
// primary master; READ operations prefer replicas; HEALTH checks either target
// the master or fan out across all nodes.
type OperationClass int

const (
	OpRead OperationClass = iota
	OpWrite
	OpHealth
)

func (o OperationClass) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpHealth:
		return "health"
	default:
		return "unknown"
	}
}

// View selects one of the canonical directory listings.
type View string

const (
	ViewUsers  View = "users"
	ViewGroups View = "groups"
	ViewOUs    View = "ous"
	ViewAll    View = "all"
)

// Filter returns the canonical base filter for the view. Unknown views return
// an empty string; callers treat that as a bad request.
func (v View) Filter() string {
	switch v {
	case ViewUsers:
		return FilterUsers
	case ViewGroups:
		return FilterGroups
	case ViewOUs:
		return FilterOUs
	case ViewAll, "":
		return FilterAll
	default:
		return ""
	}
}
