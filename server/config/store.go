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

package config

import "sync/atomic"

// Store publishes the active FileSettings tree. Reload swaps the whole tree
// atomically; in-flight operations keep the snapshot they started with.
type Store struct {
	ptr atomic.Pointer[FileSettings]
}

// NewStore creates a store holding the given settings.
func NewStore(settings *FileSettings) *Store {
	s := &Store{}
	s.ptr.Store(settings)

	return s
}

// Get returns the active settings snapshot.
func (s *Store) Get() *FileSettings {
	return s.ptr.Load()
}

// Swap publishes a new settings tree.
func (s *Store) Swap(settings *FileSettings) {
	s.ptr.Store(settings)
}
