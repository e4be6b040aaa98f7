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

package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	srverrors "github.com/dirwarden/dirwarden/server/errors"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	mu      sync.Mutex
	closed  bool
	unbinds int32
}

func (m *mockConn) Search(*ldap.SearchRequest) (*ldap.SearchResult, error) {
	return &ldap.SearchResult{}, nil
}

func (m *mockConn) Add(*ldap.AddRequest) error       { return nil }
func (m *mockConn) Modify(*ldap.ModifyRequest) error { return nil }
func (m *mockConn) Del(*ldap.DelRequest) error       { return nil }
func (m *mockConn) SetTimeout(time.Duration)         {}

func (m *mockConn) IsClosing() bool {
	m.mu.Lock()

	defer m.mu.Unlock()

	return m.closed
}

func (m *mockConn) Unbind() error {
	atomic.AddInt32(&m.unbinds, 1)

	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	return nil
}

type dialRecorder struct {
	mu    sync.Mutex
	conns []*mockConn
	err   error
}

func (d *dialRecorder) dial(_ context.Context, _ Key, _ string) (Conn, error) {
	d.mu.Lock()

	defer d.mu.Unlock()

	if d.err != nil {
		return nil, d.err
	}

	conn := &mockConn{}
	d.conns = append(d.conns, conn)

	return conn, nil
}

func (d *dialRecorder) count() int {
	d.mu.Lock()

	defer d.mu.Unlock()

	return len(d.conns)
}

func staticPassword() (string, error) { return "pw", nil }

func testKey() Key {
	return Key{Cluster: "c1", Host: "a", Port: 389, BindDN: "cn=admin,dc=x"}
}

func newTestPool(dialer *dialRecorder, idleTTL time.Duration) *Pool {
	return New(Options{IdleTTL: idleTTL, Dial: dialer.dial})
}

func TestAcquireReusesReleasedSession(t *testing.T) {
	dialer := &dialRecorder{}
	p := newTestPool(dialer, time.Minute)

	session, err := p.Acquire(context.Background(), testKey(), staticPassword)
	require.NoError(t, err)

	p.Release(session, true)

	again, err := p.Acquire(context.Background(), testKey(), staticPassword)
	require.NoError(t, err)

	assert.Same(t, session, again)
	assert.Equal(t, 1, dialer.count())
}

func TestUnhealthyReleaseClosesSession(t *testing.T) {
	dialer := &dialRecorder{}
	p := newTestPool(dialer, time.Minute)

	session, err := p.Acquire(context.Background(), testKey(), staticPassword)
	require.NoError(t, err)

	p.Release(session, false)

	assert.True(t, dialer.conns[0].IsClosing())

	_, err = p.Acquire(context.Background(), testKey(), staticPassword)
	require.NoError(t, err)
	assert.Equal(t, 2, dialer.count())
}

func TestIdleTTLExpiresAtCheckout(t *testing.T) {
	dialer := &dialRecorder{}
	p := newTestPool(dialer, time.Minute)

	base := time.Now()
	p.now = func() time.Time { return base }

	session, err := p.Acquire(context.Background(), testKey(), staticPassword)
	require.NoError(t, err)

	p.Release(session, true)

	// Past the idle TTL the stale session is destroyed before checkout.
	p.now = func() time.Time { return base.Add(2 * time.Minute) }

	fresh, err := p.Acquire(context.Background(), testKey(), staticPassword)
	require.NoError(t, err)

	assert.NotSame(t, session, fresh)
	assert.True(t, dialer.conns[0].IsClosing())
	assert.Equal(t, 2, dialer.count())
}

func TestSessionsNotSharedAcrossKeys(t *testing.T) {
	dialer := &dialRecorder{}
	p := newTestPool(dialer, time.Minute)

	first, err := p.Acquire(context.Background(), testKey(), staticPassword)
	require.NoError(t, err)

	p.Release(first, true)

	otherKey := testKey()
	otherKey.BindDN = "cn=other,dc=x"

	second, err := p.Acquire(context.Background(), otherKey, staticPassword)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, dialer.count())
}

func TestBindFailureIsNotCached(t *testing.T) {
	dialer := &dialRecorder{err: srverrors.ErrBindFailed}
	p := newTestPool(dialer, time.Minute)

	_, err := p.Acquire(context.Background(), testKey(), staticPassword)
	assert.ErrorIs(t, err, srverrors.ErrBindFailed)

	assert.Equal(t, 0, p.Stats().IdleSessions)
}

func TestPasswordProviderErrorPropagates(t *testing.T) {
	dialer := &dialRecorder{}
	p := newTestPool(dialer, time.Minute)

	_, err := p.Acquire(context.Background(), testKey(), func() (string, error) {
		return "", srverrors.ErrCredentialAbsent
	})
	assert.ErrorIs(t, err, srverrors.ErrCredentialAbsent)
	assert.Equal(t, 0, dialer.count())
}

func TestConcurrentAcquireRelease(t *testing.T) {
	dialer := &dialRecorder{}
	p := newTestPool(dialer, time.Minute)

	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			session, err := p.Acquire(context.Background(), testKey(), staticPassword)
			if assert.NoError(t, err) {
				p.Release(session, true)
			}
		}()
	}

	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, 1, stats.Buckets)
	assert.Equal(t, dialer.count(), stats.IdleSessions)
}

func TestReap(t *testing.T) {
	dialer := &dialRecorder{}
	p := newTestPool(dialer, time.Minute)

	base := time.Now()
	p.now = func() time.Time { return base }

	session, err := p.Acquire(context.Background(), testKey(), staticPassword)
	require.NoError(t, err)

	p.Release(session, true)

	p.now = func() time.Time { return base.Add(2 * time.Minute) }
	p.reap()

	assert.Equal(t, 0, p.Stats().IdleSessions)
	assert.True(t, dialer.conns[0].IsClosing())
}

func TestDrain(t *testing.T) {
	dialer := &dialRecorder{}
	p := newTestPool(dialer, time.Minute)

	session, err := p.Acquire(context.Background(), testKey(), staticPassword)
	require.NoError(t, err)

	p.Release(session, true)
	p.Drain()

	assert.True(t, dialer.conns[0].IsClosing())

	_, err = p.Acquire(context.Background(), testKey(), staticPassword)
	assert.ErrorIs(t, err, srverrors.ErrPoolDrained)
}
