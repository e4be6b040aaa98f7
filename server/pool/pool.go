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

// Package pool maintains reusable authenticated LDAP sessions keyed by
// (cluster, host, port, bind DN). Sessions are checked out exclusively and
// returned either healthy (back to the idle list) or unhealthy (closed).
// Idle sessions expire after a TTL enforced both at checkout and by a
// background reaper.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/definitions"
	srverrors "github.com/dirwarden/dirwarden/server/errors"
	"github.com/dirwarden/dirwarden/server/log"
	"github.com/dirwarden/dirwarden/server/stats"

	"github.com/go-ldap/ldap/v3"
)

// Conn is the slice of *ldap.Conn behavior the pool and gateway depend on.
// Tests substitute mocks.
type Conn interface {
	Search(*ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(*ldap.AddRequest) error
	Modify(*ldap.ModifyRequest) error
	Del(*ldap.DelRequest) error
	SetTimeout(time.Duration)
	IsClosing() bool
	Unbind() error
	Close() error
}

// Key identifies a pool bucket: the fingerprint of a bind identity on a
// concrete node.
type Key struct {
	Cluster string
	Host    string
	Port    int
	BindDN  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s:%d/%s", k.Cluster, k.Host, k.Port, k.BindDN)
}

// NewKey builds a pool key for a node of a cluster.
func NewKey(cluster *config.Cluster, node config.Node) Key {
	return Key{
		Cluster: cluster.Name,
		Host:    node.Host,
		Port:    node.Port,
		BindDN:  cluster.BindDN,
	}
}

// Session is an exclusive borrow of one authenticated connection. It must be
// handed back through Pool.Release exactly once.
type Session struct {
	key       Key
	conn      Conn
	createdAt time.Time
	lastUsed  time.Time
}

// Conn exposes the underlying connection for the gateway.
func (s *Session) Conn() Conn {
	return s.conn
}

// Key returns the fingerprint the session belongs to.
func (s *Session) Key() Key {
	return s.key
}

// PasswordProvider resolves the bind password at acquire time. Backed by the
// credential vault in production.
type PasswordProvider func() (string, error)

// DialFunc opens and binds a fresh connection. Swapped out by tests.
type DialFunc func(ctx context.Context, key Key, password string) (Conn, error)

type bucket struct {
	mu sync.Mutex

	// idle is ordered oldest first; checkout pops from the tail so the
	// freshest session is reused.
	idle []*Session
}

// Pool is safe for concurrent acquire/release. The outer lock only guards
// bucket bookkeeping; connection creation serializes on the bucket lock so a
// burst of checkouts for one key does not stampede the LDAP server.
type Pool struct {
	mu      sync.RWMutex
	buckets map[Key]*bucket

	idleTTL    time.Duration
	netTimeout time.Duration
	opTimeout  time.Duration

	dial   DialFunc
	logger *slog.Logger

	drained bool

	// now is swapped out by tests to control TTL expiry.
	now func() time.Time
}

// Options configures a pool; zero values take the documented defaults.
type Options struct {
	IdleTTL    time.Duration
	NetTimeout time.Duration
	OpTimeout  time.Duration
	Dial       DialFunc
	Logger     *slog.Logger
}

// New creates an empty pool.
func New(opts Options) *Pool {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = definitions.DefaultPoolIdleTTL
	}

	if opts.NetTimeout <= 0 {
		opts.NetTimeout = definitions.DefaultNetTimeout
	}

	if opts.OpTimeout <= 0 {
		opts.OpTimeout = definitions.DefaultOpTimeout
	}

	p := &Pool{
		buckets:    make(map[Key]*bucket),
		idleTTL:    opts.IdleTTL,
		netTimeout: opts.NetTimeout,
		opTimeout:  opts.OpTimeout,
		dial:       opts.Dial,
		logger:     log.GetLogger(opts.Logger),
		now:        time.Now,
	}

	if p.dial == nil {
		p.dial = p.dialAndBind
	}

	return p
}

// dialAndBind is the production DialFunc: TCP dial with the network timeout,
// operation timeout on the live connection, then a simple bind.
func (p *Pool) dialAndBind(ctx context.Context, key Key, password string) (Conn, error) {
	dialer := &net.Dialer{Timeout: p.netTimeout}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < p.netTimeout {
			dialer.Timeout = remaining
		}
	}

	uri := fmt.Sprintf("ldap://%s:%d", key.Host, key.Port)

	conn, err := ldap.DialURL(uri, ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, err
	}

	conn.SetTimeout(p.opTimeout)

	if _, err = conn.SimpleBind(&ldap.SimpleBindRequest{
		Username: key.BindDN,
		Password: password,
	}); err != nil {
		conn.Close()

		return nil, fmt.Errorf("%w: %v", srverrors.ErrBindFailed, err)
	}

	return conn, nil
}

func (p *Pool) getBucket(key Key) *bucket {
	p.mu.RLock()
	b, ok := p.buckets[key]
	p.mu.RUnlock()

	if ok {
		return b
	}

	p.mu.Lock()

	defer p.mu.Unlock()

	if b, ok = p.buckets[key]; !ok {
		b = &bucket{}
		p.buckets[key] = b
	}

	return b
}

// Acquire hands out the freshest idle session for the key, or opens and binds
// a new one. Bind failures are never cached.
func (p *Pool) Acquire(ctx context.Context, key Key, provider PasswordProvider) (*Session, error) {
	p.mu.RLock()
	drained := p.drained
	p.mu.RUnlock()

	if drained {
		return nil, srverrors.ErrPoolDrained
	}

	b := p.getBucket(key)

	b.mu.Lock()

	defer b.mu.Unlock()

	for len(b.idle) > 0 {
		last := len(b.idle) - 1
		session := b.idle[last]
		b.idle = b.idle[:last]

		if p.expired(session) || session.conn.IsClosing() {
			p.closeSession(session, "idle ttl elapsed")

			continue
		}

		session.lastUsed = p.now()

		stats.GetMetrics().GetPoolAcquisitions().WithLabelValues(key.Cluster, "hit").Inc()
		stats.GetMetrics().GetPoolSessions().WithLabelValues(key.Cluster).Set(float64(len(b.idle)))

		p.logger.Debug("reusing pooled session", "key", key.String())

		return session, nil
	}

	password, err := provider()
	if err != nil {
		return nil, err
	}

	conn, err := p.dial(ctx, key, password)
	if err != nil {
		return nil, err
	}

	stats.GetMetrics().GetPoolAcquisitions().WithLabelValues(key.Cluster, "miss").Inc()

	p.logger.Debug("opened pooled session", "key", key.String())

	now := p.now()

	return &Session{key: key, conn: conn, createdAt: now, lastUsed: now}, nil
}

// Release returns a session. Healthy sessions go back on the idle list with a
// refreshed timestamp; unhealthy ones are closed and dropped.
func (p *Pool) Release(session *Session, healthy bool) {
	if session == nil {
		return
	}

	p.mu.RLock()
	drained := p.drained
	p.mu.RUnlock()

	if !healthy || drained {
		p.closeSession(session, "released unhealthy")

		return
	}

	session.lastUsed = p.now()

	b := p.getBucket(session.key)

	b.mu.Lock()
	b.idle = append(b.idle, session)
	idleCount := len(b.idle)
	b.mu.Unlock()

	stats.GetMetrics().GetPoolSessions().WithLabelValues(session.key.Cluster).Set(float64(idleCount))
}

func (p *Pool) expired(session *Session) bool {
	return p.now().Sub(session.lastUsed) > p.idleTTL
}

func (p *Pool) closeSession(session *Session, reason string) {
	_ = session.conn.Unbind()
	_ = session.conn.Close()

	p.logger.Debug("closed pooled session", "key", session.key.String(), "reason", reason)
}

// PoolStats is the bookkeeping snapshot exposed on the health endpoint.
type PoolStats struct {
	Buckets      int `json:"buckets"`
	IdleSessions int `json:"idle_sessions"`
}

// Stats counts buckets and idle sessions.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()

	defer p.mu.RUnlock()

	result := PoolStats{Buckets: len(p.buckets)}

	for _, b := range p.buckets {
		b.mu.Lock()
		result.IdleSessions += len(b.idle)
		b.mu.Unlock()
	}

	return result
}

// StartReaper removes idle-expired sessions in the background until the
// context is cancelled. Cadence is half the idle TTL.
func (p *Pool) StartReaper(ctx context.Context) {
	ticker := time.NewTicker(p.idleTTL / 2)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.reap()
			}
		}
	}()
}

func (p *Pool) reap() {
	p.mu.RLock()

	buckets := make(map[Key]*bucket, len(p.buckets))
	for key, b := range p.buckets {
		buckets[key] = b
	}

	p.mu.RUnlock()

	for key, b := range buckets {
		b.mu.Lock()

		kept := b.idle[:0]

		for _, session := range b.idle {
			if p.expired(session) {
				p.closeSession(session, "reaped")
			} else {
				kept = append(kept, session)
			}
		}

		b.idle = kept
		idleCount := len(b.idle)

		b.mu.Unlock()

		stats.GetMetrics().GetPoolSessions().WithLabelValues(key.Cluster).Set(float64(idleCount))
	}
}

// Drain closes every idle session and rejects further acquires. Called on
// shutdown.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.drained = true
	buckets := p.buckets
	p.buckets = make(map[Key]*bucket)
	p.mu.Unlock()

	for _, b := range buckets {
		b.mu.Lock()

		for _, session := range b.idle {
			p.closeSession(session, "pool drained")
		}

		b.idle = nil

		b.mu.Unlock()
	}

	p.logger.Info("connection pool drained")
}
