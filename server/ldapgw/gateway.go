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

// Package ldapgw wraps the raw LDAP protocol in typed operations: escaped
// filters, paged searches, single-target mutations and rootDSE reads. It owns
// node selection and session checkout so callers above it never touch a
// connection directly.
package ldapgw

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/definitions"
	"github.com/dirwarden/dirwarden/server/errors"
	"github.com/dirwarden/dirwarden/server/log"
	"github.com/dirwarden/dirwarden/server/pool"
	"github.com/dirwarden/dirwarden/server/selector"
	"github.com/dirwarden/dirwarden/server/stats"
	"github.com/dirwarden/dirwarden/server/vault"

	"github.com/go-ldap/ldap/v3"
)

// Entry is a directory entry: DN plus attribute map. Multi-valued attributes
// preserve server order.
type Entry struct {
	DN         string              `json:"dn"`
	Attributes map[string][]string `json:"attributes"`
}

func entryFromLDAP(raw *ldap.Entry) *Entry {
	entry := &Entry{
		DN:         raw.DN,
		Attributes: make(map[string][]string, len(raw.Attributes)),
	}

	for _, attribute := range raw.Attributes {
		entry.Attributes[attribute.Name] = attribute.Values
	}

	return entry
}

// Gateway executes typed LDAP operations against configured clusters.
type Gateway struct {
	settings *config.Store
	selector *selector.Selector
	pool     *pool.Pool
	vault    *vault.Vault

	netTimeout time.Duration
	opTimeout  time.Duration

	logger *slog.Logger

	// uidLocks serializes next_uid allocation per cluster.
	uidLocks sync.Map
}

// Options wires the gateway's collaborators.
type Options struct {
	Settings   *config.Store
	Selector   *selector.Selector
	Pool       *pool.Pool
	Vault      *vault.Vault
	NetTimeout time.Duration
	OpTimeout  time.Duration
	Logger     *slog.Logger
}

// New creates a gateway.
func New(opts Options) *Gateway {
	if opts.NetTimeout <= 0 {
		opts.NetTimeout = definitions.DefaultNetTimeout
	}

	if opts.OpTimeout <= 0 {
		opts.OpTimeout = definitions.DefaultOpTimeout
	}

	return &Gateway{
		settings:   opts.Settings,
		selector:   opts.Selector,
		pool:       opts.Pool,
		vault:      opts.Vault,
		netTimeout: opts.NetTimeout,
		opTimeout:  opts.OpTimeout,
		logger:     log.GetLogger(opts.Logger),
	}
}

// Cluster resolves a cluster by name.
func (g *Gateway) Cluster(name string) (*config.Cluster, error) {
	cluster := g.settings.Get().GetCluster(name)
	if cluster == nil {
		return nil, errors.Wrap(errors.KindNotFound, "cluster not found", errors.ErrUnknownCluster)
	}

	return cluster, nil
}

// passwordProvider returns the vault-backed password source for a cluster.
func (g *Gateway) passwordProvider(cluster *config.Cluster) pool.PasswordProvider {
	return func() (string, error) {
		password, err := g.vault.Load(cluster.Name)
		if err != nil {
			if vault.ErrIsAbsent(err) {
				return "", errors.Wrap(errors.KindAuthFailed, "password not configured", err)
			}

			return "", errors.Wrap(errors.KindInternal, "credential storage failure", err)
		}

		return password, nil
	}
}

// acquire selects a node for the operation class and checks out a session.
func (g *Gateway) acquire(ctx context.Context, cluster *config.Cluster, class definitions.OperationClass) (*pool.Session, config.Node, error) {
	node, err := g.selector.Select(cluster, class)
	if err != nil {
		return nil, config.Node{}, errors.Wrap(errors.KindServiceUnavailable, "no reachable node", err)
	}

	session, err := g.pool.Acquire(ctx, pool.NewKey(cluster, node), g.passwordProvider(cluster))
	if err != nil {
		return nil, config.Node{}, g.classify(err, "session checkout failed")
	}

	g.applyDeadline(ctx, session.Conn())

	return session, node, nil
}

// applyDeadline tightens the connection's operation timeout to the caller's
// remaining deadline when that is sooner.
func (g *Gateway) applyDeadline(ctx context.Context, conn pool.Conn) {
	timeout := g.opTimeout

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	conn.SetTimeout(timeout)
}

// classify maps transport and protocol errors onto the stable error kinds.
func (g *Gateway) classify(err error, message string) error {
	var apiErr *errors.APIError

	if stderrors.As(err, &apiErr) {
		return err
	}

	if stderrors.Is(err, errors.ErrBindFailed) {
		return errors.Wrap(errors.KindAuthFailed, "invalid credentials", err)
	}

	var netErr net.Error

	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(errors.KindTimeout, "ldap operation timed out", err)
	}

	var ldapErr *ldap.Error

	if stderrors.As(err, &ldapErr) {
		switch ldapErr.ResultCode {
		case ldap.LDAPResultInvalidCredentials:
			return errors.Wrap(errors.KindAuthFailed, "invalid credentials", err)
		case ldap.LDAPResultNoSuchObject:
			return errors.Wrap(errors.KindNotFound, "entry not found", err)
		case ldap.LDAPResultEntryAlreadyExists:
			return errors.Wrap(errors.KindConflict, "entry already exists", err)
		case ldap.LDAPResultConstraintViolation, ldap.LDAPResultAttributeOrValueExists:
			return errors.Wrap(errors.KindConflict, "constraint violation", err)
		case ldap.LDAPResultObjectClassViolation, ldap.LDAPResultInvalidAttributeSyntax,
			ldap.LDAPResultUndefinedAttributeType, ldap.LDAPResultNotAllowedOnRDN:
			return errors.Wrap(errors.KindUnprocessable, "schema violation", err)
		case ldap.LDAPResultTimeLimitExceeded:
			return errors.Wrap(errors.KindTimeout, "ldap operation timed out", err)
		case ldap.ErrorNetwork:
			return errors.Wrap(errors.KindServiceUnavailable, "ldap server unreachable", err)
		}
	}

	return errors.Wrap(errors.KindInternal, message, err)
}

// isTimeout decides whether a failed mutation poisons its session.
func isTimeout(err error) bool {
	var netErr net.Error

	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var ldapErr *ldap.Error

	if stderrors.As(err, &ldapErr) {
		return ldapErr.ResultCode == ldap.LDAPResultTimeLimitExceeded || ldapErr.ResultCode == ldap.ErrorNetwork
	}

	return false
}

// observe records metrics for one operation.
func observe(cluster string, operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	m := stats.GetMetrics()
	m.GetLdapOperationsTotal().WithLabelValues(cluster, operation, outcome).Inc()
	m.GetLdapOperationDuration().WithLabelValues(cluster, operation).Observe(time.Since(start).Seconds())
}

// BindTest opens a short-lived connection outside the pool and attempts a
// simple bind. Used to validate a password before it enters the vault.
func (g *Gateway) BindTest(ctx context.Context, clusterName string, bindDN string, password string) error {
	cluster, err := g.Cluster(clusterName)
	if err != nil {
		return err
	}

	node, err := g.selector.Select(cluster, definitions.OpHealth)
	if err != nil {
		return errors.Wrap(errors.KindServiceUnavailable, "no reachable node", err)
	}

	conn, err := g.openDirect(ctx, node)
	if err != nil {
		return g.classify(err, "ldap server unreachable")
	}

	defer conn.Close()

	if _, err = conn.SimpleBind(&ldap.SimpleBindRequest{Username: bindDN, Password: password}); err != nil {
		return g.classify(err, "bind failed")
	}

	return nil
}

// openDirect dials a node without pooling or binding.
func (g *Gateway) openDirect(ctx context.Context, node config.Node) (*ldap.Conn, error) {
	dialer := &net.Dialer{Timeout: g.netTimeout}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < dialer.Timeout {
			dialer.Timeout = remaining
		}
	}

	conn, err := ldap.DialURL(fmt.Sprintf("ldap://%s", node.String()), ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, err
	}

	conn.SetTimeout(g.opTimeout)

	return conn, nil
}

// OpenEphemeral dials and binds a node with the cluster's cached credential,
// bypassing the pool. The replication monitor uses this so fan-out noise does
// not displace warm sessions. The returned closer must always be called.
func (g *Gateway) OpenEphemeral(ctx context.Context, cluster *config.Cluster, node config.Node) (pool.Conn, func(), error) {
	return g.OpenEphemeralAs(ctx, cluster, node, cluster.BindDN)
}

// OpenEphemeralAs is OpenEphemeral with an alternative bind DN. The syncrepl
// topology view binds as cn=config with the cluster's cached credential.
func (g *Gateway) OpenEphemeralAs(ctx context.Context, cluster *config.Cluster, node config.Node, bindDN string) (pool.Conn, func(), error) {
	password, err := g.passwordProvider(cluster)()
	if err != nil {
		return nil, nil, err
	}

	conn, err := g.openDirect(ctx, node)
	if err != nil {
		return nil, nil, g.classify(err, "ldap server unreachable")
	}

	if _, err = conn.SimpleBind(&ldap.SimpleBindRequest{Username: bindDN, Password: password}); err != nil {
		conn.Close()

		return nil, nil, g.classify(err, "bind failed")
	}

	return conn, func() { conn.Close() }, nil
}

// SearchOptions parameterizes a bounded (unpaged) search.
type SearchOptions struct {
	BaseDN     string
	Scope      int
	Filter     string
	Attributes []string
	SizeLimit  int

	// ConsistentRead routes the search to the write node for read-after-write
	// consistency.
	ConsistentRead bool
}

// Search runs a bounded search on a READ node (or the write node when a
// consistent read is requested).
func (g *Gateway) Search(ctx context.Context, clusterName string, opts SearchOptions) ([]*Entry, error) {
	cluster, err := g.Cluster(clusterName)
	if err != nil {
		return nil, err
	}

	class := definitions.OpRead
	if opts.ConsistentRead {
		class = definitions.OpWrite
	}

	session, node, err := g.acquire(ctx, cluster, class)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	result, err := session.Conn().Search(ldap.NewSearchRequest(
		opts.BaseDN,
		opts.Scope,
		ldap.NeverDerefAliases,
		opts.SizeLimit,
		0,
		false,
		opts.Filter,
		opts.Attributes,
		nil,
	))

	observe(cluster.Name, "search", start, err)
	g.pool.Release(session, !isTimeout(err))

	if err != nil {
		// A size-limit overrun still carries the partial result set.
		var ldapErr *ldap.Error
		if stderrors.As(err, &ldapErr) && ldapErr.ResultCode == ldap.LDAPResultSizeLimitExceeded && result != nil {
			g.logger.Debug("size limit reached",
				definitions.LogKeyCluster, cluster.Name,
				definitions.LogKeyNode, node.String())
		} else {
			return nil, g.classify(err, "search failed")
		}
	}

	entries := make([]*Entry, 0, len(result.Entries))

	for _, raw := range result.Entries {
		entries = append(entries, entryFromLDAP(raw))
	}

	return entries, nil
}

// CountEntries returns the number of entries below baseDN matching filter.
// Only DNs travel over the wire.
func (g *Gateway) CountEntries(ctx context.Context, clusterName string, baseDN string, filter string) (int, error) {
	entries, err := g.Search(ctx, clusterName, SearchOptions{
		BaseDN:     baseDN,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{"1.1"},
	})
	if err != nil {
		return 0, err
	}

	return len(entries), nil
}

// ReadEntry performs a single base-scope read.
func (g *Gateway) ReadEntry(ctx context.Context, clusterName string, dn string, attributes []string, consistent bool) (*Entry, error) {
	entries, err := g.Search(ctx, clusterName, SearchOptions{
		BaseDN:         dn,
		Scope:          ldap.ScopeBaseObject,
		Filter:         definitions.FilterAll,
		Attributes:     attributes,
		ConsistentRead: consistent,
	})
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, errors.New(errors.KindNotFound, "entry not found")
	}

	return entries[0], nil
}

// Add creates an entry on the write node.
func (g *Gateway) Add(ctx context.Context, clusterName string, dn string, attributes map[string][]string) error {
	cluster, err := g.Cluster(clusterName)
	if err != nil {
		return err
	}

	session, _, err := g.acquire(ctx, cluster, definitions.OpWrite)
	if err != nil {
		return err
	}

	request := ldap.NewAddRequest(dn, nil)

	for name, values := range attributes {
		request.Attribute(name, values)
	}

	start := time.Now()
	err = session.Conn().Add(request)

	observe(cluster.Name, "add", start, err)
	g.pool.Release(session, !isTimeout(err))

	if err != nil {
		return g.classify(err, "add failed")
	}

	return nil
}

// Modify replaces attribute values on an entry via the write node.
func (g *Gateway) Modify(ctx context.Context, clusterName string, dn string, changes map[string][]string) error {
	cluster, err := g.Cluster(clusterName)
	if err != nil {
		return err
	}

	session, _, err := g.acquire(ctx, cluster, definitions.OpWrite)
	if err != nil {
		return err
	}

	request := ldap.NewModifyRequest(dn, nil)

	for name, values := range changes {
		request.Replace(name, values)
	}

	start := time.Now()
	err = session.Conn().Modify(request)

	observe(cluster.Name, "modify", start, err)
	g.pool.Release(session, !isTimeout(err))

	if err != nil {
		return g.classify(err, "modify failed")
	}

	return nil
}

// ModifyMembers adds and removes values of one membership attribute on a
// group entry. "Already a member" and "not a member" are treated as success.
func (g *Gateway) ModifyMembers(ctx context.Context, clusterName string, groupDN string, attribute string, add []string, remove []string) error {
	cluster, err := g.Cluster(clusterName)
	if err != nil {
		return err
	}

	session, _, err := g.acquire(ctx, cluster, definitions.OpWrite)
	if err != nil {
		return err
	}

	healthy := true

	defer func() { g.pool.Release(session, healthy) }()

	apply := func(build func(*ldap.ModifyRequest)) error {
		request := ldap.NewModifyRequest(groupDN, nil)
		build(request)

		start := time.Now()
		modErr := session.Conn().Modify(request)
		observe(cluster.Name, "modify", start, modErr)

		if modErr == nil {
			return nil
		}

		var ldapErr *ldap.Error

		if stderrors.As(modErr, &ldapErr) {
			switch ldapErr.ResultCode {
			case ldap.LDAPResultAttributeOrValueExists, ldap.LDAPResultNoSuchAttribute:
				return nil
			}
		}

		if isTimeout(modErr) {
			healthy = false
		}

		return g.classify(modErr, "membership modify failed")
	}

	if len(add) > 0 {
		if err = apply(func(r *ldap.ModifyRequest) { r.Add(attribute, add) }); err != nil {
			return err
		}
	}

	if len(remove) > 0 {
		if err = apply(func(r *ldap.ModifyRequest) { r.Delete(attribute, remove) }); err != nil {
			return err
		}
	}

	return nil
}

// Delete removes an entry via the write node.
func (g *Gateway) Delete(ctx context.Context, clusterName string, dn string) error {
	cluster, err := g.Cluster(clusterName)
	if err != nil {
		return err
	}

	session, _, err := g.acquire(ctx, cluster, definitions.OpWrite)
	if err != nil {
		return err
	}

	start := time.Now()
	err = session.Conn().Del(ldap.NewDelRequest(dn, nil))

	observe(cluster.Name, "delete", start, err)
	g.pool.Release(session, !isTimeout(err))

	if err != nil {
		return g.classify(err, "delete failed")
	}

	return nil
}

// RootDSE reads operational attributes from a node's root DSE over an
// ephemeral connection.
func (g *Gateway) RootDSE(ctx context.Context, cluster *config.Cluster, node config.Node, attributes []string) (*Entry, error) {
	conn, closeConn, err := g.OpenEphemeral(ctx, cluster, node)
	if err != nil {
		return nil, err
	}

	defer closeConn()

	result, err := conn.Search(ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		definitions.FilterAll,
		attributes,
		nil,
	))
	if err != nil {
		return nil, g.classify(err, "rootDSE read failed")
	}

	if len(result.Entries) == 0 {
		return nil, errors.New(errors.KindNotFound, "rootDSE not readable")
	}

	return entryFromLDAP(result.Entries[0]), nil
}
