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

package ldapgw

import (
	"context"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/definitions"
	"github.com/dirwarden/dirwarden/server/errors"
	"github.com/dirwarden/dirwarden/server/pool"

	"github.com/go-ldap/ldap/v3"
)

// PagedSearchOptions parameterizes a paged enumeration.
type PagedSearchOptions struct {
	BaseDN     string
	Scope      int
	Filter     string
	Attributes []string
	PageSize   uint32
	MaxPages   int

	// ConsistentRead routes the enumeration to the write node.
	ConsistentRead bool
}

// PagedIterator walks a paged search one page at a time. It owns the
// underlying session and the server-side cookie; the cookie is only ever
// consumed on the connection that produced it. The iterator is single-use:
// drain it or call Close.
type PagedIterator struct {
	gateway *Gateway
	cluster *config.Cluster
	session *pool.Session
	opts    PagedSearchOptions

	paging *ldap.ControlPaging
	page   int
	done   bool
	closed bool
}

// SearchPaged starts a paged enumeration. Page size is clamped to the
// implementation maximum.
func (g *Gateway) SearchPaged(ctx context.Context, clusterName string, opts PagedSearchOptions) (*PagedIterator, error) {
	cluster, err := g.Cluster(clusterName)
	if err != nil {
		return nil, err
	}

	if opts.PageSize == 0 || opts.PageSize > definitions.MaxPageSize {
		opts.PageSize = definitions.MaxPageSize
	}

	class := definitions.OpRead
	if opts.ConsistentRead {
		class = definitions.OpWrite
	}

	session, _, err := g.acquire(ctx, cluster, class)
	if err != nil {
		return nil, err
	}

	return &PagedIterator{
		gateway: g,
		cluster: cluster,
		session: session,
		opts:    opts,
		paging:  ldap.NewControlPaging(opts.PageSize),
	}, nil
}

// Page returns the current page index (0 before the first Next call).
func (it *PagedIterator) Page() int {
	return it.page
}

// HasMore reports whether the last fetched page came back with a paging
// cookie, that is, whether entries remain beyond the pages read.
func (it *PagedIterator) HasMore() bool {
	return len(it.paging.Cookie) > 0
}

// Next fetches the next page. The boolean is false once the enumeration is
// exhausted. On error the iterator is closed and unusable.
func (it *PagedIterator) Next(ctx context.Context) ([]*Entry, bool, error) {
	if it.done {
		return nil, false, nil
	}

	if it.closed {
		return nil, false, errors.Wrap(errors.KindInternal, "paged iterator reused after close", errors.ErrIteratorClosed)
	}

	if it.opts.MaxPages > 0 && it.page >= it.opts.MaxPages {
		it.Close()

		return nil, false, nil
	}

	it.gateway.applyDeadline(ctx, it.session.Conn())

	request := ldap.NewSearchRequest(
		it.opts.BaseDN,
		it.opts.Scope,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		it.opts.Filter,
		it.opts.Attributes,
		[]ldap.Control{it.paging},
	)

	result, err := it.session.Conn().Search(request)
	if err != nil {
		it.fail(err)

		return nil, false, it.gateway.classify(err, "paged search failed")
	}

	it.page++

	entries := make([]*Entry, 0, len(result.Entries))

	for _, raw := range result.Entries {
		entries = append(entries, entryFromLDAP(raw))
	}

	responded := ldap.FindControl(result.Controls, ldap.ControlTypePaging)

	if pagingResult, ok := responded.(*ldap.ControlPaging); ok && len(pagingResult.Cookie) > 0 {
		it.paging.SetCookie(pagingResult.Cookie)
	} else {
		// No cookie: the enumeration is over. When the page came back full
		// the server most likely does not support RFC 2696 at all.
		if uint32(len(entries)) == it.opts.PageSize {
			it.gateway.logger.Warn("server returned no paging cookie on a full page",
				definitions.LogKeyCluster, it.cluster.Name,
				"page", it.page)
		}

		it.paging.SetCookie(nil)
		it.finish()
	}

	return entries, true, nil
}

// Close abandons the server-side cookie where possible and releases the
// session. Safe to call more than once.
func (it *PagedIterator) Close() {
	if it.closed {
		return
	}

	if !it.done && len(it.paging.Cookie) > 0 {
		// RFC 2696 abandon: resend the cookie with page size zero.
		abandon := ldap.NewControlPaging(0)
		abandon.SetCookie(it.paging.Cookie)

		_, err := it.session.Conn().Search(ldap.NewSearchRequest(
			it.opts.BaseDN,
			it.opts.Scope,
			ldap.NeverDerefAliases,
			0,
			0,
			false,
			it.opts.Filter,
			[]string{"1.1"},
			[]ldap.Control{abandon},
		))
		if err != nil {
			// The session state is unknown after a failed abandon; drop it.
			it.closed = true
			it.done = true
			it.gateway.pool.Release(it.session, false)

			return
		}
	}

	it.finish()
}

// finish releases the session healthy and marks the iterator exhausted.
func (it *PagedIterator) finish() {
	if it.closed {
		return
	}

	it.done = true
	it.closed = true
	it.gateway.pool.Release(it.session, true)
}

// fail releases the session unhealthy after a transport error.
func (it *PagedIterator) fail(err error) {
	if it.closed {
		return
	}

	it.done = true
	it.closed = true
	it.gateway.pool.Release(it.session, !isTimeout(err) && !it.session.Conn().IsClosing())
}
