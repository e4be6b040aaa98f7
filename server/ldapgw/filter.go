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
	"fmt"
	"strings"

	"github.com/dirwarden/dirwarden/server/definitions"

	"github.com/go-ldap/ldap/v3"
)

// Escape hex-escapes the RFC 4515 special characters in a user-supplied
// substring. Every value that ends up inside a filter goes through here; raw
// string interpolation into filters is forbidden.
func Escape(value string) string {
	return ldap.EscapeFilter(value)
}

// And combines filters conjunctively. A single operand passes through.
func And(filters ...string) string {
	return combine("&", filters)
}

// Or combines filters disjunctively. A single operand passes through.
func Or(filters ...string) string {
	return combine("|", filters)
}

func combine(op string, filters []string) string {
	nonEmpty := filters[:0]

	for _, f := range filters {
		if f != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}

	switch len(nonEmpty) {
	case 0:
		return ""
	case 1:
		return nonEmpty[0]
	}

	var sb strings.Builder

	sb.WriteString("(")
	sb.WriteString(op)

	for _, f := range nonEmpty {
		sb.WriteString(f)
	}

	sb.WriteString(")")

	return sb.String()
}

// Equals builds an equality match with an escaped value.
func Equals(attribute string, value string) string {
	return fmt.Sprintf("(%s=%s)", attribute, Escape(value))
}

// Contains builds a substring match with an escaped value.
func Contains(attribute string, value string) string {
	return fmt.Sprintf("(%s=*%s*)", attribute, Escape(value))
}

// MemberOfAny matches entries that reference dn through any of the usual
// membership attributes.
func MemberOfAny(dn string) string {
	return Or(
		Equals("member", dn),
		Equals("uniqueMember", dn),
		Equals("memberUid", dn),
	)
}

// ViewSearchFilter composes the canonical view filter with an optional
// free-text query over the given attributes. The query substring is escaped;
// the composed result is always a valid RFC 4515 filter.
func ViewSearchFilter(view definitions.View, query string, attributes []string) (string, bool) {
	base := view.Filter()
	if base == "" {
		return "", false
	}

	if query == "" {
		return base, true
	}

	terms := make([]string, 0, len(attributes))

	for _, attribute := range attributes {
		terms = append(terms, Contains(attribute, query))
	}

	queryFilter := Or(terms...)

	if base == definitions.FilterAll {
		return queryFilter, true
	}

	return And(base, queryFilter), true
}
