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
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/definitions"
	"github.com/dirwarden/dirwarden/server/errors"

	"github.com/go-ldap/ldap/v3"
)

const (
	autoNextUID        = "next_uid"
	autoDaysSinceEpoch = "days_since_epoch"
	autoMarker         = "auto"
)

var fieldPlaceholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// uidLock returns the per-cluster mutex guarding uidNumber allocation.
func (g *Gateway) uidLock(clusterName string) *sync.Mutex {
	actual, _ := g.uidLocks.LoadOrStore(clusterName, &sync.Mutex{})

	return actual.(*sync.Mutex)
}

// daysSinceEpoch is the integer day count since 1970-01-01 UTC.
func daysSinceEpoch(now time.Time) int {
	return int(now.UTC().Unix() / 86400)
}

// nextUID computes one more than the highest uidNumber in the user subtree,
// floored at the configured minimum. The read goes to the write node so the
// maximum is not stale relative to the add that follows.
func (g *Gateway) nextUID(ctx context.Context, cluster *config.Cluster, baseOU string) (int, error) {
	baseDN := baseOU
	if baseDN == "" {
		baseDN = cluster.BaseDN
	}

	entries, err := g.Search(ctx, cluster.Name, SearchOptions{
		BaseDN:         baseDN,
		Scope:          ldap.ScopeWholeSubtree,
		Filter:         "(objectClass=posixAccount)",
		Attributes:     []string{"uidNumber"},
		ConsistentRead: true,
	})
	if err != nil {
		return 0, err
	}

	maxUID := 0

	for _, entry := range entries {
		for _, value := range entry.Attributes["uidNumber"] {
			if uid, parseErr := strconv.Atoi(value); parseErr == nil && uid > maxUID {
				maxUID = uid
			}
		}
	}

	next := maxUID + 1
	if next < definitions.UIDNumberFloor {
		next = definitions.UIDNumberFloor
	}

	return next, nil
}

// needsGeneration reports whether a field value should be auto-filled.
func needsGeneration(attributes map[string][]string, field string) bool {
	values, present := attributes[field]
	if !present || len(values) == 0 {
		return true
	}

	return values[0] == "" || values[0] == autoMarker
}

// substitute expands ${field} references against the in-flight attribute
// map. Unresolvable references are a bad request.
func substitute(template string, attributes map[string][]string) (string, error) {
	var missing string

	expanded := fieldPlaceholder.ReplaceAllStringFunc(template, func(match string) string {
		name := fieldPlaceholder.FindStringSubmatch(match)[1]

		values, present := attributes[name]
		if !present || len(values) == 0 || values[0] == "" {
			missing = name

			return match
		}

		return values[0]
	})

	if missing != "" {
		return "", errors.Wrap(errors.KindBadRequest,
			fmt.Sprintf("placeholder references missing field %q", missing),
			errors.ErrMissingField)
	}

	return expanded, nil
}

// resolvePlaceholders fills the declarative auto_generate fields of the
// creation form. It returns the attribute that received a next_uid value ("" when
// none was allocated), so the caller can re-allocate on collision.
func (g *Gateway) resolvePlaceholders(ctx context.Context, cluster *config.Cluster, form *config.CreationForm, attributes map[string][]string) (string, error) {
	if form == nil {
		return "", nil
	}

	uidField := ""

	for _, field := range form.Fields {
		if field.AutoGenerate == "" || !needsGeneration(attributes, field.Name) {
			continue
		}

		switch {
		case field.AutoGenerate == autoNextUID:
			uid, err := g.nextUID(ctx, cluster, form.BaseOU)
			if err != nil {
				return "", err
			}

			attributes[field.Name] = []string{strconv.Itoa(uid)}
			uidField = field.Name

		case field.AutoGenerate == autoDaysSinceEpoch:
			attributes[field.Name] = []string{strconv.Itoa(daysSinceEpoch(time.Now()))}

		default:
			value, err := substitute(field.AutoGenerate, attributes)
			if err != nil {
				return "", err
			}

			attributes[field.Name] = []string{value}
		}
	}

	return uidField, nil
}

// CreateWithTemplate resolves the cluster's declarative placeholders and adds
// the entry. next_uid allocation runs under the per-cluster write lock; a
// server-side uniqueness collision is retried with a fresh maximum up to
// three times.
func (g *Gateway) CreateWithTemplate(ctx context.Context, clusterName string, dn string, attributes map[string][]string) error {
	cluster, err := g.Cluster(clusterName)
	if err != nil {
		return err
	}

	form := cluster.UserCreationForm

	usesNextUID := false

	if form != nil {
		for _, field := range form.Fields {
			if field.AutoGenerate == autoNextUID && needsGeneration(attributes, field.Name) {
				usesNextUID = true

				break
			}
		}
	}

	if usesNextUID {
		lock := g.uidLock(clusterName)

		lock.Lock()

		defer lock.Unlock()
	}

	uidField, err := g.resolvePlaceholders(ctx, cluster, form, attributes)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err = g.Add(ctx, clusterName, dn, attributes)
		if err == nil {
			return nil
		}

		if uidField == "" || errors.KindOf(err) != errors.KindConflict || attempt >= definitions.UIDAllocationRetries {
			if uidField != "" && errors.KindOf(err) == errors.KindConflict {
				return errors.Wrap(errors.KindConflict, "uidNumber allocation failed after retries", errors.ErrUIDExhausted)
			}

			return err
		}

		uid, uidErr := g.nextUID(ctx, cluster, form.BaseOU)
		if uidErr != nil {
			return uidErr
		}

		attributes[uidField] = []string{strconv.Itoa(uid)}

		g.logger.Debug("uidNumber collision, retrying allocation",
			definitions.LogKeyCluster, clusterName,
			"attempt", attempt+1,
			"uid", uid)
	}
}
