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

package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/dirwarden/dirwarden/server/errors"
)

// GroupError records one failed membership modification.
type GroupError struct {
	GroupDN string `json:"group_dn"`
	Error   string `json:"error"`
}

// GroupTransactionResult is the outcome of a membership transaction. LDAP has
// no cross-entry transactions, so partial failure is a first-class result:
// successful modifications are never rolled back and callers retry the
// failing subset.
type GroupTransactionResult struct {
	Status  string       `json:"status"`
	UserDN  string       `json:"user_dn"`
	Added   []string     `json:"added"`
	Removed []string     `json:"removed"`
	Errors  []GroupError `json:"errors,omitempty"`
}

// Partial reports whether some modifications failed.
func (r *GroupTransactionResult) Partial() bool {
	return len(r.Errors) > 0
}

// SetUserGroups reconciles a user's group membership. Requested additions
// the user already holds and removals of groups the user is not in are
// skipped, so re-submitting the current membership is a no-op. A group that
// appears in both lists is treated as an addition.
func (s *Service) SetUserGroups(ctx context.Context, clusterName string, userDN string, addDNs []string, removeDNs []string) (*GroupTransactionResult, error) {
	if _, err := s.checkWritable(clusterName); err != nil {
		return nil, err
	}

	currentGroups, err := s.UserGroups(ctx, clusterName, userDN)
	if err != nil {
		return nil, err
	}

	current := make(map[string]struct{}, len(currentGroups))

	for _, group := range currentGroups {
		current[group.DN] = struct{}{}
	}

	requestedAdds := make(map[string]struct{}, len(addDNs))

	result := &GroupTransactionResult{
		Status:  "success",
		UserDN:  userDN,
		Added:   []string{},
		Removed: []string{},
	}

	for _, groupDN := range addDNs {
		requestedAdds[groupDN] = struct{}{}

		if _, member := current[groupDN]; member {
			continue
		}

		if err = s.modifyMembership(ctx, clusterName, groupDN, userDN, true); err != nil {
			result.Errors = append(result.Errors, GroupError{
				GroupDN: groupDN,
				Error:   fmt.Sprintf("failed to add member: %s", errorMessage(err)),
			})

			continue
		}

		result.Added = append(result.Added, groupDN)
	}

	for _, groupDN := range removeDNs {
		if _, member := current[groupDN]; !member {
			continue
		}

		if _, alsoAdded := requestedAdds[groupDN]; alsoAdded {
			continue
		}

		if err = s.modifyMembership(ctx, clusterName, groupDN, userDN, false); err != nil {
			result.Errors = append(result.Errors, GroupError{
				GroupDN: groupDN,
				Error:   fmt.Sprintf("failed to remove member: %s", errorMessage(err)),
			})

			continue
		}

		result.Removed = append(result.Removed, groupDN)
	}

	outcome := error(nil)

	if result.Partial() {
		result.Status = "partial"
		outcome = fmt.Errorf("%d membership modifications failed", len(result.Errors))
	}

	s.audit(clusterName, userDN, "MEMBERSHIP", outcome)

	return result, nil
}

// modifyMembership adjusts one group, picking the membership attribute that
// matches the group's objectClass.
func (s *Service) modifyMembership(ctx context.Context, clusterName string, groupDN string, userDN string, add bool) error {
	attribute, value, err := s.membershipAttribute(ctx, clusterName, groupDN, userDN)
	if err != nil {
		return err
	}

	if add {
		return s.gateway.ModifyMembers(ctx, clusterName, groupDN, attribute, []string{value}, nil)
	}

	return s.gateway.ModifyMembers(ctx, clusterName, groupDN, attribute, nil, []string{value})
}

// membershipAttribute reads the group entry and maps its objectClass to the
// membership attribute and value representation.
func (s *Service) membershipAttribute(ctx context.Context, clusterName string, groupDN string, userDN string) (string, string, error) {
	group, err := s.gateway.ReadEntry(ctx, clusterName, groupDN, []string{"objectClass"}, false)
	if err != nil {
		return "", "", err
	}

	for _, class := range group.Attributes["objectClass"] {
		switch strings.ToLower(class) {
		case "groupofnames":
			return "member", userDN, nil
		case "groupofuniquenames":
			return "uniqueMember", userDN, nil
		case "posixgroup":
			return "memberUid", rdnValue(userDN), nil
		}
	}

	// No recognized grouping class; uniqueMember is the safest default.
	return "uniqueMember", userDN, nil
}

// errorMessage renders the user-presentable side of an error; raw server
// strings stay in the logs.
func errorMessage(err error) string {
	return errors.MessageOf(err)
}
