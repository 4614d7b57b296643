// Package role defines the closed set of privilege tiers used by every
// access decision in chatterbox.
//
// Roles are totally ordered: User < Admin < Super. Privilege is monotonic,
// so any check that gates on Admin also passes for Super.
package role

import (
	"errors"
	"strings"
)

// Role is a privilege tier. The zero value is not a valid role.
type Role string

const (
	// User is the default tier assigned at registration.
	User Role = "USER"
	// Admin may see private rooms and manage rooms owned by others.
	Admin Role = "ADMIN"
	// Super may additionally reassign roles.
	Super Role = "SUPER"
)

// ErrUnknown is returned by Parse for values outside the role set.
var ErrUnknown = errors.New("unknown role")

var rank = map[Role]int{
	User:  1,
	Admin: 2,
	Super: 3,
}

// All returns every role in ascending privilege order.
func All() []Role {
	return []Role{User, Admin, Super}
}

// Parse converts a case-insensitive name into a Role.
func Parse(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrUnknown
	}
	return r, nil
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := rank[r]
	return ok
}

// AtLeast reports whether r carries at least the privilege of min.
// Invalid roles never satisfy any minimum.
func (r Role) AtLeast(min Role) bool {
	have, ok := rank[r]
	if !ok {
		return false
	}
	return have >= rank[min]
}

// Elevated reports whether r is in the admin tier (Admin or Super).
func (r Role) Elevated() bool {
	return r.AtLeast(Admin)
}

func (r Role) String() string {
	return string(r)
}
