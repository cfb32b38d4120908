// Package perm evaluates the permission grants embedded in access tokens.
// Authorization is a pure function of the operation category, the target
// database/collection, and the caller's grant set; no store is consulted.
package perm

import (
	"errors"
	"fmt"
)

// Category classifies an operation for authorization.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryRead
	CategoryWrite
	CategoryUserManagement
)

func (c Category) String() string {
	switch c {
	case CategoryRead:
		return "read"
	case CategoryWrite:
		return "write"
	case CategoryUserManagement:
		return "user_management"
	default:
		return "unknown"
	}
}

var (
	// ErrNotAuthorized reports a default denial: the caller holds no grant
	// covering the requested operation.
	ErrNotAuthorized = errors.New("perm: not authorized")
	// ErrExplicitDeny reports a "none" grant. It is distinguishable from
	// ErrNotAuthorized so callers can tell policy denial from mere absence.
	ErrExplicitDeny = errors.New("perm: explicitly denied by policy")
	// ErrUnknownCategory reports a category outside the closed set. This is
	// a caller bug, not a policy decision, and maps to a validation failure.
	ErrUnknownCategory = errors.New("perm: unknown operation category")
)

// Grants is the full permission set carried by a token: independent read
// and write axes plus the user-management flag.
type Grants struct {
	Read           Grant `json:"read,omitzero"`
	Write          Grant `json:"write,omitzero"`
	UserManagement bool  `json:"user_management"`
}

// AdminGrants is the forced grant set for the admin policy.
func AdminGrants() Grants {
	return Grants{Read: All(), Write: All(), UserManagement: true}
}

// Authorize decides whether grants permit an operation of the given
// category against db/coll. A nil return means allow. ErrExplicitDeny
// wraps denials caused by a "none" grant; every other denial wraps
// ErrNotAuthorized.
func Authorize(category Category, db, coll string, grants Grants) error {
	switch category {
	case CategoryRead:
		return authorizeAxis(grants.Read, category, db, coll)
	case CategoryWrite:
		return authorizeAxis(grants.Write, category, db, coll)
	case CategoryUserManagement:
		if grants.UserManagement {
			return nil
		}
		return fmt.Errorf("%w: user management", ErrNotAuthorized)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownCategory, int(category))
	}
}

func authorizeAxis(g Grant, category Category, db, coll string) error {
	if g.IsNone() {
		return fmt.Errorf("%w: %s access on %s.%s", ErrExplicitDeny, category, db, coll)
	}
	if g.Allows(db, coll) {
		return nil
	}
	return fmt.Errorf("%w: %s access on %s.%s", ErrNotAuthorized, category, db, coll)
}
