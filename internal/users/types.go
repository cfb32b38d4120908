// Package users owns the identity store: the durable Mongo user directory,
// the Redis credential cache in front of it, the cache-aside resolver that
// keeps the two consistent, and the user-management operations.
package users

import (
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"

	"orbdata.io/internal/auth"
	"orbdata.io/internal/perm"
)

const (
	// DBName is the identity database; user-management operations are
	// pinned to it regardless of any target the caller names.
	DBName = "userdb"
	// CollUsers holds the user records, unique on user_id.
	CollUsers = "users"
	// CollPolicies is the policy catalog consulted on create_user.
	CollPolicies = "policy_store"
	// CollUsageLogs receives the per-request usage log documents.
	CollUsageLogs = "usage_logs"

	// PolicyAdmin forces unrestricted grants regardless of caller input.
	PolicyAdmin = "admin"
)

var (
	ErrNotFound       = errors.New("users: user not found")
	ErrDuplicateUser  = errors.New("users: user already exists")
	ErrPolicyNotFound = errors.New("users: policy not found")
	ErrStorage        = errors.New("users: storage failure")
)

// UserRecord is the durable document shape in userdb.users. The grant
// axes are stored in their wire shape ("all", "none", or a scope map),
// so they decode as loosely-typed values and normalize via perm.FromValue.
type UserRecord struct {
	ID             bson.ObjectID     `bson:"_id,omitempty"`
	UserID         string            `bson:"user_id"`
	APIKeyHash     string            `bson:"api_key_hash"`
	Role           string            `bson:"role"`
	Metadata       map[string]string `bson:"metadata"`
	Read           any               `bson:"read,omitempty"`
	Write          any               `bson:"write,omitempty"`
	UserManagement bool              `bson:"user_management"`
}

// Grants normalizes the stored grant axes into the typed permission set.
func (r UserRecord) Grants() (perm.Grants, error) {
	read, err := perm.FromValue(plainValue(r.Read))
	if err != nil {
		return perm.Grants{}, err
	}
	write, err := perm.FromValue(plainValue(r.Write))
	if err != nil {
		return perm.Grants{}, err
	}
	return perm.Grants{Read: read, Write: write, UserManagement: r.UserManagement}, nil
}

// plainValue rewrites the driver's named BSON container types into plain
// maps and slices so grant normalization sees one shape regardless of
// decoder configuration.
func plainValue(v any) any {
	switch val := v.(type) {
	case bson.M:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = plainValue(item)
		}
		return m
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = plainValue(e.Value)
		}
		return m
	case bson.A:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = plainValue(item)
		}
		return s
	default:
		return v
	}
}

// PolicyRecord is a policy catalog entry. The catalog names the set of
// roles a user may be created under; grants always come from the user
// record itself.
type PolicyRecord struct {
	Policy string `bson:"policy"`
}

// Credential projects the record into the cache-entry shape.
func (r UserRecord) Credential() auth.Credential {
	return auth.Credential{
		UserID:     r.UserID,
		APIKeyHash: r.APIKeyHash,
		RoleID:     r.ID.Hex(),
		Role:       r.Role,
		Name:       r.Metadata["name"],
		Department: r.Metadata["department"],
	}
}
