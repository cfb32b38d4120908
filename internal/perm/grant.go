package perm

import (
	"encoding/json"
	"fmt"
)

const (
	// GrantAll is the literal grant value giving unrestricted access on an axis.
	GrantAll = "all"
	// GrantNone is the literal grant value that denies explicitly. It is
	// stronger than an absent grant and is reported as a distinct error.
	GrantNone = "none"
)

type grantKind int

const (
	grantUnset grantKind = iota
	grantNone
	grantAll
	grantScoped
)

// Grant is one axis of a permission set. Its value is either unset
// (deny by default), the literal "none" (explicit deny), the literal
// "all", or a mapping from database name to allowed collection names.
type Grant struct {
	kind   grantKind
	scopes map[string][]string
}

// All returns the unrestricted grant.
func All() Grant { return Grant{kind: grantAll} }

// None returns the explicit-deny grant.
func None() Grant { return Grant{kind: grantNone} }

// Scoped returns a grant restricted to the given database/collection map.
func Scoped(scopes map[string][]string) Grant {
	copied := make(map[string][]string, len(scopes))
	for db, colls := range scopes {
		copied[db] = append([]string(nil), colls...)
	}
	return Grant{kind: grantScoped, scopes: copied}
}

// IsZero reports whether the grant is unset. Used by encoding/json via
// the omitzero tag so absent axes stay absent in token payloads.
func (g Grant) IsZero() bool { return g.kind == grantUnset }

// IsAll reports an unrestricted grant.
func (g Grant) IsAll() bool { return g.kind == grantAll }

// IsNone reports an explicit deny.
func (g Grant) IsNone() bool { return g.kind == grantNone }

// Allows reports whether the grant permits access to db/coll. Unset and
// "none" grants never allow; callers distinguish the two via IsNone.
func (g Grant) Allows(db, coll string) bool {
	switch g.kind {
	case grantAll:
		return true
	case grantScoped:
		for _, c := range g.scopes[db] {
			if c == coll {
				return true
			}
		}
	}
	return false
}

// Scopes returns a copy of the database/collection map, or nil for
// non-scoped grants.
func (g Grant) Scopes() map[string][]string {
	if g.kind != grantScoped {
		return nil
	}
	out := make(map[string][]string, len(g.scopes))
	for db, colls := range g.scopes {
		out[db] = append([]string(nil), colls...)
	}
	return out
}

// Value returns the storage-facing representation: "all", "none", a
// database/collection map, or nil when unset. The durable store persists
// grants in exactly this shape.
func (g Grant) Value() any {
	switch g.kind {
	case grantAll:
		return GrantAll
	case grantNone:
		return GrantNone
	case grantScoped:
		return g.Scopes()
	default:
		return nil
	}
}

// FromValue decodes a grant from the loosely-typed representation the
// storage tiers hand back. Both tiers may surface strings as byte slices
// and collection sets as []any; normalization happens here, at the tier
// boundary, and never propagates further.
func FromValue(v any) (Grant, error) {
	switch val := v.(type) {
	case nil:
		return Grant{}, nil
	case string:
		return fromLiteral(val)
	case []byte:
		return fromLiteral(string(val))
	case map[string][]string:
		return Scoped(val), nil
	case map[string]any:
		scopes := make(map[string][]string, len(val))
		for db, raw := range val {
			colls, err := stringSlice(raw)
			if err != nil {
				return Grant{}, fmt.Errorf("grant scope %q: %w", db, err)
			}
			scopes[db] = colls
		}
		return Scoped(scopes), nil
	default:
		return Grant{}, fmt.Errorf("unsupported grant value of type %T", v)
	}
}

func fromLiteral(s string) (Grant, error) {
	switch s {
	case GrantAll:
		return All(), nil
	case GrantNone:
		return None(), nil
	case "":
		return Grant{}, nil
	default:
		return Grant{}, fmt.Errorf("unsupported grant literal %q", s)
	}
}

func stringSlice(v any) ([]string, error) {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...), nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case []byte:
				out = append(out, string(s))
			default:
				return nil, fmt.Errorf("collection name of type %T", item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("collection list of type %T", v)
	}
}

// MarshalJSON encodes the grant in its wire shape: "all", "none", a
// scope object, or null when unset.
func (g Grant) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Value())
}

// UnmarshalJSON decodes "all", "none", a scope object, or null.
func (g *Grant) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := FromValue(raw)
	if err != nil {
		return err
	}
	*g = decoded
	return nil
}

var _ json.Marshaler = Grant{}
var _ json.Unmarshaler = (*Grant)(nil)
