package users

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"orbdata.io/internal/auth"
	"orbdata.io/internal/obs"
	"orbdata.io/internal/perm"
)

// DirectoryStore is the durable identity tier consumed by the service.
type DirectoryStore interface {
	Credential(ctx context.Context, userID string) (auth.Credential, error)
	Fetch(ctx context.Context, userID string) (UserRecord, error)
	GrantsByRoleID(ctx context.Context, roleID string) (perm.Grants, error)
	Policy(ctx context.Context, policy string) (PolicyRecord, error)
	Insert(ctx context.Context, rec UserRecord) error
	Apply(ctx context.Context, userID string, set map[string]any) error
	Remove(ctx context.Context, userID string) error
}

// CredentialCache is the fast credential tier consumed by the service.
type CredentialCache interface {
	Get(ctx context.Context, userID string) (auth.Credential, bool, error)
	Put(ctx context.Context, cred auth.Credential) error
	Delete(ctx context.Context, userID string) error
}

// Service combines the two tiers: cache-aside credential resolution for
// authentication, and user-management operations against the directory
// with write-through cache maintenance.
type Service struct {
	dir   DirectoryStore
	cache CredentialCache
}

// NewService wires the directory and the cache.
func NewService(dir DirectoryStore, cache CredentialCache) (*Service, error) {
	if dir == nil {
		return nil, errors.New("users: directory is required")
	}
	if cache == nil {
		return nil, errors.New("users: credential cache is required")
	}
	return &Service{dir: dir, cache: cache}, nil
}

// Resolve returns the caller's credential projection, cache first. On a
// cache miss it falls back to the directory and self-heals the cache;
// a failed cache write never fails the read. Implements
// auth.CredentialSource.
func (s *Service) Resolve(ctx context.Context, userID string) (auth.Credential, error) {
	cred, hit, err := s.cache.Get(ctx, userID)
	if err != nil {
		// A broken cache degrades to directory reads instead of failing.
		obs.Emit("warn", "credential cache read failed", map[string]any{
			"user_id": userID, "error": err.Error(),
		})
	} else if hit {
		return cred, nil
	}

	cred, err = s.dir.Credential(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return auth.Credential{}, fmt.Errorf("%w: user %s", auth.ErrNotFound, userID)
	}
	if err != nil {
		return auth.Credential{}, err
	}

	if err := s.cache.Put(ctx, cred); err != nil {
		obs.Emit("warn", "credential cache self-heal failed", map[string]any{
			"user_id": userID, "error": err.Error(),
		})
	}
	return cred, nil
}

// Grants fetches the current permission set for a role from the
// directory, never the cache. Implements auth.CredentialSource.
func (s *Service) Grants(ctx context.Context, roleID string) (perm.Grants, error) {
	grants, err := s.dir.GrantsByRoleID(ctx, roleID)
	if errors.Is(err, ErrNotFound) {
		return perm.Grants{}, fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
	}
	return grants, err
}

var _ auth.CredentialSource = (*Service)(nil)

// CreateParams describes a create_user request.
type CreateParams struct {
	UserID   string
	Policy   string
	Metadata map[string]string
	Read     perm.Grant
	Write    perm.Grant
}

// Create registers a new user and returns the one-time plaintext API key.
// The admin policy forces unrestricted grants and ignores the supplied
// axes; every other policy applies them as given, deny-by-default for
// omitted axes. The cache projection write is best-effort.
func (s *Service) Create(ctx context.Context, p CreateParams) (string, error) {
	if _, err := s.dir.Policy(ctx, p.Policy); err != nil {
		return "", err
	}

	apiKey, err := auth.NewAPIKey()
	if err != nil {
		return "", err
	}
	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	rec := UserRecord{
		ID:         bson.NewObjectID(),
		UserID:     p.UserID,
		APIKeyHash: hash,
		Role:       p.Policy,
		Metadata:   metadata,
	}
	if p.Policy == PolicyAdmin {
		rec.Read = perm.All().Value()
		rec.Write = perm.All().Value()
		rec.UserManagement = true
	} else {
		rec.Read = p.Read.Value()
		rec.Write = p.Write.Value()
	}

	if err := s.dir.Insert(ctx, rec); err != nil {
		return "", err
	}

	if err := s.cache.Put(ctx, rec.Credential()); err != nil {
		obs.Emit("warn", "credential cache write failed on create", map[string]any{
			"user_id": p.UserID, "error": err.Error(),
		})
	}
	return apiKey, nil
}

// UpdateParams describes an update_user request. A zero grant leaves
// that axis untouched; Policy empty leaves the role untouched.
type UpdateParams struct {
	UserID string
	Policy string
	Read   perm.Grant
	Write  perm.Grant
}

func (p UpdateParams) empty() bool {
	return p.Policy == "" && p.Read.IsZero() && p.Write.IsZero()
}

// Update changes a user's role and/or overwrites individual grant axes.
// Switching to the admin policy forces unrestricted grants; switching
// away clears the management flag. The cache entry is deliberately left
// alone: credential fields may serve stale until eviction, while grants
// are always re-read from the directory at token issuance.
func (s *Service) Update(ctx context.Context, p UpdateParams) error {
	if p.empty() {
		// Nothing to change; existence is not checked either.
		return nil
	}

	current, err := s.dir.Fetch(ctx, p.UserID)
	if err != nil {
		return err
	}

	set := map[string]any{}
	if p.Policy != "" && p.Policy != current.Role {
		set["role"] = p.Policy
		if p.Policy == PolicyAdmin {
			set["read"] = perm.All().Value()
			set["write"] = perm.All().Value()
			set["user_management"] = true
		} else if current.Role == PolicyAdmin {
			set["user_management"] = false
		}
	}
	// Axis overwrites are independent of the policy switch and win over
	// the grants it implies.
	if !p.Read.IsZero() {
		set["read"] = p.Read.Value()
	}
	if !p.Write.IsZero() {
		set["write"] = p.Write.Value()
	}
	if len(set) == 0 {
		return nil
	}
	return s.dir.Apply(ctx, p.UserID, set)
}

// Delete removes the user record and then its cache entry, regardless of
// whether the entry was present. A failed cache delete is logged, not
// surfaced: the durable delete already succeeded.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if err := s.dir.Remove(ctx, userID); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, userID); err != nil {
		obs.Emit("warn", "credential cache delete failed", map[string]any{
			"user_id": userID, "error": err.Error(),
		})
	}
	return nil
}
