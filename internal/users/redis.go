package users

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"orbdata.io/internal/auth"
)

// Redis hash field names. The cache stores flat strings; the typed
// Credential projection is rebuilt on every read.
const (
	fieldAPIKeyHash = "api_key_hash"
	fieldRoleID     = "role_id"
	fieldRole       = "role"
	fieldName       = "name"
	fieldDept       = "dept"
)

const cacheTimeout = 5 * time.Second

// Cache is the Redis credential tier, keyed by user id. It is a derived,
// expendable copy of the directory: safe to lose, safe to rebuild.
type Cache struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewCache wraps the Redis client.
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb, timeout: cacheTimeout}
}

// Get returns the cached credential projection and whether it was present.
func (c *Cache) Get(ctx context.Context, userID string) (auth.Credential, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fields, err := c.rdb.HGetAll(ctx, userID).Result()
	if err != nil {
		return auth.Credential{}, false, storageErr("cache read", err)
	}
	if len(fields) == 0 {
		return auth.Credential{}, false, nil
	}
	return auth.Credential{
		UserID:     userID,
		APIKeyHash: fields[fieldAPIKeyHash],
		RoleID:     fields[fieldRoleID],
		Role:       fields[fieldRole],
		Name:       fields[fieldName],
		Department: fields[fieldDept],
	}, true, nil
}

// Put writes the projection. Last write wins; concurrent self-heals for
// the same user are harmless.
func (c *Cache) Put(ctx context.Context, cred auth.Credential) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.rdb.HSet(ctx, cred.UserID, map[string]string{
		fieldAPIKeyHash: cred.APIKeyHash,
		fieldRoleID:     cred.RoleID,
		fieldRole:       cred.Role,
		fieldName:       cred.Name,
		fieldDept:       cred.Department,
	}).Err()
	if err != nil {
		return storageErr("cache write", err)
	}
	return nil
}

// Delete removes the entry. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.rdb.Del(ctx, userID).Err(); err != nil {
		return storageErr("cache delete", err)
	}
	return nil
}
