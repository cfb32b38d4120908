package users

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"orbdata.io/internal/auth"
	"orbdata.io/internal/perm"
)

type fakeDirectory struct {
	records  map[string]UserRecord
	byOID    map[string]UserRecord
	policies map[string]PolicyRecord

	credentialCalls int
	failing         bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		records: map[string]UserRecord{},
		byOID:   map[string]UserRecord{},
		policies: map[string]PolicyRecord{
			"admin":   {Policy: "admin"},
			"analyst": {Policy: "analyst"},
		},
	}
}

func (d *fakeDirectory) add(rec UserRecord) {
	if rec.ID.IsZero() {
		rec.ID = bson.NewObjectID()
	}
	d.records[rec.UserID] = rec
	d.byOID[rec.ID.Hex()] = rec
}

func (d *fakeDirectory) Credential(ctx context.Context, userID string) (auth.Credential, error) {
	d.credentialCalls++
	if d.failing {
		return auth.Credential{}, fmt.Errorf("%w: fetch user: down", ErrStorage)
	}
	rec, ok := d.records[userID]
	if !ok {
		return auth.Credential{}, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return rec.Credential(), nil
}

func (d *fakeDirectory) Fetch(ctx context.Context, userID string) (UserRecord, error) {
	rec, ok := d.records[userID]
	if !ok {
		return UserRecord{}, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return rec, nil
}

func (d *fakeDirectory) GrantsByRoleID(ctx context.Context, roleID string) (perm.Grants, error) {
	rec, ok := d.byOID[roleID]
	if !ok {
		return perm.Grants{}, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	return rec.Grants()
}

func (d *fakeDirectory) Policy(ctx context.Context, policy string) (PolicyRecord, error) {
	rec, ok := d.policies[policy]
	if !ok {
		return PolicyRecord{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, policy)
	}
	return rec, nil
}

func (d *fakeDirectory) Insert(ctx context.Context, rec UserRecord) error {
	if _, ok := d.records[rec.UserID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateUser, rec.UserID)
	}
	d.add(rec)
	return nil
}

func (d *fakeDirectory) Apply(ctx context.Context, userID string, set map[string]any) error {
	rec, ok := d.records[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	for k, v := range set {
		switch k {
		case "role":
			rec.Role = v.(string)
		case "read":
			rec.Read = v
		case "write":
			rec.Write = v
		case "user_management":
			rec.UserManagement = v.(bool)
		}
	}
	d.records[userID] = rec
	d.byOID[rec.ID.Hex()] = rec
	return nil
}

func (d *fakeDirectory) Remove(ctx context.Context, userID string) error {
	rec, ok := d.records[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	delete(d.records, userID)
	delete(d.byOID, rec.ID.Hex())
	return nil
}

type fakeCache struct {
	entries map[string]auth.Credential
	broken  bool

	puts    int
	deletes int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]auth.Credential{}}
}

func (c *fakeCache) Get(ctx context.Context, userID string) (auth.Credential, bool, error) {
	if c.broken {
		return auth.Credential{}, false, errors.New("connection refused")
	}
	cred, ok := c.entries[userID]
	return cred, ok, nil
}

func (c *fakeCache) Put(ctx context.Context, cred auth.Credential) error {
	c.puts++
	if c.broken {
		return errors.New("connection refused")
	}
	c.entries[cred.UserID] = cred
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, userID string) error {
	c.deletes++
	if c.broken {
		return errors.New("connection refused")
	}
	delete(c.entries, userID)
	return nil
}

func seededService(t *testing.T) (*Service, *fakeDirectory, *fakeCache) {
	t.Helper()
	dir := newFakeDirectory()
	dir.add(UserRecord{
		UserID:     "alice",
		APIKeyHash: "$2a$10$hash",
		Role:       "analyst",
		Metadata:   map[string]string{"name": "Alice", "department": "research"},
		Read:       "all",
	})
	cache := newFakeCache()
	svc, err := NewService(dir, cache)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, dir, cache
}

func TestResolveMissHealsCache(t *testing.T) {
	svc, dir, cache := seededService(t)
	ctx := t.Context()

	cred, err := svc.Resolve(ctx, "alice")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if cred.UserID != "alice" || cred.Role != "analyst" || cred.Name != "Alice" {
		t.Fatalf("wrong credential: %+v", cred)
	}
	if dir.credentialCalls != 1 {
		t.Fatalf("directory calls = %d, want 1", dir.credentialCalls)
	}
	if _, ok := cache.entries["alice"]; !ok {
		t.Fatalf("cache not healed")
	}

	// A second resolve is served from the cache alone.
	again, err := svc.Resolve(ctx, "alice")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again != cred {
		t.Fatalf("cached credential diverged: %+v vs %+v", again, cred)
	}
	if dir.credentialCalls != 1 {
		t.Fatalf("directory re-queried after heal: %d calls", dir.credentialCalls)
	}
}

func TestResolveServesFromCacheDuringDirectoryOutage(t *testing.T) {
	svc, dir, _ := seededService(t)
	ctx := t.Context()

	if _, err := svc.Resolve(ctx, "alice"); err != nil {
		t.Fatalf("warm-up resolve: %v", err)
	}
	dir.failing = true

	cred, err := svc.Resolve(ctx, "alice")
	if err != nil {
		t.Fatalf("resolve during outage: %v", err)
	}
	if cred.UserID != "alice" {
		t.Fatalf("wrong credential: %+v", cred)
	}
}

func TestResolveBrokenCacheFallsThrough(t *testing.T) {
	svc, dir, cache := seededService(t)
	cache.broken = true

	cred, err := svc.Resolve(t.Context(), "alice")
	if err != nil {
		t.Fatalf("resolve with broken cache: %v", err)
	}
	if cred.UserID != "alice" {
		t.Fatalf("wrong credential: %+v", cred)
	}
	if dir.credentialCalls != 1 {
		t.Fatalf("directory calls = %d, want 1", dir.credentialCalls)
	}
}

func TestResolveUnknownUser(t *testing.T) {
	svc, _, _ := seededService(t)

	_, err := svc.Resolve(t.Context(), "ghost")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("err = %v, want auth.ErrNotFound", err)
	}
}

func TestResolveDirectoryFaultPropagates(t *testing.T) {
	svc, dir, _ := seededService(t)
	dir.failing = true

	_, err := svc.Resolve(t.Context(), "alice")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
}

func TestGrantsTranslatesNotFound(t *testing.T) {
	svc, _, _ := seededService(t)

	_, err := svc.Grants(t.Context(), bson.NewObjectID().Hex())
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("err = %v, want auth.ErrNotFound", err)
	}
}

func TestCreateReturnsOneTimeKey(t *testing.T) {
	svc, dir, cache := seededService(t)

	key, err := svc.Create(t.Context(), CreateParams{
		UserID:   "bob",
		Policy:   "analyst",
		Metadata: map[string]string{"name": "Bob"},
		Read:     perm.Scoped(map[string][]string{"reports": {"daily"}}),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if key == "" {
		t.Fatalf("empty api key")
	}

	rec := dir.records["bob"]
	if rec.APIKeyHash == key {
		t.Fatalf("stored key is not hashed")
	}
	if !auth.VerifyAPIKey(key, rec.APIKeyHash) {
		t.Fatalf("returned key does not verify against stored hash")
	}
	if rec.UserManagement {
		t.Fatalf("non-admin got user_management")
	}
	if rec.Write != nil {
		t.Fatalf("omitted write axis should stay absent, got %v", rec.Write)
	}
	if _, ok := cache.entries["bob"]; !ok {
		t.Fatalf("cache projection not written")
	}
}

func TestCreateAdminOverridesGrants(t *testing.T) {
	svc, dir, _ := seededService(t)

	_, err := svc.Create(t.Context(), CreateParams{
		UserID: "root",
		Policy: "admin",
		Read:   perm.None(),
		Write:  perm.Scoped(map[string][]string{"x": {"y"}}),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := dir.records["root"]
	grants, err := rec.Grants()
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if !grants.Read.IsAll() || !grants.Write.IsAll() || !grants.UserManagement {
		t.Fatalf("admin grants not forced: %+v", grants)
	}
}

func TestCreateUnknownPolicy(t *testing.T) {
	svc, _, _ := seededService(t)

	_, err := svc.Create(t.Context(), CreateParams{UserID: "bob", Policy: "superuser"})
	if !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("err = %v, want ErrPolicyNotFound", err)
	}
}

func TestCreateDuplicateUser(t *testing.T) {
	svc, _, _ := seededService(t)

	_, err := svc.Create(t.Context(), CreateParams{UserID: "alice", Policy: "analyst"})
	if !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("err = %v, want ErrDuplicateUser", err)
	}
}

func TestUpdateEmptyIsNoOp(t *testing.T) {
	svc, _, _ := seededService(t)

	// Even for a user that does not exist.
	if err := svc.Update(t.Context(), UpdateParams{UserID: "ghost"}); err != nil {
		t.Fatalf("empty update: %v", err)
	}
}

func TestUpdateToAdminForcesGrants(t *testing.T) {
	svc, dir, _ := seededService(t)

	if err := svc.Update(t.Context(), UpdateParams{UserID: "alice", Policy: "admin"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	grants, err := dir.records["alice"].Grants()
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if !grants.Read.IsAll() || !grants.Write.IsAll() || !grants.UserManagement {
		t.Fatalf("admin promotion did not force grants: %+v", grants)
	}
}

func TestUpdateAwayFromAdminClearsManagement(t *testing.T) {
	svc, dir, _ := seededService(t)
	dir.add(UserRecord{
		UserID:         "root",
		Role:           "admin",
		Metadata:       map[string]string{},
		Read:           "all",
		Write:          "all",
		UserManagement: true,
	})

	if err := svc.Update(t.Context(), UpdateParams{UserID: "root", Policy: "analyst"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec := dir.records["root"]
	if rec.UserManagement {
		t.Fatalf("management flag survived demotion")
	}
	if rec.Role != "analyst" {
		t.Fatalf("role = %q", rec.Role)
	}
}

func TestUpdateExplicitDenyAxis(t *testing.T) {
	svc, dir, _ := seededService(t)

	if err := svc.Update(t.Context(), UpdateParams{UserID: "alice", Read: perm.None()}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	grants, err := dir.records["alice"].Grants()
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if !grants.Read.IsNone() {
		t.Fatalf("read axis = %+v, want explicit deny", grants.Read)
	}
}

func TestUpdateAxisWinsOverPolicySwitch(t *testing.T) {
	svc, dir, _ := seededService(t)

	err := svc.Update(t.Context(), UpdateParams{
		UserID: "alice",
		Policy: "admin",
		Read:   perm.None(),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	grants, err := dir.records["alice"].Grants()
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if !grants.Read.IsNone() {
		t.Fatalf("explicit read axis lost to policy switch: %+v", grants.Read)
	}
	if !grants.Write.IsAll() || !grants.UserManagement {
		t.Fatalf("admin defaults missing: %+v", grants)
	}
}

func TestUpdateDoesNotTouchCache(t *testing.T) {
	svc, _, cache := seededService(t)

	if _, err := svc.Resolve(t.Context(), "alice"); err != nil {
		t.Fatalf("warm-up: %v", err)
	}
	before := cache.entries["alice"]

	if err := svc.Update(t.Context(), UpdateParams{UserID: "alice", Policy: "admin"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if cache.entries["alice"] != before {
		t.Fatalf("cache entry changed on update")
	}
}

func TestUpdateUnknownUser(t *testing.T) {
	svc, _, _ := seededService(t)

	err := svc.Update(t.Context(), UpdateParams{UserID: "ghost", Policy: "analyst"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteEvictsCache(t *testing.T) {
	svc, dir, cache := seededService(t)

	if _, err := svc.Resolve(t.Context(), "alice"); err != nil {
		t.Fatalf("warm-up: %v", err)
	}
	if err := svc.Delete(t.Context(), "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := dir.records["alice"]; ok {
		t.Fatalf("record survived delete")
	}
	if _, ok := cache.entries["alice"]; ok {
		t.Fatalf("cache entry survived delete")
	}
}

func TestDeleteUnknownUser(t *testing.T) {
	svc, _, cache := seededService(t)

	err := svc.Delete(t.Context(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if cache.deletes != 0 {
		t.Fatalf("cache touched for missing user")
	}
}

func TestDeleteBrokenCacheStillSucceeds(t *testing.T) {
	svc, dir, cache := seededService(t)
	cache.broken = true

	if err := svc.Delete(t.Context(), "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := dir.records["alice"]; ok {
		t.Fatalf("record survived delete")
	}
}
