package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"orbdata.io/internal/auth"
	"orbdata.io/internal/perm"
)

const directoryTimeout = 5 * time.Second

// Directory is the Mongo-backed system of record for users and policies.
type Directory struct {
	client  *mongo.Client
	timeout time.Duration
}

// NewDirectory wraps the userdb client.
func NewDirectory(client *mongo.Client) *Directory {
	return &Directory{client: client, timeout: directoryTimeout}
}

func (d *Directory) users() *mongo.Collection {
	return d.client.Database(DBName).Collection(CollUsers)
}

func (d *Directory) policies() *mongo.Collection {
	return d.client.Database(DBName).Collection(CollPolicies)
}

func (d *Directory) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

// Credential looks up a user by id and projects it into the cache-entry
// shape. Returns ErrNotFound when the user does not exist.
func (d *Directory) Credential(ctx context.Context, userID string) (auth.Credential, error) {
	rec, err := d.Fetch(ctx, userID)
	if err != nil {
		return auth.Credential{}, err
	}
	return rec.Credential(), nil
}

// Fetch returns the full durable record for a user.
func (d *Directory) Fetch(ctx context.Context, userID string) (UserRecord, error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	var rec UserRecord
	err := d.users().FindOne(ctx, bson.M{"user_id": userID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return UserRecord{}, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return UserRecord{}, storageErr("fetch user", err)
	}
	return rec, nil
}

// GrantsByRoleID fetches the current grant axes for a role identifier,
// always from the durable store. Token issuance depends on this read
// being fresh, never cached.
func (d *Directory) GrantsByRoleID(ctx context.Context, roleID string) (perm.Grants, error) {
	oid, err := bson.ObjectIDFromHex(roleID)
	if err != nil {
		return perm.Grants{}, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}

	ctx, cancel := d.bounded(ctx)
	defer cancel()

	var rec UserRecord
	err = d.users().FindOne(ctx, bson.M{"_id": oid},
		options.FindOne().SetProjection(bson.M{"read": 1, "write": 1, "user_management": 1}),
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return perm.Grants{}, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	if err != nil {
		return perm.Grants{}, storageErr("fetch grants", err)
	}
	grants, err := rec.Grants()
	if err != nil {
		return perm.Grants{}, storageErr("decode grants", err)
	}
	return grants, nil
}

// Policy returns the named catalog entry. Returns ErrPolicyNotFound
// when the policy is not in the catalog.
func (d *Directory) Policy(ctx context.Context, policy string) (PolicyRecord, error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	var rec PolicyRecord
	err := d.policies().FindOne(ctx, bson.M{"policy": policy}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PolicyRecord{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, policy)
	}
	if err != nil {
		return PolicyRecord{}, storageErr("lookup policy", err)
	}
	return rec, nil
}

// Insert writes a new user record. Returns ErrDuplicateUser when the
// user_id is already taken.
func (d *Directory) Insert(ctx context.Context, rec UserRecord) error {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	if _, err := d.users().InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateUser, rec.UserID)
		}
		return storageErr("insert user", err)
	}
	return nil
}

// Apply sets the given fields on an existing user record.
func (d *Directory) Apply(ctx context.Context, userID string, set map[string]any) error {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	res, err := d.users().UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": set})
	if err != nil {
		return storageErr("update user", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return nil
}

// Remove deletes a user record. Returns ErrNotFound when nothing matched.
func (d *Directory) Remove(ctx context.Context, userID string) error {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	res, err := d.users().DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return storageErr("delete user", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return nil
}

// EnsureIndexes creates the unique index backing duplicate detection.
func (d *Directory) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	_, err := d.users().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return storageErr("ensure indexes", err)
	}
	return nil
}

// SeedPolicies inserts any missing policy catalog entries.
func (d *Directory) SeedPolicies(ctx context.Context, names []string) error {
	for _, name := range names {
		ctx, cancel := d.bounded(ctx)
		_, err := d.policies().UpdateOne(ctx,
			bson.M{"policy": name},
			bson.M{"$setOnInsert": bson.M{"policy": name}},
			options.UpdateOne().SetUpsert(true),
		)
		cancel()
		if err != nil {
			return storageErr("seed policy", err)
		}
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
