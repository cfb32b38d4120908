// Command bootstrap prepares a fresh deployment: indexes, the policy
// catalog, and the first admin user. It prints the admin's one-time API
// key and exits; running it again against a seeded database is safe.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"orbdata.io/internal/auth"
	"orbdata.io/internal/users"
)

// noCache satisfies the credential cache without Redis; bootstrap runs
// before any cache is worth warming.
type noCache struct{}

func (noCache) Get(ctx context.Context, userID string) (auth.Credential, bool, error) {
	return auth.Credential{}, false, nil
}

func (noCache) Put(ctx context.Context, cred auth.Credential) error { return nil }

func (noCache) Delete(ctx context.Context, userID string) error { return nil }

func main() {
	adminID := flag.String("admin", "admin", "user id of the first admin")
	flag.Parse()

	uri := os.Getenv("ORB_USERDB_URI")
	if uri == "" {
		log.Fatal("ORB_USERDB_URI is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(mongooptions.Client().ApplyURI(uri))
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer func() { _ = client.Disconnect(ctx) }()

	directory := users.NewDirectory(client)
	if err := directory.EnsureIndexes(ctx); err != nil {
		log.Fatalf("ensure indexes: %v", err)
	}
	if err := directory.SeedPolicies(ctx, []string{users.PolicyAdmin, "analyst", "service"}); err != nil {
		log.Fatalf("seed policies: %v", err)
	}

	svc, err := users.NewService(directory, noCache{})
	if err != nil {
		log.Fatalf("users: %v", err)
	}
	key, err := svc.Create(ctx, users.CreateParams{
		UserID: *adminID,
		Policy: users.PolicyAdmin,
	})
	if errors.Is(err, users.ErrDuplicateUser) {
		// A prior run already created the admin; its key was printed then.
		fmt.Printf("admin user %q already exists, nothing to do\n", *adminID)
		return
	}
	if err != nil {
		log.Fatalf("create admin: %v", err)
	}

	fmt.Printf("admin user %q created\n", *adminID)
	fmt.Printf("one-time api key: %s\n", key)
	fmt.Println("store it now; it is not recoverable")
}
