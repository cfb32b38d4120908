package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"orbdata.io/internal/audit"
	"orbdata.io/internal/auth"
	"orbdata.io/internal/config"
	"orbdata.io/internal/dataops"
	"orbdata.io/internal/httpapi"
	"orbdata.io/internal/obs"
	"orbdata.io/internal/router"
	"orbdata.io/internal/users"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("ORB_COMMIT"))

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// DefaultDocumentM keeps loosely-typed document fields as maps so
	// they serialize to JSON the way callers sent them.
	bsonOpts := &mongooptions.BSONOptions{DefaultDocumentM: true}

	userDB, err := mongo.Connect(mongooptions.Client().ApplyURI(cfg.UserDBURI).SetBSONOptions(bsonOpts))
	if err != nil {
		log.Fatalf("connect userdb: %v", err)
	}
	dataDB := userDB
	if cfg.DataURI != cfg.UserDBURI {
		dataDB, err = mongo.Connect(mongooptions.Client().ApplyURI(cfg.DataURI).SetBSONOptions(bsonOpts))
		if err != nil {
			log.Fatalf("connect data cluster: %v", err)
		}
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(redisOpts)

	directory := users.NewDirectory(userDB)
	cache := users.NewCache(rdb)
	userSvc, err := users.NewService(directory, cache)
	if err != nil {
		log.Fatalf("users: %v", err)
	}

	tokens, err := auth.NewTokenService(cfg.ServerSecret, auth.WithTokenTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	authSvc, err := auth.NewService(userSvc, tokens)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	rt, err := router.New(dataops.NewStore(dataDB), userSvc)
	if err != nil {
		log.Fatalf("router: %v", err)
	}

	usage := audit.NewRecorder(userDB.Database(users.DBName).Collection(users.CollUsageLogs))

	api := httpapi.New(httpapi.Options{
		Auth:    authSvc,
		Router:  rt,
		Usage:   usage,
		Version: version,
		Ready: []httpapi.ReadyCheck{
			func(ctx context.Context) error { return userDB.Ping(ctx, readpref.Primary()) },
			func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		RateBurst:     cfg.RateBurst,
		RatePerSecond: cfg.RatePerSecond,
		MaxBodyBytes:  cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting orb-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = userDB.Disconnect(ctx)
	if dataDB != userDB {
		_ = dataDB.Disconnect(ctx)
	}
	_ = rdb.Close()
	log.Println("Stopped")
}
