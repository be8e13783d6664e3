// cachectl inspects and maintains an on-disk token cache.
//
//	cachectl list                          enumerate cached accounts
//	cachectl clear [AccessToken|RefreshToken|IdToken]
//	                                       empty the cache, or one record type
//	cachectl expire -client ID -account HOME -authority URL
//	                                       force-expire access tokens
//	cachectl remove -account HOME          drop an account and its credentials
//
// Configuration comes from the environment: CACHE_DIR or CACHE_DB selects
// the backend, CACHE_SECRET_KEY_PATH enables at-rest encryption.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/identicore/identicore/pkg/authority"
	"github.com/identicore/identicore/pkg/cache"
	"github.com/identicore/identicore/pkg/cache/storage"
	"github.com/identicore/identicore/pkg/slogx"
)

func main() {
	cfg := LoadConfig()

	logger := slogx.New(slogx.Config{
		Component: "cachectl",
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Output:    os.Stderr,
	})

	manager, cleanup, err := buildManager(cfg)
	if err != nil {
		log.Fatalf("failed to open cache: %v", err)
	}
	defer cleanup()

	if len(os.Args) < 2 {
		usage()
	}

	ctx := slogx.WithContext(context.Background(), logger)
	switch os.Args[1] {
	case "list":
		err = runList(ctx, manager)
	case "clear":
		err = runClear(ctx, manager, os.Args[2:])
	case "expire":
		err = runExpire(ctx, manager, os.Args[2:])
	case "remove":
		err = runRemove(ctx, manager, os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cachectl <list|clear|expire|remove> [flags]")
	os.Exit(2)
}

func buildManager(cfg Config) (*cache.Manager, func(), error) {
	var (
		store   storage.PathStorage
		cleanup = func() {}
	)
	if cfg.CacheDB != "" {
		s, err := storage.NewSQLite(cfg.CacheDB)
		if err != nil {
			return nil, nil, err
		}
		store = s
		cleanup = func() { _ = s.Close() }
	} else {
		s, err := storage.NewFile(cfg.CacheDir)
		if err != nil {
			return nil, nil, err
		}
		store = s
	}

	var opts []storage.WorkerOption
	if cfg.SecretKeyPath != "" {
		secret, err := os.ReadFile(cfg.SecretKeyPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("read secret key: %w", err)
		}
		enc, err := storage.NewAESGCM(secret, nil)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts = append(opts, storage.WithEncryptor(enc))
	}

	worker := storage.NewWorker(store, opts...)
	return cache.NewManager(worker), cleanup, nil
}

func runList(ctx context.Context, manager *cache.Manager) error {
	accounts, err := manager.Accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Println("cache is empty")
		return nil
	}
	for _, a := range accounts {
		fmt.Printf("%s\t%s\t%s\t%s\n", a.HomeAccountID, a.Environment, a.Realm, a.Username)
	}
	return nil
}

func runClear(ctx context.Context, manager *cache.Manager, args []string) error {
	if len(args) == 0 {
		return manager.Clear(ctx)
	}
	return manager.ClearCredentialType(ctx, args[0])
}

func runExpire(ctx context.Context, manager *cache.Manager, args []string) error {
	fs := flag.NewFlagSet("expire", flag.ExitOnError)
	clientID := fs.String("client", "", "client id whose access tokens to expire")
	account := fs.String("account", "", "home account id")
	authorityURL := fs.String("authority", "", "authority URL, e.g. https://login.microsoftonline.com/common")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clientID == "" || *account == "" || *authorityURL == "" {
		return fmt.Errorf("-client, -account and -authority are required")
	}

	auth, err := authority.Parse(*authorityURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return manager.ForceExpire(ctx, cache.Request{
		HomeAccountID: *account,
		Authority:     auth,
		ClientID:      *clientID,
	})
}

func runRemove(ctx context.Context, manager *cache.Manager, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	account := fs.String("account", "", "home account id to remove")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account == "" {
		return fmt.Errorf("-account is required")
	}
	return manager.RemoveAccount(ctx, *account)
}
