package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/api"
	"taskboard/config"
	"taskboard/notify"
	"taskboard/relay"
	"taskboard/remote"
	"taskboard/storage"
	"taskboard/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.ApplyLogging()
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rc *redis.Client
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	if redisOpts != nil {
		rc = redis.NewClient(redisOpts)
		defer rc.Close()
	}

	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if rc != nil {
		notifier = notify.NewRedisNotifier(rc, logger)
	}

	pool := syncer.NewPool(syncer.PoolConfig{
		Workers:        cfg.SyncWorkers,
		Buffer:         cfg.SyncBuffer,
		HandoffTimeout: cfg.SyncHandoffTimeout,
	}, logger)
	defer pool.Close()

	regOpts := api.RegistryOptions{Notifier: notifier, Pool: pool, Logger: logger}
	server := &api.Server{Logger: logger}

	switch cfg.TaskStore {
	case config.StoreTable:
		store, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable, cfg.UsersTable, cfg.TaskEventsQueue)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		regOpts.Stores = func(user, _ string) syncer.TaskStore { return store.ForUser(user) }
		cache := remote.NewUsernameCache(store, rc, cfg.UsernamesCacheTTL)
		regOpts.Directory = cache
		server.Registrar = evictingRegistrar{Storage: store, cache: cache}
		if cfg.TaskEventsQueue != "" {
			q, err := storage.NewEventQueue(cfg.StorageConnectionString, cfg.TaskEventsQueue)
			if err != nil {
				log.Fatalf("events queue: %v", err)
			}
			go func() {
				if err := relay.New(q, notifier, logger).Run(ctx); err != nil {
					log.Errorf("relay: %v", err)
				}
			}()
		}
	default:
		client := remote.New(cfg.RemoteBaseURL, &http.Client{Timeout: cfg.RemoteTimeout}, logger)
		regOpts.Stores = func(_, bearer string) syncer.TaskStore { return client.WithBearer(bearer) }
		regOpts.CacheDirectory = func(d syncer.UsernameDirectory) syncer.UsernameDirectory {
			return remote.NewUsernameCache(d, rc, cfg.UsernamesCacheTTL)
		}
	}
	server.Registry = api.NewRegistry(regOpts)

	authCfg := api.AuthConfig{Audience: cfg.AuthAudience, Issuer: cfg.AuthIssuer}
	if cfg.LocalAuthSecret != "" {
		authCfg.SharedSecret = []byte(cfg.LocalAuthSecret)
	} else {
		if cfg.JWKSURL == "" {
			log.Fatal("missing auth config")
		}
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		authCfg.JWKS = jwks
	}
	auth, err := api.NewAuth(authCfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	server.Auth = auth

	if rc != nil {
		server.Deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		server.Notifications = func(ctx context.Context, user string, fn func(notify.Notification)) error {
			return notify.Subscribe(ctx, rc, user, fn)
		}
		server.Health = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Register(e, server)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

// evictingRegistrar drops the cached directory once a new user is stored.
type evictingRegistrar struct {
	*storage.Storage
	cache *remote.UsernameCache
}

func (r evictingRegistrar) RegisterUser(ctx context.Context, user string) error {
	if err := r.Storage.RegisterUser(ctx, user); err != nil {
		return err
	}
	r.cache.Evict(ctx)
	return nil
}
