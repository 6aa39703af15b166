package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	StoreHTTP  = "http"
	StoreTable = "table"
)

// Config holds the service settings read from the environment.
type Config struct {
	ListenAddr string
	Debug      bool

	TaskStore     string
	RemoteBaseURL string

	StorageConnectionString string
	TasksTable              string
	UsersTable              string
	TaskEventsQueue         string

	RedisConnectionString string
	DeduperTTL            time.Duration
	UsernamesCacheTTL     time.Duration

	SyncWorkers        int
	SyncBuffer         int
	SyncHandoffTimeout time.Duration

	JWKSURL         string
	AuthAudience    string
	AuthIssuer      string
	LocalAuthSecret string

	RemoteTimeout time.Duration
}

// Load reads an optional .env file and then the environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var err error
	cfg := Config{
		ListenAddr:              listenAddr(),
		TaskStore:               strings.ToLower(envString("TASK_STORE", StoreHTTP)),
		RemoteBaseURL:           envString("REMOTE_BASE_URL", "http://localhost:8080"),
		StorageConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:              os.Getenv("TASKS_TABLE"),
		UsersTable:              os.Getenv("USERS_TABLE"),
		TaskEventsQueue:         os.Getenv("TASK_EVENTS_QUEUE"),
		RedisConnectionString:   os.Getenv("REDIS_CONNECTION_STRING"),
		JWKSURL:                 os.Getenv("AUTH_JWKS_URL"),
		AuthAudience:            os.Getenv("AUTH_AUDIENCE"),
		AuthIssuer:              os.Getenv("AUTH_ISSUER"),
		LocalAuthSecret:         os.Getenv("LOCAL_AUTH_SHARED_SECRET"),
	}
	if cfg.Debug, err = envBool("DEBUG", false); err != nil {
		return Config{}, err
	}
	if cfg.DeduperTTL, err = envDur("DEDUPER_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.UsernamesCacheTTL, err = envDur("USERNAMES_CACHE_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RemoteTimeout, err = envDur("REMOTE_REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SyncWorkers, err = envInt("SYNC_WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.SyncBuffer, err = envInt("SYNC_BUFFER", 256); err != nil {
		return Config{}, err
	}
	if cfg.SyncHandoffTimeout, err = envDur("SYNC_HANDOFF_TIMEOUT", 15*time.Millisecond); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks that the selected task store is fully configured.
func (c Config) Validate() error {
	switch c.TaskStore {
	case StoreHTTP:
		if c.RemoteBaseURL == "" {
			return errors.New("missing REMOTE_BASE_URL")
		}
	case StoreTable:
		if c.StorageConnectionString == "" || c.TasksTable == "" || c.UsersTable == "" {
			return errors.New("missing storage config")
		}
	default:
		return fmt.Errorf("unsupported TASK_STORE %q", c.TaskStore)
	}
	if c.SyncWorkers <= 0 {
		return errors.New("invalid SYNC_WORKERS: must be greater than zero")
	}
	if c.SyncBuffer < 0 {
		return errors.New("invalid SYNC_BUFFER: must not be negative")
	}
	return nil
}

// ApplyLogging sets the global log level.
func (c Config) ApplyLogging() {
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}
}

// RedisOptions parses the Redis connection string. It accepts a redis:// URL
// or the "host:port,password=...,ssl=true" form. It returns nil when Redis is
// not configured.
func (c Config) RedisOptions() (*redis.Options, error) {
	return ParseRedis(c.RedisConnectionString)
}

func ParseRedis(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, nil
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("invalid REDIS_CONNECTION_STRING")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func listenAddr() string {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		return v
	}
	if v, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && v != "" {
		return ":" + v
	}
	return ":8080"
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDur(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
