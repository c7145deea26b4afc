// Package resolver maps hierarchical paths ("Default/10.0.0.0/8/10.0.1.0/24")
// to remote numeric identifiers, backed by a three-tier cache: an in-memory
// LRU for the short-lived view-context/negative caches, an optional shared
// Redis tier, and an on-disk SQLite table for the cross-run positive cache.
package resolver

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/bamops/reconciler/internal/bamclient"
	"github.com/bamops/reconciler/internal/core"
)

// Resolver maps a (type, canonical-path) pair to a remote numeric id.
type Resolver struct {
	client *bamclient.Client
	db     *sql.DB

	// redisClient, when non-nil, fronts the on-disk positive cache with a
	// tier shared across every reconciler process in a Standard-profile
	// deployment, so a path resolved by one process is warm for the next
	// without either one touching the remote API.
	redisClient *redis.Client

	positiveTTL    time.Duration
	negativeTTL    time.Duration
	viewContextTTL time.Duration

	mu          sync.Mutex
	viewContext *lru.Cache[string, viewEntry]
	negative    *lru.Cache[string, time.Time]

	bypassCache bool
}

type viewEntry struct {
	id        int64
	expiresAt time.Time
}

// Config configures a Resolver.
type Config struct {
	DBPath         string
	InMemorySize   int
	PositiveTTL    time.Duration
	NegativeTTL    time.Duration
	ViewContextTTL time.Duration
	BypassCache    bool

	// RedisAddr, when non-empty, enables the shared positive-cache tier.
	// Lite-profile deployments leave this unset and rely solely on the
	// in-memory and on-disk tiers.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New opens (creating if needed) the on-disk positive cache at
// cfg.DBPath and constructs the in-memory caches.
func New(client *bamclient.Client, cfg Config) (*Resolver, error) {
	if cfg.InMemorySize == 0 {
		cfg.InMemorySize = 4096
	}
	if cfg.PositiveTTL == 0 {
		cfg.PositiveTTL = time.Hour
	}
	if cfg.NegativeTTL == 0 {
		cfg.NegativeTTL = time.Minute
	}
	if cfg.ViewContextTTL == 0 {
		cfg.ViewContextTTL = 5 * time.Minute
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("resolver: failed to open cache db: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("resolver: failed to migrate cache db: %w", err)
	}

	viewContext, err := lru.New[string, viewEntry](cfg.InMemorySize)
	if err != nil {
		return nil, fmt.Errorf("resolver: failed to build view-context cache: %w", err)
	}
	negative, err := lru.New[string, time.Time](cfg.InMemorySize)
	if err != nil {
		return nil, fmt.Errorf("resolver: failed to build negative cache: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	return &Resolver{
		client:         client,
		db:             db,
		redisClient:    redisClient,
		positiveTTL:    cfg.PositiveTTL,
		negativeTTL:    cfg.NegativeTTL,
		viewContextTTL: cfg.ViewContextTTL,
		viewContext:    viewContext,
		negative:       negative,
		bypassCache:    cfg.BypassCache,
	}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS resolver_cache (
	type TEXT NOT NULL,
	canonical_path TEXT NOT NULL,
	id INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (type, canonical_path)
);
`

// Close releases the on-disk cache handle and the Redis connection, if any.
func (r *Resolver) Close() error {
	if r.redisClient != nil {
		r.redisClient.Close()
	}
	return r.db.Close()
}

// Flush clears every cache tier.
func (r *Resolver) Flush(ctx context.Context) error {
	r.mu.Lock()
	r.viewContext.Purge()
	r.negative.Purge()
	r.mu.Unlock()
	if r.redisClient != nil {
		if err := r.redisClient.FlushDB(ctx).Err(); err != nil {
			return fmt.Errorf("resolver: failed to flush redis tier: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, "DELETE FROM resolver_cache")
	return err
}

// canonicalize normalizes a hierarchical path so cache keys are stable
// regardless of incidental whitespace or trailing slashes.
func canonicalize(path string) string {
	path = strings.TrimSpace(path)
	for len(path) > 0 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}

func cacheKey(kind, path string) string {
	return kind + "\x00" + canonicalize(path)
}

// Resolve maps a (kind, path) pair to a remote numeric id, consulting the
// view-context cache, then the Redis tier (when configured), then the
// on-disk positive cache, then the negative cache, falling through to resolveFn (supplied by the planner, since the
// exact remote lookup differs per kind) only on a full miss.
func (r *Resolver) Resolve(ctx context.Context, kind, path string, resolveFn func(ctx context.Context) (int64, error)) (int64, error) {
	key := cacheKey(kind, path)

	if !r.bypassCache {
		if id, ok := r.lookupViewContext(key); ok {
			return id, nil
		}
		if id, ok := r.lookupRedis(ctx, key); ok {
			r.storeViewContext(key, id)
			return id, nil
		}
		if id, ok, err := r.lookupPositive(ctx, kind, path); err != nil {
			return 0, err
		} else if ok {
			r.storeViewContext(key, id)
			r.storeRedis(ctx, key, id)
			return id, nil
		}
		if r.isNegative(key) {
			return 0, core.ErrPathNotFound
		}
	}

	id, err := resolveFn(ctx)
	if err != nil {
		if err == core.ErrPathNotFound {
			r.storeNegative(key)
		}
		return 0, err
	}

	r.storeViewContext(key, id)
	r.storeRedis(ctx, key, id)
	if err := r.storePositive(ctx, kind, path, id); err != nil {
		return id, err
	}
	return id, nil
}

// lookupRedis consults the shared cache tier; any error (including a
// disconnected or unconfigured client) is treated as a miss so the
// resolver falls through to the durable on-disk cache.
func (r *Resolver) lookupRedis(ctx context.Context, key string) (int64, bool) {
	if r.redisClient == nil {
		return 0, false
	}
	val, err := r.redisClient.Get(ctx, key).Result()
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (r *Resolver) storeRedis(ctx context.Context, key string, id int64) {
	if r.redisClient == nil {
		return
	}
	r.redisClient.Set(ctx, key, strconv.FormatInt(id, 10), r.positiveTTL)
}

func (r *Resolver) lookupViewContext(key string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.viewContext.Get(key)
	if !ok {
		return 0, false
	}
	if time.Now().After(entry.expiresAt) {
		r.viewContext.Remove(key)
		return 0, false
	}
	return entry.id, true
}

func (r *Resolver) storeViewContext(key string, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewContext.Add(key, viewEntry{id: id, expiresAt: time.Now().Add(r.viewContextTTL)})
}

func (r *Resolver) isNegative(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiresAt, ok := r.negative.Get(key)
	if !ok {
		return false
	}
	if time.Now().After(expiresAt) {
		r.negative.Remove(key)
		return false
	}
	return true
}

func (r *Resolver) storeNegative(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.negative.Add(key, time.Now().Add(r.negativeTTL))
}

func (r *Resolver) lookupPositive(ctx context.Context, kind, path string) (int64, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, expires_at FROM resolver_cache WHERE type = ? AND canonical_path = ?`,
		kind, canonicalize(path))

	var id int64
	var expiresAt int64
	if err := row.Scan(&id, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("resolver: positive cache lookup failed: %w", err)
	}
	if time.Now().Unix() > expiresAt {
		return 0, false, nil
	}
	return id, true, nil
}

func (r *Resolver) storePositive(ctx context.Context, kind, path string, id int64) error {
	expiresAt := time.Now().Add(r.positiveTTL).Unix()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO resolver_cache (type, canonical_path, id, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(type, canonical_path) DO UPDATE SET id = excluded.id, expires_at = excluded.expires_at`,
		kind, canonicalize(path), id, expiresAt)
	if err != nil {
		return fmt.Errorf("resolver: failed to persist positive cache entry: %w", err)
	}
	return nil
}
