package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/migrate"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"racesync/internal/model"
)

//go:embed migrations/event/*.sql
var eventFiles embed.FS

//go:embed migrations/shared/*.sql
var sharedFiles embed.FS

var (
	eventMigrations  = mustSub(eventFiles, "migrations/event")
	sharedMigrations = mustSub(sharedFiles, "migrations/shared")
)

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

const DefaultMaxOpenConns = 5

type Config struct {
	DataDir      string
	MaxOpenConns int
}

// Router hands out one migrated connection pool per event, each backed by
// its own SQLite file. Handles are opened lazily and cached until Close.
type Router struct {
	cfg Config
	log *zerolog.Logger

	mu     sync.RWMutex
	stores map[int64]*bun.DB
	opens  singleflight.Group
}

func NewRouter(cfg Config, log *zerolog.Logger) *Router {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = DefaultMaxOpenConns
	}
	return &Router{
		cfg:    cfg,
		log:    log,
		stores: make(map[int64]*bun.DB),
	}
}

func (r *Router) Path(eventID int64) string {
	return filepath.Join(r.cfg.DataDir, fmt.Sprintf("ev%04d.sqlite", eventID))
}

func (r *Router) cached(eventID int64) *bun.DB {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stores[eventID]
}

// Get returns the store of eventID, creating and migrating it on first use.
// Concurrent first calls for the same id share a single open.
func (r *Router) Get(ctx context.Context, eventID int64) (*bun.DB, error) {
	if db := r.cached(eventID); db != nil {
		return db, nil
	}

	v, err, _ := r.opens.Do(strconv.FormatInt(eventID, 10), func() (any, error) {
		if db := r.cached(eventID); db != nil {
			return db, nil
		}
		db, err := Open(context.WithoutCancel(ctx), r.Path(eventID), r.cfg.MaxOpenConns, eventMigrations, r.log)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.stores[eventID] = db
		r.mu.Unlock()
		r.log.Info().Int64("event_id", eventID).Str("path", r.Path(eventID)).Msg("event store opened")
		return db, nil
	})
	if err != nil {
		r.log.Error().Err(err).Int64("event_id", eventID).Msg("failed to open event store")
		return nil, &model.StorageError{EventID: eventID, Err: err}
	}
	return v.(*bun.DB), nil
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, db := range r.stores {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close store of event %d: %w", id, err)
		}
		delete(r.stores, id)
	}
	return firstErr
}

// OpenShared opens the store holding events and sessions.
func OpenShared(ctx context.Context, path string, maxConns int, log *zerolog.Logger) (*bun.DB, error) {
	if maxConns <= 0 {
		maxConns = DefaultMaxOpenConns
	}
	return Open(ctx, path, maxConns, sharedMigrations, log)
}

// Open creates the SQLite file at path if needed, opens a pool on it and
// applies the migrations found in migrationsFS that were not applied yet.
func Open(ctx context.Context, path string, maxConns int, migrationsFS fs.FS, log *zerolog.Logger) (*bun.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create store file: %w", err)
	}
	_ = f.Close()

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	sqldb.SetMaxOpenConns(maxConns)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}
	if err := migrateUp(ctx, db, migrationsFS, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrateUp(ctx context.Context, db *bun.DB, migrationsFS fs.FS, log *zerolog.Logger) error {
	migrations := migrate.NewMigrations()
	if err := migrations.Discover(migrationsFS); err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	// One process owns the data dir and opens are serialized per store,
	// so the migrator table lock is not taken.
	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	if group.IsZero() {
		log.Debug().Msg("no new migrations")
		return nil
	}
	log.Info().Msgf("migrated to %s", group)
	return nil
}
