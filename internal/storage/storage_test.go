package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"racesync/internal/model"
)

func newTestRouter(t *testing.T, dir string) *Router {
	t.Helper()
	log := zerolog.Nop()
	r := NewRouter(Config{DataDir: dir}, &log)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func appliedMigrations(t *testing.T, db *bun.DB) int {
	t.Helper()
	n, err := db.NewSelect().Table("bun_migrations").Count(context.Background())
	if err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	return n
}

func TestRouterConcurrentFirstAccess(t *testing.T) {
	dir := t.TempDir()
	r := newTestRouter(t, dir)

	const callers = 16
	dbs := make([]*bun.DB, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dbs[i], errs[i] = r.Get(context.Background(), 1)
		}(i)
	}
	wg.Wait()

	for i := range dbs {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if dbs[i] != dbs[0] {
			t.Fatalf("caller %d got a different handle", i)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "ev0001.sqlite")); err != nil {
		t.Fatalf("store file: %v", err)
	}
	if n := appliedMigrations(t, dbs[0]); n != 3 {
		t.Errorf("applied migrations = %d, want 3", n)
	}
	for _, table := range []string{"runs", "classes", "changes", "files", "event_info", "checklist_change_sets"} {
		if _, err := dbs[0].NewSelect().Table(table).Count(context.Background()); err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestRouterReopenSkipsAppliedMigrations(t *testing.T) {
	dir := t.TempDir()
	first := newTestRouter(t, dir)
	db, err := first.Get(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.NewInsert().Model(&model.Run{RunID: 5, LastName: "Kral"}).Exec(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := newTestRouter(t, dir)
	db, err = second.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n := appliedMigrations(t, db); n != 3 {
		t.Errorf("applied migrations = %d, want 3", n)
	}
	n, err := db.NewSelect().Model((*model.Run)(nil)).Count(context.Background())
	if err != nil || n != 1 {
		t.Errorf("runs after reopen = %d, %v", n, err)
	}
}

func TestRouterFailureIsolated(t *testing.T) {
	dir := t.TempDir()
	r := newTestRouter(t, dir)

	good, err := r.Get(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	// a directory where the store file should be makes the open fail
	if err := os.Mkdir(r.Path(2), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err = r.Get(context.Background(), 2)
	var serr *model.StorageError
	if !errors.As(err, &serr) || serr.EventID != 2 {
		t.Fatalf("err = %v, want StorageError for event 2", err)
	}

	again, err := r.Get(context.Background(), 1)
	if err != nil || again != good {
		t.Fatalf("event 1 affected by event 2 failure: %v", err)
	}

	// failures are not cached
	if err := os.Remove(r.Path(2)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(context.Background(), 2); err != nil {
		t.Fatalf("retry after fix: %v", err)
	}
}

func TestOpenShared(t *testing.T) {
	log := zerolog.Nop()
	db, err := OpenShared(context.Background(), filepath.Join(t.TempDir(), "shared", "qxdb.sqlite"), 0, &log)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, table := range []string{"events", "sessions"} {
		if _, err := db.NewSelect().Table(table).Count(context.Background()); err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}
