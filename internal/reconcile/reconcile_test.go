package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"racesync/internal/adapter"
	"racesync/internal/broadcast"
	"racesync/internal/journal"
	"racesync/internal/model"
	"racesync/internal/repo"
	"racesync/internal/storage"
	"racesync/internal/timestamp"
)

type recordingMirror struct {
	mu      sync.Mutex
	entries []model.JournalEntry
	fail    error
}

func (m *recordingMirror) Mirror(_ context.Context, _ int64, e model.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.fail
}

type fixture struct {
	rec    *Reconciler
	router *storage.Router
	hub    *broadcast.Hub
	events repo.EventRepository
	j      *journal.Journal
	mirror *recordingMirror
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	router := storage.NewRouter(storage.Config{DataDir: t.TempDir()}, &log)
	t.Cleanup(func() { _ = router.Close() })
	hub := broadcast.NewHub(16, &log)
	events := repo.NewEventRepository(router, &log)
	j := journal.New(router, &log)
	rec := New(router, j, hub, events, Config{CheckLead: 2 * time.Minute}, &log)
	mirror := &recordingMirror{}
	rec.SetMirror(mirror)
	return &fixture{rec: rec, router: router, hub: hub, events: events, j: j, mirror: mirror}
}

func next(t *testing.T, l *broadcast.Listener) model.JournalEntry {
	t.Helper()
	select {
	case e := <-l.C():
		return e
	case <-time.After(time.Second):
		t.Fatal("nothing published")
	}
	return model.JournalEntry{}
}

func TestSubmitTimingAppliesAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.hub.Subscribe(1)
	defer l.Close()

	finish, _ := timestamp.Parse("2025-03-05T11:02:03+01:00")
	entry, err := f.rec.SubmitTiming(ctx, 1, adapter.TimingPush{
		RunChange: model.RunChange{RunID: 42, LastName: model.Set("Novak"), FinishTime: model.Set(finish)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if entry.ID == 0 || entry.Source != model.SourceTiming || entry.DataType != model.DataRunUpdated || entry.Status != nil {
		t.Errorf("entry = %+v", entry)
	}
	if got := next(t, l); got.ID != entry.ID {
		t.Errorf("published %d, want %d", got.ID, entry.ID)
	}

	runs, err := f.events.ListRuns(ctx, 1, repo.RunFilter{RunID: 42})
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %+v, %v", runs, err)
	}
	if runs[0].LastName != "Novak" || runs[0].FinishTime == nil || !runs[0].FinishTime.Equal(finish) || runs[0].EditedBy != model.SourceTiming {
		t.Errorf("run = %+v", runs[0])
	}
	if len(f.mirror.entries) != 1 {
		t.Errorf("mirrored %d entries", len(f.mirror.entries))
	}
}

func TestAppendFailurePublishesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.hub.Subscribe(1)
	defer l.Close()

	db, err := f.router.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, "DROP TABLE changes"); err != nil {
		t.Fatal(err)
	}

	_, err = f.rec.SubmitTiming(ctx, 1, adapter.TimingPush{RunChange: model.RunChange{RunID: 1, SIID: model.Set[int64](5)}})
	var serr *model.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want StorageError", err)
	}
	select {
	case e := <-l.C():
		t.Errorf("published after failed append: %+v", e)
	default:
	}
	if len(f.mirror.entries) != 0 {
		t.Errorf("mirrored after failed append")
	}
	// run update rolled back with the append
	if runs, _ := f.events.ListRuns(ctx, 1, repo.RunFilter{RunID: 1}); len(runs) != 0 {
		t.Errorf("run applied without journal entry: %+v", runs)
	}
}

func TestSubmitBrowserAndConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.hub.Subscribe(3)
	defer l.Close()

	entry, err := f.rec.SubmitBrowser(ctx, 3, "session-user", model.RunChange{RunID: 8, FirstName: model.Set("Eva")})
	if err != nil {
		t.Fatal(err)
	}
	if entry.UserID == nil || *entry.UserID != "session-user" || *entry.Status != model.StatusPending {
		t.Errorf("entry = %+v", entry)
	}
	next(t, l)

	// proposals are not applied to runs
	if runs, _ := f.events.ListRuns(ctx, 3, repo.RunFilter{RunID: 8}); len(runs) != 0 {
		t.Errorf("proposal applied: %+v", runs)
	}

	decided, err := f.rec.Confirm(ctx, 3, entry.ID, model.StatusRejected)
	if err != nil {
		t.Fatal(err)
	}
	if got := next(t, l); got.ID != entry.ID || *got.Status != model.StatusRejected || *decided.Status != model.StatusRejected {
		t.Errorf("published %+v", got)
	}
	if _, err := f.rec.Confirm(ctx, 3, entry.ID, model.StatusAccepted); !errors.Is(err, journal.ErrStatusFinal) {
		t.Errorf("second confirm err = %v", err)
	}

	var terr *model.TranslationError
	if _, err := f.rec.SubmitBrowser(ctx, 3, "", model.RunChange{}); !errors.As(err, &terr) {
		t.Errorf("err = %v, want TranslationError", err)
	}
}

const checklistYAML = `Version: 1.2.0
Creator: OCheckList
Created: 2025-03-05T08:30:12+01:00
Data:
  - Runner:
      Id: "12"
      StartStatus: Started OK
      Card: 1234567
      Name: Novak Jan
      StartTime: "10:20:00"
  - Runner:
      Id: "x13"
      StartStatus: Started OK
      Card: 2345678
      Name: Svoboda Petr
      StartTime: "10:22:00"
`

func TestSubmitChecklist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.hub.Subscribe(1)
	defer l.Close()
	f.mirror.fail = errors.New("broker down")

	db, err := f.router.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	start00, _ := timestamp.Parse("2025-03-05T10:00:00+02:00")
	if err := repo.SetStart00(ctx, db, &start00); err != nil {
		t.Fatal(err)
	}

	res, err := f.rec.SubmitChecklist(ctx, 1, []byte(checklistYAML))
	if err != nil {
		t.Fatal(err)
	}
	if res.ArchiveID == 0 || len(res.Entries) != 1 || len(res.Rejected) != 1 || res.Rejected[0].RunnerID != "x13" {
		t.Fatalf("result = %+v", res)
	}
	e := next(t, l)
	if e.Source != model.SourceChecklist || e.DataType != model.DataRunUpdateRequest || *e.Status != model.StatusPending {
		t.Errorf("entry = %+v", e)
	}
	// bare time resolved on the start00 date and offset
	if got := e.Change.CheckTime.Value.String(); got != "2025-03-05T10:18:00+02:00" {
		t.Errorf("check time = %s", got)
	}
	if len(f.mirror.entries) != 1 {
		t.Errorf("mirror attempts = %d", len(f.mirror.entries))
	}

	stored, _ := f.j.ReadSince(ctx, 1, 0, journal.Filter{})
	if len(stored) != 1 {
		t.Errorf("journal = %+v", stored)
	}

	var perr *model.ParseError
	if _, err := f.rec.SubmitChecklist(ctx, 1, []byte("Data: [")); !errors.As(err, &perr) {
		t.Errorf("err = %v, want ParseError", err)
	}
}
