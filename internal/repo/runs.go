package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"racesync/internal/model"
	"racesync/internal/storage"
	"racesync/internal/timestamp"
)

type RunFilter struct {
	RunID     int64
	ClassName string
}

// EventRepository reads and writes the tables of one event's store.
type EventRepository interface {
	ListRuns(ctx context.Context, eventID int64, filter RunFilter) ([]model.Run, error)
	ListClasses(ctx context.Context, eventID int64) ([]model.Class, error)
	UpsertClass(ctx context.Context, eventID int64, c *model.Class) error
	Start00(ctx context.Context, eventID int64) (*timestamp.Timestamp, error)
	SetStart00(ctx context.Context, eventID int64, start *timestamp.Timestamp) error
	SaveFile(ctx context.Context, eventID int64, name string, data []byte) (int64, error)
	LoadFile(ctx context.Context, eventID int64, name string) (*model.File, error)
	ListFiles(ctx context.Context, eventID int64) ([]model.File, error)
}

type eventRepository struct {
	router *storage.Router
	log    *zerolog.Logger
}

func NewEventRepository(router *storage.Router, log *zerolog.Logger) EventRepository {
	return &eventRepository{router: router, log: log}
}

func (r *eventRepository) ListRuns(ctx context.Context, eventID int64, filter RunFilter) ([]model.Run, error) {
	db, err := r.router.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	runs := []model.Run{}
	q := db.NewSelect().Model(&runs)
	if filter.RunID > 0 {
		q = q.Where("r.run_id = ?", filter.RunID)
	}
	if filter.ClassName != "" {
		q = q.Where("r.class_name = ?", filter.ClassName)
	}
	if err := q.OrderExpr("r.class_name, r.start_time, r.run_id").Scan(ctx); err != nil {
		return nil, &model.StorageError{EventID: eventID, Err: fmt.Errorf("failed to list runs: %w", err)}
	}
	return runs, nil
}

func (r *eventRepository) ListClasses(ctx context.Context, eventID int64) ([]model.Class, error) {
	db, err := r.router.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	classes := []model.Class{}
	if err := db.NewSelect().Model(&classes).OrderExpr("c.name").Scan(ctx); err != nil {
		return nil, &model.StorageError{EventID: eventID, Err: fmt.Errorf("failed to list classes: %w", err)}
	}
	return classes, nil
}

func (r *eventRepository) UpsertClass(ctx context.Context, eventID int64, c *model.Class) error {
	db, err := r.router.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if err := UpsertClasses(ctx, db, []model.Class{*c}); err != nil {
		return &model.StorageError{EventID: eventID, Err: err}
	}
	return nil
}

func (r *eventRepository) Start00(ctx context.Context, eventID int64) (*timestamp.Timestamp, error) {
	db, err := r.router.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	var info model.EventInfo
	err = db.NewSelect().Model(&info).Where("ei.id = 1").Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StorageError{EventID: eventID, Err: fmt.Errorf("failed to read start00: %w", err)}
	}
	return info.StartTime, nil
}

func (r *eventRepository) SetStart00(ctx context.Context, eventID int64, start *timestamp.Timestamp) error {
	db, err := r.router.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if err := SetStart00(ctx, db, start); err != nil {
		return &model.StorageError{EventID: eventID, Err: err}
	}
	return nil
}

func (r *eventRepository) SaveFile(ctx context.Context, eventID int64, name string, data []byte) (int64, error) {
	db, err := r.router.Get(ctx, eventID)
	if err != nil {
		return 0, err
	}
	f := &model.File{Name: name, Data: data, Created: timestamp.Now().TruncateToSecond()}
	_, err = db.NewInsert().Model(f).
		On("CONFLICT (name) DO UPDATE").
		Set("data = EXCLUDED.data").
		Set("created = EXCLUDED.created").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, &model.StorageError{EventID: eventID, Err: fmt.Errorf("failed to save file: %w", err)}
	}
	r.log.Info().Int64("event_id", eventID).Str("name", name).Int("size", len(data)).Msg("file stored")
	return f.ID, nil
}

func (r *eventRepository) LoadFile(ctx context.Context, eventID int64, name string) (*model.File, error) {
	db, err := r.router.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	var f model.File
	err = db.NewSelect().Model(&f).
		Column("id", "name", "data", "created").
		ColumnExpr("length(f.data) AS size").
		Where("f.name = ?", name).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, &model.StorageError{EventID: eventID, Err: fmt.Errorf("failed to load file: %w", err)}
	}
	return &f, nil
}

func (r *eventRepository) ListFiles(ctx context.Context, eventID int64) ([]model.File, error) {
	db, err := r.router.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	files := []model.File{}
	err = db.NewSelect().Model(&files).
		Column("id", "name", "created").
		ColumnExpr("length(f.data) AS size").
		OrderExpr("f.name").
		Scan(ctx)
	if err != nil {
		return nil, &model.StorageError{EventID: eventID, Err: fmt.Errorf("failed to list files: %w", err)}
	}
	return files, nil
}

// The functions below work on any bun.IDB so callers can compose them
// inside one transaction.

func UpsertClasses(ctx context.Context, db bun.IDB, classes []model.Class) error {
	if len(classes) == 0 {
		return nil
	}
	_, err := db.NewInsert().Model(&classes).
		ExcludeColumn("id").
		On("CONFLICT (name) DO UPDATE").
		Set("length = EXCLUDED.length").
		Set("climb = EXCLUDED.climb").
		Set("control_count = EXCLUDED.control_count").
		Set("start_time = EXCLUDED.start_time").
		Set("interval = EXCLUDED.interval").
		Set("start_slot_count = EXCLUDED.start_slot_count").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert classes: %w", err)
	}
	return nil
}

// UpsertRuns inserts new runs and refreshes start-list columns of known ones.
// Check and finish times recorded during the race are left untouched.
func UpsertRuns(ctx context.Context, db bun.IDB, runs []model.Run) error {
	if len(runs) == 0 {
		return nil
	}
	_, err := db.NewInsert().Model(&runs).
		On("CONFLICT (run_id) DO UPDATE").
		Set("class_name = EXCLUDED.class_name").
		Set("first_name = EXCLUDED.first_name").
		Set("last_name = EXCLUDED.last_name").
		Set("registration = EXCLUDED.registration").
		Set("si_id = EXCLUDED.si_id").
		Set("start_time = EXCLUDED.start_time").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert runs: %w", err)
	}
	return nil
}

// DeleteRunsNotIn removes every stored run whose id is not in keep.
func DeleteRunsNotIn(ctx context.Context, db bun.IDB, keep []int64) (int64, error) {
	var stored []int64
	if err := db.NewSelect().Model((*model.Run)(nil)).Column("run_id").Scan(ctx, &stored); err != nil {
		return 0, fmt.Errorf("failed to read stored run ids: %w", err)
	}
	keepSet := make(map[int64]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	var drop []int64
	for _, id := range stored {
		if _, ok := keepSet[id]; !ok {
			drop = append(drop, id)
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}
	res, err := db.NewDelete().Model((*model.Run)(nil)).
		Where("run_id IN (?)", bun.In(drop)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func SetStart00(ctx context.Context, db bun.IDB, start *timestamp.Timestamp) error {
	_, err := db.NewInsert().Model(&model.EventInfo{ID: 1, StartTime: start}).
		On("CONFLICT (id) DO UPDATE").
		Set("start_time = EXCLUDED.start_time").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set start00: %w", err)
	}
	return nil
}

// ApplyRunChange writes a confirmed change into the runs table: a dropped
// run is deleted, an unknown run is inserted, otherwise only the changed
// columns are updated.
func ApplyRunChange(ctx context.Context, db bun.IDB, change model.RunChange, editedBy string) error {
	if change.DropRecord {
		if _, err := db.NewDelete().Model((*model.Run)(nil)).Where("run_id = ?", change.RunID).Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop run %d: %w", change.RunID, err)
		}
		return nil
	}

	exists, err := db.NewSelect().Model((*model.Run)(nil)).Where("run_id = ?", change.RunID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to look up run %d: %w", change.RunID, err)
	}
	if !exists {
		run := change.NewRun()
		run.EditedBy = editedBy
		if _, err := db.NewInsert().Model(&run).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert run %d: %w", change.RunID, err)
		}
		return nil
	}

	fields := change.ChangedFields()
	if len(fields) == 0 {
		return nil
	}
	q := db.NewUpdate().Model((*model.Run)(nil))
	for _, field := range fields {
		q = q.Set("? = ?", bun.Ident(field), change.ColumnValue(field))
	}
	if _, err := q.Set("edited_by = ?", editedBy).Where("run_id = ?", change.RunID).Exec(ctx); err != nil {
		return fmt.Errorf("failed to update run %d: %w", change.RunID, err)
	}
	return nil
}

func ArchiveChecklistSet(ctx context.Context, db bun.IDB, changeSet string) (int64, error) {
	rec := &model.ChecklistChangeSet{ChangeSet: changeSet, Created: timestamp.Now().TruncateToSecond()}
	if _, err := db.NewInsert().Model(rec).Returning("id").Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to archive checklist change set: %w", err)
	}
	return rec.ID, nil
}
