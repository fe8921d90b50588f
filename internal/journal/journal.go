package journal

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

const MaxLimit = 1000

var (
	ErrChangeNotFound = errors.New("change not found")
	ErrStatusFinal    = errors.New("change status already decided")
	ErrInvalidStatus  = errors.New("status must be Accepted or Rejected")
)

type Filter struct {
	DataType model.DataType
	Status   model.ChangeStatus
	// Limit of 0 reads every entry, anything above MaxLimit is capped.
	Limit int
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return 0
	case f.Limit > MaxLimit:
		return MaxLimit
	}
	return f.Limit
}

// Append stores entry and fills in its id and creation time.
func Append(ctx context.Context, db bun.IDB, entry *model.JournalEntry) error {
	entry.ID = 0
	entry.RunID = entry.Change.RunID
	entry.Created = timestamp.Now().TruncateToSecond()
	if _, err := db.NewInsert().Model(entry).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}
	return nil
}

type Journal struct {
	router *storage.Router
	log    *zerolog.Logger
}

func New(router *storage.Router, log *zerolog.Logger) *Journal {
	return &Journal{router: router, log: log}
}

func (j *Journal) Append(ctx context.Context, eventID int64, entry *model.JournalEntry) error {
	db, err := j.router.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if err := Append(context.WithoutCancel(ctx), db, entry); err != nil {
		return &model.StorageError{EventID: eventID, Err: err}
	}
	j.log.Debug().Int64("event_id", eventID).Int64("change_id", entry.ID).Str("source", entry.Source).Msg("change journaled")
	return nil
}

// ReadSince returns entries with id >= fromID in id order.
func (j *Journal) ReadSince(ctx context.Context, eventID, fromID int64, filter Filter) ([]model.JournalEntry, error) {
	db, err := j.router.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	entries := []model.JournalEntry{}
	q := db.NewSelect().Model(&entries).Where("ch.id >= ?", fromID)
	if filter.DataType != 0 {
		q = q.Where("ch.data_type = ?", filter.DataType)
	}
	if filter.Status != 0 {
		q = q.Where("ch.status = ?", filter.Status)
	}
	if n := filter.limit(); n > 0 {
		q = q.Limit(n)
	}
	if err := q.OrderExpr("ch.id ASC").Scan(ctx); err != nil {
		return nil, &model.StorageError{EventID: eventID, Err: fmt.Errorf("failed to read changes: %w", err)}
	}
	return entries, nil
}

func (j *Journal) Get(ctx context.Context, eventID, id int64) (*model.JournalEntry, error) {
	db, err := j.router.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	entry, err := get(ctx, db, id)
	if err != nil && !errors.Is(err, ErrChangeNotFound) {
		return nil, &model.StorageError{EventID: eventID, Err: err}
	}
	return entry, err
}

func get(ctx context.Context, db bun.IDB, id int64) (*model.JournalEntry, error) {
	var entry model.JournalEntry
	err := db.NewSelect().Model(&entry).Where("ch.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChangeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read change %d: %w", id, err)
	}
	return &entry, nil
}

// SetStatus decides a pending proposal. The entry's change document keeps
// its status in step with the row.
func (j *Journal) SetStatus(ctx context.Context, eventID, id int64, status model.ChangeStatus) (*model.JournalEntry, error) {
	if status != model.StatusAccepted && status != model.StatusRejected {
		return nil, ErrInvalidStatus
	}
	db, err := j.router.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	var entry *model.JournalEntry
	err = db.RunInTx(context.WithoutCancel(ctx), nil, func(ctx context.Context, tx bun.Tx) error {
		e, err := get(ctx, tx, id)
		if err != nil {
			return err
		}
		if e.Status == nil || *e.Status != model.StatusPending {
			return ErrStatusFinal
		}
		e.Status = status.Ptr()
		e.Change.Status = status.Ptr()
		_, err = tx.NewUpdate().Model(e).
			Column("status", "data").
			WherePK().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update change %d: %w", id, err)
		}
		entry = e
		return nil
	})
	if errors.Is(err, ErrChangeNotFound) || errors.Is(err, ErrStatusFinal) {
		return nil, err
	}
	if err != nil {
		return nil, &model.StorageError{EventID: eventID, Err: err}
	}
	j.log.Info().Int64("event_id", eventID).Int64("change_id", id).Stringer("status", status).Msg("change status set")
	return entry, nil
}
