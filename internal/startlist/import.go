package startlist

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"racesync/internal/model"
	"racesync/internal/repo"
	"racesync/internal/storage"
	"racesync/internal/timestamp"
)

// EventStartSetter mirrors start00 into the shared events table.
type EventStartSetter interface {
	SetEventStartTime(ctx context.Context, id int64, start *timestamp.Timestamp) error
}

type Summary struct {
	Start00   *timestamp.Timestamp `json:"start00,omitempty"`
	Classes   int                  `json:"classes"`
	Runs      int                  `json:"runs"`
	Deleted   int64                `json:"deleted"`
	Skipped   int                  `json:"skipped"`
	Anomalies []Anomaly            `json:"anomalies,omitempty"`
}

type Importer struct {
	router *storage.Router
	events EventStartSetter
	opts   Options
	log    *zerolog.Logger
}

func NewImporter(router *storage.Router, events EventStartSetter, opts Options, log *zerolog.Logger) *Importer {
	return &Importer{router: router, events: events, opts: opts.withDefaults(), log: log}
}

// Import upserts classes and runs of the document; runs missing from it
// are kept.
func (im *Importer) Import(ctx context.Context, eventID int64, data []byte) (*Summary, error) {
	return im.load(ctx, eventID, data, false)
}

// SyncStartList is Import followed by deletion of every stored run the
// document does not list.
func (im *Importer) SyncStartList(ctx context.Context, eventID int64, data []byte) (*Summary, error) {
	return im.load(ctx, eventID, data, true)
}

func (im *Importer) load(ctx context.Context, eventID int64, data []byte, sync bool) (*Summary, error) {
	sl, err := Parse(data, im.opts, im.log)
	if err != nil {
		return nil, err
	}
	db, err := im.router.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Start00:   sl.Start00,
		Classes:   len(sl.Classes),
		Runs:      len(sl.Runs),
		Skipped:   sl.Skipped,
		Anomalies: sl.Anomalies,
	}
	err = db.RunInTx(context.WithoutCancel(ctx), nil, func(ctx context.Context, tx bun.Tx) error {
		if err := repo.UpsertClasses(ctx, tx, sl.Classes); err != nil {
			return err
		}
		if err := repo.UpsertRuns(ctx, tx, sl.Runs); err != nil {
			return err
		}
		if sync {
			n, err := repo.DeleteRunsNotIn(ctx, tx, sl.RunIDs())
			if err != nil {
				return err
			}
			sum.Deleted = n
		}
		if sl.Start00 != nil {
			return repo.SetStart00(ctx, tx, sl.Start00)
		}
		return nil
	})
	if err != nil {
		return nil, &model.StorageError{EventID: eventID, Err: fmt.Errorf("failed to import start list: %w", err)}
	}

	im.mirrorStart00(ctx, eventID, sl.Start00)
	im.log.Info().
		Int64("event_id", eventID).
		Int("classes", sum.Classes).
		Int("runs", sum.Runs).
		Int64("deleted", sum.Deleted).
		Int("anomalies", len(sum.Anomalies)).
		Msg("start list imported")
	return sum, nil
}

// SyncRuns replaces the whole run set with runs.
func (im *Importer) SyncRuns(ctx context.Context, eventID int64, runs []model.Run) (*Summary, error) {
	db, err := im.router.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}

	sum := &Summary{Runs: len(runs)}
	err = db.RunInTx(context.WithoutCancel(ctx), nil, func(ctx context.Context, tx bun.Tx) error {
		if err := repo.UpsertRuns(ctx, tx, runs); err != nil {
			return err
		}
		n, err := repo.DeleteRunsNotIn(ctx, tx, ids)
		sum.Deleted = n
		return err
	})
	if err != nil {
		return nil, &model.StorageError{EventID: eventID, Err: fmt.Errorf("failed to sync runs: %w", err)}
	}
	im.log.Info().Int64("event_id", eventID).Int("runs", sum.Runs).Int64("deleted", sum.Deleted).Msg("runs synced")
	return sum, nil
}

func (im *Importer) mirrorStart00(ctx context.Context, eventID int64, start *timestamp.Timestamp) {
	if start == nil || im.events == nil {
		return
	}
	if err := im.events.SetEventStartTime(ctx, eventID, start); err != nil {
		im.log.Warn().Err(err).Int64("event_id", eventID).Msg("failed to mirror start00 to events")
	}
}
