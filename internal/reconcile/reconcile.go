// Package reconcile turns submissions of every change source into journal
// entries and pushes the committed entries to live listeners.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"racesync/internal/adapter"
	"racesync/internal/broadcast"
	"racesync/internal/journal"
	"racesync/internal/model"
	"racesync/internal/repo"
	"racesync/internal/storage"
	"racesync/internal/timestamp"
)

// Mirror forwards committed entries outside the process.
type Mirror interface {
	Mirror(ctx context.Context, eventID int64, entry model.JournalEntry) error
}

type Config struct {
	CheckLead time.Duration
}

type Reconciler struct {
	router  *storage.Router
	journal *journal.Journal
	hub     *broadcast.Hub
	events  repo.EventRepository
	mirror  Mirror
	cfg     Config
	log     *zerolog.Logger
}

func New(router *storage.Router, j *journal.Journal, hub *broadcast.Hub, events repo.EventRepository, cfg Config, log *zerolog.Logger) *Reconciler {
	return &Reconciler{router: router, journal: j, hub: hub, events: events, cfg: cfg, log: log}
}

// SetMirror installs the outbound mirror; nil disables it.
func (r *Reconciler) SetMirror(m Mirror) { r.mirror = m }

// EntryError is a checklist entry that could not be translated.
type EntryError struct {
	Index    int    `json:"index"`
	RunnerID string `json:"runner_id"`
	Error    string `json:"error"`
}

type ChecklistResult struct {
	ArchiveID int64                `json:"archive_id"`
	Entries   []model.JournalEntry `json:"entries"`
	Rejected  []EntryError         `json:"rejected,omitempty"`
}

// SubmitChecklist journals every translatable entry of a checklist change
// set as a pending proposal. Untranslatable entries are reported, not fatal.
func (r *Reconciler) SubmitChecklist(ctx context.Context, eventID int64, data []byte) (*ChecklistResult, error) {
	cs, err := adapter.ParseChecklist(data)
	if err != nil {
		return nil, err
	}
	db, err := r.router.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	opts := adapter.ChecklistOptions{
		Reference: r.checklistReference(ctx, eventID, cs),
		CheckLead: r.cfg.CheckLead,
	}

	res := &ChecklistResult{Entries: []model.JournalEntry{}}
	var entries []*model.JournalEntry
	for i, ch := range cs.Data {
		change, err := adapter.FromChecklist(ch, opts, r.log)
		if err != nil {
			r.log.Warn().Err(err).Int64("event_id", eventID).Interface("runner", ch.Runner).Msg("checklist entry rejected")
			res.Rejected = append(res.Rejected, EntryError{Index: i, RunnerID: ch.Runner.ID, Error: err.Error()})
			continue
		}
		entries = append(entries, &model.JournalEntry{
			Source:   model.SourceChecklist,
			DataType: model.DataRunUpdateRequest,
			Change:   change,
			Status:   model.StatusPending.Ptr(),
		})
	}

	err = db.RunInTx(context.WithoutCancel(ctx), nil, func(ctx context.Context, tx bun.Tx) error {
		id, err := repo.ArchiveChecklistSet(ctx, tx, string(data))
		if err != nil {
			return err
		}
		res.ArchiveID = id
		for _, e := range entries {
			if err := journal.Append(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &model.StorageError{EventID: eventID, Err: err}
	}

	for _, e := range entries {
		r.publish(ctx, eventID, *e)
		res.Entries = append(res.Entries, *e)
	}
	r.log.Info().
		Int64("event_id", eventID).
		Str("creator", cs.Creator).
		Int("journaled", len(entries)).
		Int("rejected", len(res.Rejected)).
		Msg("checklist change set accepted")
	return res, nil
}

// checklistReference picks the instant bare checklist times are resolved
// against: the event start, else the change set creation, else now.
func (r *Reconciler) checklistReference(ctx context.Context, eventID int64, cs *adapter.ChangeSet) timestamp.Timestamp {
	start00, err := r.events.Start00(ctx, eventID)
	if err != nil {
		r.log.Warn().Err(err).Int64("event_id", eventID).Msg("start00 unavailable")
	}
	if start00 != nil {
		return *start00
	}
	now := timestamp.Now()
	if created := cs.CreatedAt(now); !created.IsZero() {
		return created
	}
	return now
}

// SubmitTiming journals a fact from the timing software and applies it to
// the run in the same transaction.
func (r *Reconciler) SubmitTiming(ctx context.Context, eventID int64, push adapter.TimingPush) (*model.JournalEntry, error) {
	change, source, err := adapter.FromTiming(push)
	if err != nil {
		return nil, err
	}
	db, err := r.router.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	entry := &model.JournalEntry{
		Source:   source,
		DataType: model.DataRunUpdated,
		Change:   change,
	}
	err = db.RunInTx(context.WithoutCancel(ctx), nil, func(ctx context.Context, tx bun.Tx) error {
		if err := journal.Append(ctx, tx, entry); err != nil {
			return err
		}
		return repo.ApplyRunChange(ctx, tx, change, source)
	})
	if err != nil {
		return nil, &model.StorageError{EventID: eventID, Err: err}
	}
	r.publish(ctx, eventID, *entry)
	return entry, nil
}

// SubmitBrowser journals a browser edit as a pending proposal of userID.
func (r *Reconciler) SubmitBrowser(ctx context.Context, eventID int64, userID string, change model.RunChange) (*model.JournalEntry, error) {
	change, err := adapter.FromBrowser(change)
	if err != nil {
		return nil, err
	}
	entry := &model.JournalEntry{
		Source:   model.SourceBrowser,
		DataType: model.DataRunUpdateRequest,
		Change:   change,
		Status:   model.StatusPending.Ptr(),
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if err := r.journal.Append(ctx, eventID, entry); err != nil {
		return nil, err
	}
	r.publish(ctx, eventID, *entry)
	return entry, nil
}

// Confirm records the timing software's decision on a proposal.
func (r *Reconciler) Confirm(ctx context.Context, eventID, changeID int64, status model.ChangeStatus) (*model.JournalEntry, error) {
	entry, err := r.journal.SetStatus(ctx, eventID, changeID, status)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, eventID, *entry)
	return entry, nil
}

func (r *Reconciler) publish(ctx context.Context, eventID int64, entry model.JournalEntry) {
	r.hub.Publish(eventID, entry)
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Mirror(context.WithoutCancel(ctx), eventID, entry); err != nil {
		r.log.Error().Err(err).Int64("event_id", eventID).Int64("change_id", entry.ID).Msg("failed to mirror change")
	}
}
