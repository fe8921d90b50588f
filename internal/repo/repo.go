package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"racesync/internal/model"
	"racesync/internal/timestamp"
)

var (
	ErrEventNotFound   = errors.New("event not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrFileNotFound    = errors.New("file not found")
)

// Repository covers the shared store: events and login sessions.
type Repository interface {
	CreateEvent(ctx context.Context, e *model.Event) (int64, error)
	GetEventByID(ctx context.Context, id int64) (*model.Event, error)
	GetEventByAPIToken(ctx context.Context, token string) (*model.Event, error)
	GetAllEvents(ctx context.Context) ([]model.Event, error)
	UpdateEvent(ctx context.Context, e *model.Event) error
	SetEventStartTime(ctx context.Context, id int64, start *timestamp.Timestamp) error
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
}

type repository struct {
	db  *bun.DB
	log *zerolog.Logger
}

func NewRepository(db *bun.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{db: db, log: log}, nil
}

// NewAPIToken returns a random token for machine clients of one event.
func NewAPIToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (r *repository) CreateEvent(ctx context.Context, e *model.Event) (int64, error) {
	if e.APIToken == "" {
		e.APIToken = NewAPIToken()
	}
	if e.Created.IsZero() {
		e.Created = timestamp.Now().TruncateToSecond()
	}
	if _, err := r.db.NewInsert().Model(e).Returning("id").Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return e.ID, nil
}

func (r *repository) GetEventByID(ctx context.Context, id int64) (*model.Event, error) {
	var e model.Event
	err := r.db.NewSelect().Model(&e).Where("e.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &e, nil
}

func (r *repository) GetEventByAPIToken(ctx context.Context, token string) (*model.Event, error) {
	if token == "" {
		return nil, ErrEventNotFound
	}
	var e model.Event
	err := r.db.NewSelect().Model(&e).Where("e.api_token = ?", token).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event by api token: %w", err)
	}
	return &e, nil
}

func (r *repository) GetAllEvents(ctx context.Context) ([]model.Event, error) {
	var events []model.Event
	if err := r.db.NewSelect().Model(&events).OrderExpr("e.created DESC, e.id DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}

func (r *repository) UpdateEvent(ctx context.Context, e *model.Event) error {
	res, err := r.db.NewUpdate().Model(e).
		Column("name", "place", "description", "start_time").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *repository) SetEventStartTime(ctx context.Context, id int64, start *timestamp.Timestamp) error {
	res, err := r.db.NewUpdate().Model((*model.Event)(nil)).
		Set("start_time = ?", instantArg(start)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update event start time: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *repository) CreateSession(ctx context.Context, s *model.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Created.IsZero() {
		s.Created = timestamp.Now().TruncateToSecond()
	}
	if _, err := r.db.NewInsert().Model(s).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *repository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.db.NewSelect().Model(&s).Where("s.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func instantArg(ts *timestamp.Timestamp) any {
	if ts == nil {
		return nil
	}
	return *ts
}
