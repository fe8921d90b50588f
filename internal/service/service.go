package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"racesync/internal/broadcast"
	"racesync/internal/dto"
	"racesync/internal/journal"
	"racesync/internal/model"
	"racesync/internal/reconcile"
	"racesync/internal/repo"
	"racesync/internal/startlist"
	"racesync/pkg/validator"
)

type Service interface {
	Health(ctx *ginext.Context)
	Ready(ctx *ginext.Context)

	CreateEvent(ctx *ginext.Context)
	GetAllEvents(ctx *ginext.Context)
	GetEvent(ctx *ginext.Context)

	GetCurrentEvent(ctx *ginext.Context)
	UpdateCurrentEvent(ctx *ginext.Context)
	UploadFile(ctx *ginext.Context)
	ImportStartList(ctx *ginext.Context)
	SyncRuns(ctx *ginext.Context)
	UpsertClass(ctx *ginext.Context)
	PostChecklist(ctx *ginext.Context)
	PostRunUpdated(ctx *ginext.Context)
	SetChangeStatus(ctx *ginext.Context)

	PostRunUpdateRequest(ctx *ginext.Context)

	GetRuns(ctx *ginext.Context)
	GetClasses(ctx *ginext.Context)
	GetFiles(ctx *ginext.Context)
	GetFile(ctx *ginext.Context)
	GetChanges(ctx *ginext.Context)
	ChangesSSE(ctx *ginext.Context)
	ChangesWS(ctx *ginext.Context)

	RequireAPIToken(ctx *ginext.Context)
	RequireSession(ctx *ginext.Context)
	RequireEvent(ctx *ginext.Context)
}

// Pinger reports whether the shared store answers.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Repo       repo.Repository
	Events     repo.EventRepository
	Journal    *journal.Journal
	Importer   *startlist.Importer
	Reconciler *reconcile.Reconciler
	Hub        *broadcast.Hub
	Shared     Pinger
	// RabbitEnabled is reported by the readiness probe.
	RabbitEnabled bool
}

type service struct {
	repo          repo.Repository
	events        repo.EventRepository
	journal       *journal.Journal
	importer      *startlist.Importer
	reconciler    *reconcile.Reconciler
	hub           *broadcast.Hub
	shared        Pinger
	rabbitEnabled bool
	log           *zerolog.Logger
}

func NewService(deps Deps, logger *zerolog.Logger) Service {
	return &service{
		repo:          deps.Repo,
		events:        deps.Events,
		journal:       deps.Journal,
		importer:      deps.Importer,
		reconciler:    deps.Reconciler,
		hub:           deps.Hub,
		shared:        deps.Shared,
		rabbitEnabled: deps.RabbitEnabled,
		log:           logger,
	}
}

func (s *service) Health(ctx *ginext.Context) {
	dto.SuccessResponse(ctx, "alive")
}

func (s *service) Ready(ctx *ginext.Context) {
	resp := dto.Readiness{Rabbit: s.rabbitEnabled}
	if err := s.shared.PingContext(ctx.Request.Context()); err != nil {
		s.log.Error().Err(err).Msg("shared store not ready")
		ctx.JSON(http.StatusServiceUnavailable, dto.Response{Status: "error", Data: resp})
		return
	}
	resp.SharedStore = true
	if raw := ctx.Query("event_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			resp.Listeners = map[int64]int{id: s.hub.Subscribers(id)}
		}
	}
	dto.SuccessResponse(ctx, resp)
}

// fail maps an error of any layer onto the response envelope.
func (s *service) fail(ctx *ginext.Context, err error, msg string) {
	var (
		perr *model.ParseError
		terr *model.TranslationError
	)
	switch {
	case errors.As(err, &perr):
		s.log.Warn().Err(err).Msg(msg)
		dto.BadResponseError(ctx, dto.ParseFailed, perr.Error())
	case errors.As(err, &terr):
		s.log.Warn().Err(err).Msg(msg)
		dto.BadResponseError(ctx, dto.TranslationFailed, terr.Error())
	case errors.Is(err, repo.ErrEventNotFound):
		dto.EventNotFoundError(ctx)
	case errors.Is(err, repo.ErrFileNotFound):
		dto.FileNotFoundError(ctx)
	case errors.Is(err, journal.ErrChangeNotFound):
		dto.ChangeNotFoundError(ctx)
	case errors.Is(err, journal.ErrStatusFinal):
		dto.ErrorResponse(ctx, http.StatusConflict, dto.StatusFinal, "Change status was already decided")
	case errors.Is(err, journal.ErrInvalidStatus):
		dto.FieldIncorrectError(ctx, "status")
	default:
		s.log.Error().Err(err).Msg(msg)
		dto.InternalServerError(ctx)
	}
}

func (s *service) validate(ctx *ginext.Context, req any) bool {
	if verr := validator.Validate(ctx, req); verr != nil {
		s.log.Warn().Msgf("validation failed: %v", verr)
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return false
	}
	return true
}

func paramInt64(ctx *ginext.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || id <= 0 {
		dto.FieldIncorrectError(ctx, name)
		return 0, false
	}
	return id, true
}
