package service

import (
	"github.com/wb-go/wbf/ginext"

	"racesync/internal/dto"
	"racesync/internal/model"
	"racesync/internal/timestamp"
)

func (s *service) CreateEvent(ctx *ginext.Context) {
	var req dto.CreateEventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.log.Error().Err(err).Msg("failed to parse create event request")
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if !s.validate(ctx, req) {
		return
	}

	sess := currentSession(ctx)
	event := &model.Event{
		Name:        req.Name,
		Place:       req.Place,
		Description: req.Description,
		StartTime:   req.StartTime,
		Owner:       sess.Email,
		Created:     timestamp.Now().TruncateToSecond(),
	}
	id, err := s.repo.CreateEvent(ctx, event)
	if err != nil {
		s.fail(ctx, err, "failed to create event in DB")
		return
	}
	if event.StartTime != nil {
		if err := s.events.SetStart00(ctx, id, event.StartTime); err != nil {
			s.fail(ctx, err, "failed to store start00 of new event")
			return
		}
	}

	s.log.Info().Int64("event_id", id).Str("owner", event.Owner).Msg("event created successfully")
	resp := dto.NewEventResponse(event)
	resp.APIToken = event.APIToken
	dto.SuccessCreatedResponse(ctx, resp)
}

func (s *service) GetAllEvents(ctx *ginext.Context) {
	events, err := s.repo.GetAllEvents(ctx)
	if err != nil {
		s.fail(ctx, err, "failed to list events")
		return
	}
	resp := make([]dto.EventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, dto.NewEventResponse(&events[i]))
	}
	dto.SuccessResponse(ctx, resp)
}

func (s *service) GetEvent(ctx *ginext.Context) {
	event := currentEvent(ctx)
	resp := dto.NewEventResponse(event)
	if sess := currentSession(ctx); sess.Email == event.Owner {
		resp.APIToken = event.APIToken
	}
	dto.SuccessResponse(ctx, resp)
}

func (s *service) GetCurrentEvent(ctx *ginext.Context) {
	dto.SuccessResponse(ctx, dto.NewEventResponse(currentEvent(ctx)))
}

// UpdateCurrentEvent lets the timing software push the event header.
func (s *service) UpdateCurrentEvent(ctx *ginext.Context) {
	var req dto.UpdateEventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if !s.validate(ctx, req) {
		return
	}

	event := *currentEvent(ctx)
	event.Name = req.Name
	event.Place = req.Place
	event.Description = req.Description
	event.StartTime = req.StartTime
	if err := s.events.SetStart00(ctx, event.ID, event.StartTime); err != nil {
		s.fail(ctx, err, "failed to store start00")
		return
	}
	if err := s.repo.UpdateEvent(ctx, &event); err != nil {
		s.fail(ctx, err, "failed to update event")
		return
	}
	s.log.Info().Int64("event_id", event.ID).Msg("event updated")
	dto.SuccessResponse(ctx, dto.NewEventResponse(&event))
}
