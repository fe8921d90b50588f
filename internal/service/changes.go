package service

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wb-go/wbf/ginext"

	"racesync/internal/adapter"
	"racesync/internal/broadcast"
	"racesync/internal/dto"
	"racesync/internal/journal"
	"racesync/internal/model"
)

const (
	keepAliveInterval = 25 * time.Second
	writeTimeout      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// browsers connect from the event pages served on other origins
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *service) PostChecklist(ctx *ginext.Context) {
	event := currentEvent(ctx)
	body, ok := s.readBody(ctx)
	if !ok {
		return
	}
	res, err := s.reconciler.SubmitChecklist(ctx, event.ID, body)
	if err != nil {
		s.fail(ctx, err, "failed to accept checklist change set")
		return
	}
	dto.SuccessCreatedResponse(ctx, res)
}

func (s *service) PostRunUpdated(ctx *ginext.Context) {
	event := currentEvent(ctx)
	var push adapter.TimingPush
	if err := ctx.ShouldBindJSON(&push); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if !s.validate(ctx, push) {
		return
	}
	entry, err := s.reconciler.SubmitTiming(ctx, event.ID, push)
	if err != nil {
		s.fail(ctx, err, "failed to journal timing push")
		return
	}
	dto.SuccessCreatedResponse(ctx, entry)
}

func (s *service) SetChangeStatus(ctx *ginext.Context) {
	event := currentEvent(ctx)
	changeID, ok := paramInt64(ctx, "change_id")
	if !ok {
		return
	}
	var req dto.ChangeStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if !s.validate(ctx, req) {
		return
	}
	status, err := model.ParseChangeStatus(req.Status)
	if err != nil {
		dto.FieldIncorrectError(ctx, "status")
		return
	}
	entry, err := s.reconciler.Confirm(ctx, event.ID, changeID, status)
	if err != nil {
		s.fail(ctx, err, "failed to set change status")
		return
	}
	dto.SuccessResponse(ctx, entry)
}

func (s *service) PostRunUpdateRequest(ctx *ginext.Context) {
	event := currentEvent(ctx)
	sess := currentSession(ctx)
	var change model.RunChange
	if err := ctx.ShouldBindJSON(&change); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if !s.validate(ctx, change) {
		return
	}
	entry, err := s.reconciler.SubmitBrowser(ctx, event.ID, sess.Email, change)
	if err != nil {
		s.fail(ctx, err, "failed to journal run update request")
		return
	}
	dto.SuccessCreatedResponse(ctx, entry)
}

func (s *service) GetChanges(ctx *ginext.Context) {
	event := currentEvent(ctx)
	var (
		fromID int64
		filter journal.Filter
		err    error
	)
	if raw := ctx.Query("from_id"); raw != "" {
		if fromID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			dto.FieldIncorrectError(ctx, "from_id")
			return
		}
	}
	if raw := ctx.Query("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			dto.FieldIncorrectError(ctx, "limit")
			return
		}
	}
	if raw := ctx.Query("data_type"); raw != "" {
		if filter.DataType, err = model.ParseDataType(raw); err != nil {
			dto.FieldIncorrectError(ctx, "data_type")
			return
		}
	}
	if raw := ctx.Query("status"); raw != "" {
		if filter.Status, err = model.ParseChangeStatus(raw); err != nil {
			dto.FieldIncorrectError(ctx, "status")
			return
		}
	}
	entries, err := s.journal.ReadSince(ctx, event.ID, fromID, filter)
	if err != nil {
		s.fail(ctx, err, "failed to read changes")
		return
	}
	dto.SuccessResponse(ctx, entries)
}

// ChangesSSE streams every entry published for the event as a "change"
// server-sent event until the client goes away.
func (s *service) ChangesSSE(ctx *ginext.Context) {
	event := currentEvent(ctx)
	l := s.hub.Subscribe(event.ID)
	defer l.Close()

	s.log.Info().Int64("event_id", event.ID).Int64("listener", l.ID()).Msg("sse listener connected")
	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("X-Accel-Buffering", "no")
	// the client is live once headers arrive
	ctx.Writer.WriteHeaderNow()
	ctx.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	done := ctx.Request.Context().Done()

	ctx.Stream(func(w io.Writer) bool {
		select {
		case entry, ok := <-l.C():
			if !ok {
				s.log.Warn().Err(l.Err()).Int64("event_id", event.ID).Msg("sse listener dropped")
				return false
			}
			ctx.SSEvent("change", entry)
			return true
		case <-keepAlive.C:
			ctx.SSEvent("ping", "")
			return true
		case <-done:
			return false
		}
	})
	s.log.Info().Int64("event_id", event.ID).Int64("listener", l.ID()).Msg("sse listener disconnected")
}

// ChangesWS streams every entry published for the event as one JSON text
// frame. Frames sent by the client are discarded.
func (s *service) ChangesWS(ctx *ginext.Context) {
	event := currentEvent(ctx)
	wc, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Int64("event_id", event.ID).Msg("websocket upgrade failed")
		return
	}
	defer wc.Close()

	l := s.hub.Subscribe(event.ID)
	defer l.Close()
	s.log.Info().Int64("event_id", event.ID).Int64("listener", l.ID()).Msg("websocket listener connected")
	s.streamWS(wc, l)
}

var (
	defaultEncodeChange = json.Marshal
	encodeChange        = defaultEncodeChange
)

// streamWS writes entries of l to wc until either side ends the stream.
func (s *service) streamWS(wc *websocket.Conn, l *broadcast.Listener) {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := wc.NextReader(); err != nil {
				return
			}
		}
	}()

	closeWith := func(code int, text string) {
		_ = wc.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text), time.Now().Add(writeTimeout))
	}

	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()
	for {
		select {
		case entry, ok := <-l.C():
			if !ok {
				s.log.Warn().Err(l.Err()).Int64("event_id", l.EventID()).Msg("websocket listener dropped")
				closeWith(websocket.CloseTryAgainLater, "too slow")
				return
			}
			b, err := encodeChange(entry)
			if err != nil {
				s.log.Error().Err(err).Int64("change_id", entry.ID).Msg("failed to encode change")
				closeWith(websocket.CloseInternalServerErr, "encode failed")
				return
			}
			_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := wc.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-gone:
			s.log.Info().Int64("event_id", l.EventID()).Int64("listener", l.ID()).Msg("websocket listener disconnected")
			return
		}
	}
}
