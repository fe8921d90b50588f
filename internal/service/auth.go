package service

import (
	"errors"
	"strings"

	"github.com/wb-go/wbf/ginext"

	"racesync/internal/dto"
	"racesync/internal/model"
	"racesync/internal/repo"
)

const (
	APITokenHeader = "qx-api-token"
	SessionKey     = "qx-session-id"

	eventKey   = "event"
	sessionKey = "session"
)

// RequireAPIToken resolves the event of a machine client.
func (s *service) RequireAPIToken(ctx *ginext.Context) {
	token := strings.TrimSpace(ctx.GetHeader(APITokenHeader))
	if token == "" {
		dto.UnauthorizedError(ctx)
		return
	}
	event, err := s.repo.GetEventByAPIToken(ctx.Request.Context(), token)
	if errors.Is(err, repo.ErrEventNotFound) {
		s.log.Warn().Str("path", ctx.FullPath()).Msg("unknown api token")
		dto.UnauthorizedError(ctx)
		return
	}
	if err != nil {
		s.fail(ctx, err, "failed to resolve api token")
		return
	}
	ctx.Set(eventKey, event)
	ctx.Next()
}

// RequireSession resolves the session a browser presents in the header or
// cookie. Sessions are issued elsewhere.
func (s *service) RequireSession(ctx *ginext.Context) {
	id := strings.TrimSpace(ctx.GetHeader(SessionKey))
	if id == "" {
		id, _ = ctx.Cookie(SessionKey)
	}
	if id == "" {
		dto.UnauthorizedError(ctx)
		return
	}
	sess, err := s.repo.GetSession(ctx.Request.Context(), id)
	if errors.Is(err, repo.ErrSessionNotFound) {
		dto.UnauthorizedError(ctx)
		return
	}
	if err != nil {
		s.fail(ctx, err, "failed to load session")
		return
	}
	ctx.Set(sessionKey, sess)
	ctx.Next()
}

// RequireEvent loads the event named by :id so that no store is ever
// opened for an unknown event.
func (s *service) RequireEvent(ctx *ginext.Context) {
	id, ok := paramInt64(ctx, "id")
	if !ok {
		return
	}
	event, err := s.repo.GetEventByID(ctx.Request.Context(), id)
	if err != nil {
		s.fail(ctx, err, "failed to load event")
		return
	}
	ctx.Set(eventKey, event)
	ctx.Next()
}

func currentEvent(ctx *ginext.Context) *model.Event {
	return ctx.MustGet(eventKey).(*model.Event)
}

func currentSession(ctx *ginext.Context) *model.Session {
	return ctx.MustGet(sessionKey).(*model.Session)
}
