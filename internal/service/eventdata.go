package service

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/wb-go/wbf/ginext"

	"racesync/internal/dto"
	"racesync/internal/model"
	"racesync/internal/repo"
	"racesync/internal/startlist"
)

// StartListFile is the upload name that triggers a start list import.
const StartListFile = "startlist-iof3.xml"

// readBody returns the request body, inflated when the client marks it as
// compressed.
func (s *service) readBody(ctx *ginext.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, startlist.MaxUploadSize))
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Request body too large or unreadable")
		return nil, false
	}
	if strings.HasPrefix(ctx.ContentType(), "application/zip") {
		body, err = startlist.Inflate(body)
		if err != nil {
			s.fail(ctx, err, "failed to inflate upload")
			return nil, false
		}
	}
	return body, true
}

func (s *service) UploadFile(ctx *ginext.Context) {
	event := currentEvent(ctx)
	name := strings.TrimSpace(ctx.Query("name"))
	if name == "" || strings.ContainsAny(name, `/\`) {
		dto.FieldIncorrectError(ctx, "name")
		return
	}
	body, ok := s.readBody(ctx)
	if !ok {
		return
	}

	resp := dto.FileResponse{Name: name, Size: int64(len(body))}
	if name == StartListFile {
		sum, err := s.importer.Import(ctx, event.ID, body)
		if err != nil {
			s.fail(ctx, err, "failed to import start list")
			return
		}
		resp.Import = sum
	}
	id, err := s.events.SaveFile(ctx, event.ID, name, body)
	if err != nil {
		s.fail(ctx, err, "failed to store file")
		return
	}
	resp.ID = id
	dto.SuccessCreatedResponse(ctx, resp)
}

func (s *service) ImportStartList(ctx *ginext.Context) {
	event := currentEvent(ctx)
	sync := ctx.Query("sync") == "true"
	body, ok := s.readBody(ctx)
	if !ok {
		return
	}

	var (
		sum *startlist.Summary
		err error
	)
	if sync {
		sum, err = s.importer.SyncStartList(ctx, event.ID, body)
	} else {
		sum, err = s.importer.Import(ctx, event.ID, body)
	}
	if err != nil {
		s.fail(ctx, err, "failed to import start list")
		return
	}
	dto.SuccessResponse(ctx, sum)
}

// SyncRuns replaces the run set of the event with the posted one.
func (s *service) SyncRuns(ctx *ginext.Context) {
	event := currentEvent(ctx)
	var runs []model.Run
	if err := ctx.ShouldBindJSON(&runs); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	for i := range runs {
		if !s.validate(ctx, runs[i]) {
			return
		}
	}
	sum, err := s.importer.SyncRuns(ctx, event.ID, runs)
	if err != nil {
		s.fail(ctx, err, "failed to sync runs")
		return
	}
	dto.SuccessResponse(ctx, sum)
}

func (s *service) UpsertClass(ctx *ginext.Context) {
	event := currentEvent(ctx)
	var class model.Class
	if err := ctx.ShouldBindJSON(&class); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	class.ID = 0
	class.Name = strings.TrimSpace(class.Name)
	if class.Name == "" {
		dto.FieldIncorrectError(ctx, "name")
		return
	}
	if err := s.events.UpsertClass(ctx, event.ID, &class); err != nil {
		s.fail(ctx, err, "failed to upsert class")
		return
	}
	dto.SuccessResponse(ctx, class)
}

func (s *service) GetRuns(ctx *ginext.Context) {
	event := currentEvent(ctx)
	filter := repo.RunFilter{ClassName: ctx.Query("class_name")}
	if raw := ctx.Query("run_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			dto.FieldIncorrectError(ctx, "run_id")
			return
		}
		filter.RunID = id
	}
	runs, err := s.events.ListRuns(ctx, event.ID, filter)
	if err != nil {
		s.fail(ctx, err, "failed to list runs")
		return
	}
	dto.SuccessResponse(ctx, runs)
}

func (s *service) GetClasses(ctx *ginext.Context) {
	classes, err := s.events.ListClasses(ctx, currentEvent(ctx).ID)
	if err != nil {
		s.fail(ctx, err, "failed to list classes")
		return
	}
	dto.SuccessResponse(ctx, classes)
}

func (s *service) GetFiles(ctx *ginext.Context) {
	files, err := s.events.ListFiles(ctx, currentEvent(ctx).ID)
	if err != nil {
		s.fail(ctx, err, "failed to list files")
		return
	}
	resp := make([]dto.FileResponse, 0, len(files))
	for _, f := range files {
		resp = append(resp, dto.FileResponse{ID: f.ID, Name: f.Name, Size: f.Size, Created: f.Created})
	}
	dto.SuccessResponse(ctx, resp)
}

func (s *service) GetFile(ctx *ginext.Context) {
	f, err := s.events.LoadFile(ctx, currentEvent(ctx).ID, ctx.Param("name"))
	if err != nil {
		s.fail(ctx, err, "failed to load file")
		return
	}
	ctx.Data(http.StatusOK, http.DetectContentType(f.Data), f.Data)
}
