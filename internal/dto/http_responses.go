package dto

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"racesync/internal/model"
	"racesync/internal/startlist"
	"racesync/internal/timestamp"
)

const (
	FieldIncorrect     = "FIELD_INCORRECT"
	ParseFailed        = "PARSE_ERROR"
	TranslationFailed  = "TRANSLATION_ERROR"
	Unauthorized       = "UNAUTHORIZED"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	EventNotFound  = "EVENT_NOT_FOUND"
	ChangeNotFound = "CHANGE_NOT_FOUND"
	FileNotFound   = "FILE_NOT_FOUND"
	StatusFinal    = "STATUS_FINAL"
)

type CreateEventRequest struct {
	Name        string               `json:"name" validate:"required,max=255"`
	Place       string               `json:"place" validate:"max=255"`
	Description string               `json:"description"`
	StartTime   *timestamp.Timestamp `json:"start_time"`
}

type UpdateEventRequest struct {
	Name        string               `json:"name" validate:"required,max=255"`
	Place       string               `json:"place" validate:"max=255"`
	Description string               `json:"description"`
	StartTime   *timestamp.Timestamp `json:"start_time"`
}

type EventResponse struct {
	ID          int64                `json:"id"`
	Name        string               `json:"name"`
	Place       string               `json:"place"`
	Description string               `json:"description,omitempty"`
	StartTime   *timestamp.Timestamp `json:"start_time,omitempty"`
	Owner       string               `json:"owner"`
	Created     timestamp.Timestamp  `json:"created"`
	// APIToken is only shown to the event owner.
	APIToken string `json:"api_token,omitempty"`
}

func NewEventResponse(e *model.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		Name:        e.Name,
		Place:       e.Place,
		Description: e.Description,
		StartTime:   e.StartTime,
		Owner:       e.Owner,
		Created:     e.Created,
	}
}

type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=Accepted Rejected"`
}

type FileResponse struct {
	ID      int64               `json:"id"`
	Name    string              `json:"name"`
	Size    int64               `json:"size"`
	Created timestamp.Timestamp `json:"created"`
	// Import is set when the upload was a start list.
	Import *startlist.Summary `json:"import,omitempty"`
}

type Readiness struct {
	SharedStore bool          `json:"shared_store"`
	Rabbit      bool          `json:"rabbit"`
	Listeners   map[int64]int `json:"listeners,omitempty"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func ErrorResponse(c *ginext.Context, httpStatus int, code, desc string) {
	c.AbortWithStatusJSON(httpStatus, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func BadResponseError(c *ginext.Context, code, desc string) {
	ErrorResponse(c, http.StatusBadRequest, code, desc)
}

func InternalServerError(c *ginext.Context) {
	ErrorResponse(c, http.StatusInternalServerError, ServiceUnavailable, InternalError)
}

func FieldIncorrectError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldIncorrect, "Field '"+fieldName+"' is incorrect")
}

func UnauthorizedError(c *ginext.Context) {
	ErrorResponse(c, http.StatusUnauthorized, Unauthorized, "Missing or invalid credentials")
}

func EventNotFoundError(c *ginext.Context) {
	ErrorResponse(c, http.StatusNotFound, EventNotFound, "Event not found")
}

func ChangeNotFoundError(c *ginext.Context) {
	ErrorResponse(c, http.StatusNotFound, ChangeNotFound, "Change not found")
}

func FileNotFoundError(c *ginext.Context) {
	ErrorResponse(c, http.StatusNotFound, FileNotFound, "File not found")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusCreated, Response{
		Status: "ok",
		Data:   data,
	})
}
