package api

import (
	"github.com/gin-contrib/cors"
	"github.com/wb-go/wbf/ginext"

	"racesync/cmd/middleware"
	"racesync/internal/service"
)

type Routers struct {
	Service service.Service
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware())
	app.Use(cors.Default())

	app.GET("/health", r.Service.Health)
	app.GET("/ready", r.Service.Ready)

	apiGroup := app.Group("/api")

	sessionGroup := apiGroup.Group("", r.Service.RequireSession)
	sessionGroup.POST("/events", r.Service.CreateEvent)
	sessionGroup.GET("/events", r.Service.GetAllEvents)

	// machine clients of one event, identified by api token
	current := apiGroup.Group("/event/current", r.Service.RequireAPIToken)
	current.GET("", r.Service.GetCurrentEvent)
	current.POST("", r.Service.UpdateCurrentEvent)
	current.POST("/file", r.Service.UploadFile)
	current.POST("/startlist", r.Service.ImportStartList)
	current.POST("/runs/sync", r.Service.SyncRuns)
	current.POST("/classes", r.Service.UpsertClass)
	current.POST("/oc", r.Service.PostChecklist)
	current.POST("/changes/run-updated", r.Service.PostRunUpdated)
	current.POST("/changes/:change_id/status", r.Service.SetChangeStatus)

	event := apiGroup.Group("/event/:id", r.Service.RequireEvent)
	event.GET("", r.Service.RequireSession, r.Service.GetEvent)
	event.POST("/changes/run-update-request", r.Service.RequireSession, r.Service.PostRunUpdateRequest)
	event.GET("/runs", r.Service.GetRuns)
	event.GET("/classes", r.Service.GetClasses)
	event.GET("/files", r.Service.GetFiles)
	event.GET("/file/:name", r.Service.GetFile)
	event.GET("/changes", r.Service.GetChanges)
	event.GET("/changes/sse", r.Service.ChangesSSE)
	event.GET("/changes/ws", r.Service.ChangesWS)

	return app
}
