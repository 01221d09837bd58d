package api

import (
	"github.com/gin-contrib/cors"
	"github.com/wb-go/wbf/ginext"

	"rsvpdesk/cmd/middleware"
	"rsvpdesk/internal/service"
)

type Routers struct {
	Service    service.Service
	Mode       string
	AdminToken string
}

func NewRouters(r *Routers) *ginext.Engine {
	mode := r.Mode
	if mode == "" {
		mode = "release"
	}
	app := ginext.New(mode)

	app.Use(middleware.LoggingMiddleware())
	app.Use(cors.New(corsConfig()))
	apiGroup := app.Group("/v1")

	apiGroup.GET("/events/:id", r.Service.GetEvent)
	apiGroup.POST("/events/:id/rsvps", r.Service.SubmitRSVP)
	apiGroup.GET("/rsvps/:id", r.Service.GetRSVP)

	admin := apiGroup.Group("", middleware.AdminToken(r.AdminToken))
	admin.POST("/events", r.Service.CreateEvent)
	admin.GET("/events", r.Service.ListEvents)
	admin.GET("/events/:id/guests", r.Service.ListGuests)
	admin.GET("/events/:id/guests/stream", r.Service.StreamGuests)
	admin.POST("/rsvps/:id/checkin", r.Service.CheckIn)
	admin.DELETE("/rsvps/:id", r.Service.DeleteRSVP)

	app.GET("/healthz", func(c *ginext.Context) {
		c.JSON(200, map[string]string{"status": "ok"})
	})

	return app
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowHeaders = append(cfg.AllowHeaders, middleware.AdminTokenHeader)
	return cfg
}
