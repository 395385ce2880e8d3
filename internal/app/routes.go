package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/threadline/core/internal/middleware"
	"github.com/threadline/core/internal/modules/audit"
	"github.com/threadline/core/internal/modules/ban"
	"github.com/threadline/core/internal/modules/comment"
	"github.com/threadline/core/internal/modules/counts"
	"github.com/threadline/core/internal/modules/format"
	"github.com/threadline/core/internal/modules/moderation"
	"github.com/threadline/core/internal/modules/user"
	"github.com/threadline/core/internal/pkg/response"
)

var processStart = time.Now()

func (a *App) registerRoutes(
	commentSvc *comment.Service,
	modSvc *moderation.Service,
	bans *ban.Registry,
	userSvc *user.Service,
	countsSvc *counts.Service,
	auditSvc *audit.Service,
	renderer *format.Renderer,
) {
	optionalAuth := middleware.OptionalAuth()
	authMW := middleware.Auth()
	moderatorMW := middleware.RequireModerator()

	api := a.router.Group("/api/v1")

	api.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{
			"status": "ok",
			"uptime": time.Since(processStart).Truncate(time.Second).String(),
		})
	})

	comment.NewHandler(commentSvc, countsSvc, renderer).RegisterRoutes(api, optionalAuth, authMW, moderatorMW)
	user.NewHandler(userSvc).RegisterRoutes(api, authMW, moderatorMW)
	ban.NewHandler(bans).RegisterRoutes(api, authMW, moderatorMW)
	moderation.NewHandler(modSvc, auditSvc).RegisterRoutes(api, authMW, moderatorMW)

	jobs := api.Group("/jobs", authMW, moderatorMW)
	jobs.GET("", func(c *gin.Context) {
		response.OK(c, a.sched.List())
	})
	jobs.POST("/:name/run", func(c *gin.Context) {
		if err := a.sched.Run(c.Request.Context(), c.Param("name")); err != nil {
			response.NotFound(c, err.Error())
			return
		}
		response.NoContent(c)
	})
}
