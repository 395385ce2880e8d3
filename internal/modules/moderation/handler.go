package moderation

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/threadline/core/internal/middleware"
	"github.com/threadline/core/internal/models"
	"github.com/threadline/core/internal/modules/audit"
	"github.com/threadline/core/internal/pkg/pagination"
	"github.com/threadline/core/internal/pkg/response"
)

type FlagCommentDTO struct {
	Category string `json:"category" binding:"required"`
	Reason   string `json:"reason"`
}

type RejectCommentDTO struct {
	Reason string `json:"reason"`
}

type ReviewFlagDTO struct {
	Action string `json:"action" binding:"required"`
	Notes  string `json:"notes"`
}

type Handler struct {
	svc   *Service
	audit *audit.Service
}

func NewHandler(svc *Service, auditSvc *audit.Service) *Handler {
	return &Handler{svc: svc, audit: auditSvc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW, moderatorMW gin.HandlerFunc) {
	rg.POST("/comments/:id/flags", authMW, h.flag)

	m := rg.Group("/moderation", authMW, moderatorMW)
	m.GET("/queue", h.queue)
	m.GET("/flags", h.flags)
	m.POST("/comments/:id/approve", h.approve)
	m.POST("/comments/:id/reject", h.reject)
	m.POST("/comments/:id/remove", h.remove)
	m.POST("/flags/:id/review", h.review)
	m.DELETE("/flags/:id", h.removeFlag)
	m.GET("/audit", h.auditLog)
}

// POST /comments/:id/flags
func (h *Handler) flag(c *gin.Context) {
	var dto FlagCommentDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	err := h.svc.Flag(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"),
		models.FlagCategory(dto.Category), dto.Reason, c.ClientIP())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

// GET /moderation/queue
func (h *Handler) queue(c *gin.Context) {
	rows, pag, err := h.svc.Queue(pagination.FromContext(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, rows, pag)
}

// GET /moderation/flags
func (h *Handler) flags(c *gin.Context) {
	rows, pag, err := h.svc.Flags(pagination.FromContext(c),
		c.Query("comment_id"), c.Query("unreviewed") == "true")
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, rows, pag)
}

// POST /moderation/comments/:id/approve
func (h *Handler) approve(c *gin.Context) {
	err := h.svc.Approve(c.Request.Context(), c.Param("id"),
		middleware.CurrentUserID(c), c.ClientIP())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

// POST /moderation/comments/:id/reject
func (h *Handler) reject(c *gin.Context) {
	var dto RejectCommentDTO
	_ = c.ShouldBindJSON(&dto)
	err := h.svc.Reject(c.Request.Context(), c.Param("id"),
		middleware.CurrentUserID(c), dto.Reason, c.ClientIP())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

// POST /moderation/comments/:id/remove
func (h *Handler) remove(c *gin.Context) {
	var dto RejectCommentDTO
	_ = c.ShouldBindJSON(&dto)
	err := h.svc.Remove(c.Request.Context(), c.Param("id"),
		middleware.CurrentUserID(c), dto.Reason, c.ClientIP())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

// POST /moderation/flags/:id/review
func (h *Handler) review(c *gin.Context) {
	var dto ReviewFlagDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	err := h.svc.MarkReviewed(c.Param("id"), middleware.CurrentUserID(c), dto.Action, dto.Notes)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

// DELETE /moderation/flags/:id
func (h *Handler) removeFlag(c *gin.Context) {
	err := h.svc.RemoveFlag(c.Param("id"), middleware.CurrentUserID(c), c.Query("reason"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

// GET /moderation/audit
func (h *Handler) auditLog(c *gin.Context) {
	rows, pag, err := h.audit.List(pagination.FromContext(c),
		c.Query("comment_id"), c.Query("user_id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, rows, pag)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var limited *RateLimitedError
	switch {
	case errors.Is(err, ErrCommentNotFound), errors.Is(err, ErrFlagNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrInvalidReview):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrDuplicateFlag):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrBanned):
		response.Forbidden(c, err.Error())
	case errors.As(err, &limited):
		response.TooManyRequests(c, strconv.Itoa(int(limited.Window.Seconds())))
	default:
		response.InternalError(c, err)
	}
}
