package ban

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/threadline/core/internal/middleware"
	"github.com/threadline/core/internal/pkg/pagination"
	"github.com/threadline/core/internal/pkg/response"
)

type BanUserDTO struct {
	BannedUntil *time.Time `json:"banned_until"`
	Reason      string     `json:"reason"`
}

type UnbanUserDTO struct {
	Reason string `json:"reason"`
}

type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW, moderatorMW gin.HandlerFunc) {
	g := rg.Group("/bans", authMW, moderatorMW)
	g.GET("", h.list)
	g.GET("/:userId", h.check)
	g.POST("/:userId", h.ban)
	g.DELETE("/:userId", h.unban)
}

// GET /bans
func (h *Handler) list(c *gin.Context) {
	rows, pag, err := h.registry.List(pagination.FromContext(c), c.Query("active") == "true")
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, rows, pag)
}

// GET /bans/:userId
func (h *Handler) check(c *gin.Context) {
	row, err := h.registry.Check(c.Param("userId"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if row == nil {
		response.NotFound(c, "no active ban for this user")
		return
	}
	response.OK(c, row)
}

// POST /bans/:userId
func (h *Handler) ban(c *gin.Context) {
	var dto BanUserDTO
	_ = c.ShouldBindJSON(&dto)

	row, err := h.registry.Ban(c.Request.Context(), c.Param("userId"),
		dto.BannedUntil, dto.Reason, middleware.CurrentUserID(c))
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyBanned):
			response.Conflict(c, err.Error())
		case errors.Is(err, ErrPastExpiry):
			response.BadRequest(c, err.Error())
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Created(c, row)
}

// DELETE /bans/:userId
func (h *Handler) unban(c *gin.Context) {
	var dto UnbanUserDTO
	_ = c.ShouldBindJSON(&dto)

	err := h.registry.Unban(c.Request.Context(), c.Param("userId"),
		middleware.CurrentUserID(c), dto.Reason)
	if err != nil {
		if errors.Is(err, ErrNotBanned) {
			response.NotFound(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
