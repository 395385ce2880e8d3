package user

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/threadline/core/internal/middleware"
	"github.com/threadline/core/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW, moderatorMW gin.HandlerFunc) {
	g := rg.Group("/users")
	g.POST("", h.register)
	g.POST("/login", h.login)
	g.GET("/me", authMW, h.me)

	m := g.Group("", authMW, moderatorMW)
	m.PATCH("/:id/role", h.setRole)
	m.PATCH("/:id/trusted", h.setTrusted)
}

// POST /users
func (h *Handler) register(c *gin.Context) {
	var dto RegisterDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.svc.Register(&dto)
	if err != nil {
		switch {
		case errors.Is(err, ErrUsernameTaken):
			response.Conflict(c, err.Error())
		case errors.Is(err, ErrReserved):
			response.BadRequest(c, err.Error())
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Created(c, u)
}

// POST /users/login
func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	token, u, err := h.svc.Login(dto.Username, dto.Password, c.ClientIP())
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrWrongPassword) {
			response.Unauthorized(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"token": token, "user": u})
}

// GET /users/me
func (h *Handler) me(c *gin.Context) {
	u, err := h.svc.GetByID(middleware.CurrentUserID(c))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, u)
}

// PATCH /users/:id/role
func (h *Handler) setRole(c *gin.Context) {
	var dto SetRoleDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.svc.SetRole(c.Param("id"), dto.Role); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.BadRequest(c, err.Error())
		return
	}
	response.NoContent(c)
}

// PATCH /users/:id/trusted
func (h *Handler) setTrusted(c *gin.Context) {
	var dto SetTrustedDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.svc.SetTrusted(c.Param("id"), dto.Trusted); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
