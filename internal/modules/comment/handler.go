package comment

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/threadline/core/internal/contentref"
	"github.com/threadline/core/internal/middleware"
	"github.com/threadline/core/internal/modules/counts"
	"github.com/threadline/core/internal/modules/format"
	"github.com/threadline/core/internal/pkg/pagination"
	"github.com/threadline/core/internal/pkg/response"
)

type CreateCommentDTO struct {
	ContentType string  `json:"content_type" binding:"required"`
	ObjectID    string  `json:"object_id"    binding:"required"`
	ParentID    *string `json:"parent_id"`
	Text        string  `json:"text"         binding:"required"`
	UserName    string  `json:"user_name"`
	UserEmail   string  `json:"user_email"`
	UserURL     string  `json:"user_url"`
}

type EditCommentDTO struct {
	Text string `json:"text" binding:"required"`
}

type Handler struct {
	svc      *Service
	counts   *counts.Service
	renderer *format.Renderer
}

func NewHandler(svc *Service, countsSvc *counts.Service, renderer *format.Renderer) *Handler {
	if renderer == nil {
		renderer = format.NewRenderer()
	}
	return &Handler{svc: svc, counts: countsSvc, renderer: renderer}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, optionalAuth, authMW, moderatorMW gin.HandlerFunc) {
	g := rg.Group("/comments")

	g.POST("", optionalAuth, h.create)
	g.GET("/:id", h.get)
	g.GET("/:id/thread", optionalAuth, h.thread)
	g.GET("/:id/subtree", optionalAuth, h.subtree)
	g.GET("/:id/rendered", optionalAuth, h.rendered)
	g.GET("/:id/revisions", authMW, moderatorMW, h.revisions)
	g.PATCH("/:id", authMW, h.edit)
	g.DELETE("/:id", authMW, h.delete)

	o := rg.Group("/objects/:type/:id")
	o.GET("/comments", optionalAuth, h.listForObject)
	o.GET("/comments/count", h.count)
}

// POST /comments
func (h *Handler) create(c *gin.Context) {
	var dto CreateCommentDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	created, err := h.svc.Create(c.Request.Context(), CreateInput{
		ContentType: dto.ContentType,
		ObjectID:    dto.ObjectID,
		ParentID:    dto.ParentID,
		Text:        dto.Text,
		UserID:      middleware.CurrentUserID(c),
		UserName:    dto.UserName,
		UserEmail:   dto.UserEmail,
		UserURL:     dto.UserURL,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.GetHeader("User-Agent"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !created.IsPublic {
		response.Accepted(c, created)
		return
	}
	response.Created(c, created)
}

// GET /comments/:id
func (h *Handler) get(c *gin.Context) {
	comment, err := h.svc.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !comment.Visible() && !middleware.IsModerator(c) {
		response.NotFound(c, "comment not found")
		return
	}
	response.OK(c, comment)
}

// GET /comments/:id/thread
func (h *Handler) thread(c *gin.Context) {
	rows, err := h.svc.Thread(c.Param("id"), middleware.IsModerator(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, rows)
}

// GET /comments/:id/subtree
func (h *Handler) subtree(c *gin.Context) {
	rows, err := h.svc.Subtree(c.Param("id"), middleware.IsModerator(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, rows)
}

// GET /comments/:id/rendered
func (h *Handler) rendered(c *gin.Context) {
	comment, err := h.svc.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !comment.Visible() && !middleware.IsModerator(c) {
		response.NotFound(c, "comment not found")
		return
	}
	response.OK(c, gin.H{
		"html":     h.renderer.Render(comment.Text),
		"mentions": format.Mentions(comment.Text),
	})
}

// GET /comments/:id/revisions
func (h *Handler) revisions(c *gin.Context) {
	rows, err := h.svc.Revisions(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, rows)
}

// PATCH /comments/:id
func (h *Handler) edit(c *gin.Context) {
	var dto EditCommentDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	edited, err := h.svc.Edit(c.Request.Context(), c.Param("id"),
		middleware.CurrentUserID(c), middleware.IsModerator(c), dto.Text, c.ClientIP())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, edited)
}

// DELETE /comments/:id
func (h *Handler) delete(c *gin.Context) {
	err := h.svc.Delete(c.Request.Context(), c.Param("id"),
		middleware.CurrentUserID(c), middleware.IsModerator(c),
		c.Query("reason"), c.ClientIP())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

// GET /objects/:type/:id/comments
func (h *Handler) listForObject(c *gin.Context) {
	ref := contentref.Normalize(c.Param("type"), c.Param("id"))
	includeHidden := middleware.IsModerator(c) && c.Query("include_hidden") == "true"
	rows, pag, err := h.svc.ListForObject(ref, includeHidden, pagination.FromContext(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Paged(c, rows, pag)
}

// GET /objects/:type/:id/comments/count
func (h *Handler) count(c *gin.Context) {
	ref := contentref.Normalize(c.Param("type"), c.Param("id"))
	publicOnly := c.DefaultQuery("public_only", "true") != "false"
	n, err := h.counts.Count(c.Request.Context(), ref, publicOnly)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"count": n})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		validation  *ValidationError
		disallowed  *DisallowedError
		depth       *MaxDepthError
		consistency *ConsistencyError
	)
	switch {
	case errors.As(err, &validation):
		response.BadRequest(c, validation.Error())
	case errors.As(err, &disallowed):
		response.UnprocessableEntity(c, disallowed.Reason)
	case errors.As(err, &depth):
		response.BadRequest(c, depth.Error())
	case errors.As(err, &consistency):
		response.Conflict(c, consistency.Detail)
	case errors.Is(err, ErrBanned):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrNotOwner):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrEditingDisabled), errors.Is(err, ErrEditWindow), errors.Is(err, ErrRemoved):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrParentNotFound), errors.Is(err, contentref.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, contentref.ErrUnknownType):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
