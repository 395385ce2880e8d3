package models

import (
	"strings"
	"time"
)

// CommentModel is a threaded comment attached to one content object via a
// (content_type, object_id) pair. ObjectID is stored as an opaque string so
// integer, UUID and composite keys all work uniformly.
type CommentModel struct {
	Base
	ContentType string  `json:"content_type" gorm:"index:idx_comments_target;not null"`
	ObjectID    string  `json:"object_id"    gorm:"index:idx_comments_target;not null"`
	UserID      *string `json:"user_id"      gorm:"type:char(36);index"`
	UserName    string  `json:"user_name"`
	UserEmail   string  `json:"user_email"`
	UserURL     string  `json:"user_url"`
	Text        string  `json:"text"         gorm:"type:longtext;not null"`
	IsPublic    bool    `json:"is_public"    gorm:"index"`
	IsRemoved   bool    `json:"is_removed"   gorm:"index"`

	// Path is the materialized ancestor chain: "<root_id>" for a root,
	// "<root_id>/.../<self_id>" for a descendant. ThreadID equals the root
	// comment's id for every comment in the thread, the root included.
	Path     string  `json:"path"      gorm:"index"`
	ThreadID string  `json:"thread_id" gorm:"type:char(36);index"`
	ParentID *string `json:"parent_id" gorm:"type:char(36);index"`

	IPAddress string `json:"-"`
	UserAgent string `json:"-" gorm:"type:text"`

	Parent   *CommentModel  `json:"-"        gorm:"foreignKey:ParentID"`
	Children []CommentModel `json:"children" gorm:"foreignKey:ParentID"`
}

func (CommentModel) TableName() string { return "comments" }

// Depth is the number of ancestors above this comment: 0 for a root.
func (c *CommentModel) Depth() int {
	return strings.Count(c.Path, "/")
}

// IsAnonymous reports whether the comment has no authenticated author.
func (c *CommentModel) IsAnonymous() bool {
	return c.UserID == nil || *c.UserID == ""
}

// Visible reports whether readers should see the comment. A removed comment
// is never visible regardless of is_public.
func (c *CommentModel) Visible() bool {
	return c.IsPublic && !c.IsRemoved
}

// IsEdited reports whether the comment was modified after a short grace
// period following creation.
func (c *CommentModel) IsEdited() bool {
	return c.UpdatedAt.Sub(c.CreatedAt) > 30*time.Second
}
