package models

// CommentRevisionModel is an immutable snapshot of a comment's text and
// visibility taken just before an edit. Never mutated after creation.
type CommentRevisionModel struct {
	Base
	CommentID  string  `json:"comment_id" gorm:"type:char(36);index;not null"`
	Text       string  `json:"text"       gorm:"type:longtext"`
	WasPublic  bool    `json:"was_public"`
	WasRemoved bool    `json:"was_removed"`
	EditedByID *string `json:"edited_by"  gorm:"type:char(36)"`
}

func (CommentRevisionModel) TableName() string { return "comment_revisions" }
