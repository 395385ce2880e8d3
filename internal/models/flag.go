package models

import "time"

// FlagCategory is the closed set of reasons a comment can be reported for.
type FlagCategory string

const (
	FlagSpam           FlagCategory = "spam"
	FlagHarassment     FlagCategory = "harassment"
	FlagHateSpeech     FlagCategory = "hate-speech"
	FlagViolence       FlagCategory = "violence"
	FlagSexual         FlagCategory = "sexual"
	FlagMisinformation FlagCategory = "misinformation"
	FlagOffTopic       FlagCategory = "off-topic"
	FlagOffensive      FlagCategory = "offensive"
	FlagInappropriate  FlagCategory = "inappropriate"
	FlagOther          FlagCategory = "other"
)

// ValidFlagCategory reports whether c is one of the known categories.
func ValidFlagCategory(c FlagCategory) bool {
	switch c {
	case FlagSpam, FlagHarassment, FlagHateSpeech, FlagViolence, FlagSexual,
		FlagMisinformation, FlagOffTopic, FlagOffensive, FlagInappropriate, FlagOther:
		return true
	}
	return false
}

// Review actions a moderator can record on a flag.
const (
	ReviewDismissed = "dismissed"
	ReviewActioned  = "actioned"
)

// CommentFlagModel is one user's report against one flaggable target for one
// category. The target reference is generic (type tag + opaque id) so flags
// can point at entities other than comments.
//
// The four-column unique index closes the duplicate-flag race at the storage
// layer: two concurrent identical flags cannot both commit.
type CommentFlagModel struct {
	Base
	TargetType string       `json:"target_type" gorm:"uniqueIndex:idx_flags_unique;not null"`
	TargetID   string       `json:"target_id"   gorm:"uniqueIndex:idx_flags_unique;not null"`
	UserID     string       `json:"user_id"     gorm:"type:char(36);uniqueIndex:idx_flags_unique;not null"`
	Category   FlagCategory `json:"category"    gorm:"uniqueIndex:idx_flags_unique;not null"`
	Reason     string       `json:"reason"      gorm:"type:text"`

	Reviewed     bool       `json:"reviewed"`
	ReviewedByID *string    `json:"reviewed_by"   gorm:"type:char(36)"`
	ReviewedAt   *time.Time `json:"reviewed_at"`
	ReviewAction string     `json:"review_action"`
	ReviewNotes  string     `json:"review_notes"  gorm:"type:text"`
}

func (CommentFlagModel) TableName() string { return "comment_flags" }
