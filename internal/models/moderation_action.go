package models

// ModerationActionType enumerates what a moderation audit entry records.
type ModerationActionType string

const (
	ActionApproved     ModerationActionType = "approved"
	ActionRejected     ModerationActionType = "rejected"
	ActionDeleted      ModerationActionType = "deleted"
	ActionEdited       ModerationActionType = "edited"
	ActionFlagged      ModerationActionType = "flagged"
	ActionUnflagged    ModerationActionType = "unflagged"
	ActionBannedUser   ModerationActionType = "banned_user"
	ActionUnbannedUser ModerationActionType = "unbanned_user"
)

// ModerationActionModel is one append-only audit row: who did what to what
// and why. ModeratorID is nil for system actions; CommentID is nil for
// user-level actions such as bans. References are nulled when the referenced
// row disappears, never cascaded, so the trail survives deletions.
type ModerationActionModel struct {
	Base
	ModeratorID    *string              `json:"moderator_id"     gorm:"type:char(36);index"`
	Action         ModerationActionType `json:"action"           gorm:"index;not null"`
	CommentID      *string              `json:"comment_id"       gorm:"type:char(36);index"`
	Reason         string               `json:"reason"           gorm:"type:text"`
	AffectedUserID *string              `json:"affected_user_id" gorm:"type:char(36);index"`
	IPAddress      string               `json:"-"`
}

func (ModerationActionModel) TableName() string { return "moderation_actions" }
