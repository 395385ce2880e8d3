package models

import "time"

// BannedUserModel records a suspension of a user's commenting privilege.
// At most one row per user (unique index); re-banning requires deleting or
// updating the existing row. Rows are never auto-expired: activity is
// computed from BannedUntil at read time so expired bans stay for audit.
type BannedUserModel struct {
	Base
	UserID      string     `json:"user_id"      gorm:"type:char(36);uniqueIndex;not null"`
	BannedUntil *time.Time `json:"banned_until"`
	Reason      string     `json:"reason"       gorm:"type:text"`
	BannedByID  *string    `json:"banned_by"    gorm:"type:char(36)"`
}

func (BannedUserModel) TableName() string { return "banned_users" }

// ActiveAt reports whether the ban is in force at t. A nil expiry is a
// permanent ban; an expiry exactly equal to t is already inactive.
func (b *BannedUserModel) ActiveAt(t time.Time) bool {
	return b.BannedUntil == nil || b.BannedUntil.After(t)
}
