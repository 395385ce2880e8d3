package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User roles.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
)

// SystemUsername is the reserved account automatic policy actions run under.
const SystemUsername = "system"

// UserModel is a comment author / moderator account.
type UserModel struct {
	Base
	Username      string     `json:"username" gorm:"uniqueIndex;not null"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	URL           string     `json:"url"`
	Password      string     `json:"-"        gorm:"not null"`
	Role          string     `json:"role"     gorm:"default:user"`
	Trusted       bool       `json:"trusted"`
	LastLoginTime *time.Time `json:"last_login_time"`
	LastLoginIP   string     `json:"-"`
}

func (UserModel) TableName() string { return "users" }

// IsModerator reports whether the user can perform moderation actions.
func (u *UserModel) IsModerator() bool { return u.Role == RoleModerator }

// SetPassword hashes and stores a plaintext password.
func (u *UserModel) SetPassword(plain string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hash)
	return nil
}

// CheckPassword verifies a plaintext password against the stored hash.
func (u *UserModel) CheckPassword(plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(plain)) == nil
}
