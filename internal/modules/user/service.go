package user

import (
	"errors"
	"time"

	"github.com/threadline/core/internal/database"
	"github.com/threadline/core/internal/models"
	"github.com/threadline/core/internal/pkg/jwt"
	"gorm.io/gorm"
)

const tokenTTL = 7 * 24 * time.Hour

var (
	ErrNotFound      = errors.New("user not found")
	ErrWrongPassword = errors.New("wrong password")
	ErrUsernameTaken = errors.New("username already taken")
	ErrReserved      = errors.New("username is reserved")
)

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

// Register creates an account. The very first account becomes a moderator
// so a fresh deployment always has someone who can moderate.
func (s *Service) Register(dto *RegisterDTO) (*models.UserModel, error) {
	if dto.Username == models.SystemUsername {
		return nil, ErrReserved
	}

	var count int64
	if err := s.db.Model(&models.UserModel{}).
		Where("username <> ?", models.SystemUsername).
		Count(&count).Error; err != nil {
		return nil, err
	}
	role := models.RoleUser
	if count == 0 {
		role = models.RoleModerator
	}

	name := dto.Name
	if name == "" {
		name = dto.Username
	}
	u := models.UserModel{
		Username: dto.Username,
		Name:     name,
		Email:    dto.Email,
		URL:      dto.URL,
		Role:     role,
	}
	if err := u.SetPassword(dto.Password); err != nil {
		return nil, err
	}
	if err := s.db.Create(&u).Error; err != nil {
		if database.IsDuplicateKeyError(err) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return &u, nil
}

// Login verifies credentials and mints a token carrying the user's role.
func (s *Service) Login(username, password, ip string) (string, *models.UserModel, error) {
	var u models.UserModel
	if err := s.db.Where("username = ?", username).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrNotFound
		}
		return "", nil, err
	}
	if !u.CheckPassword(password) {
		return "", nil, ErrWrongPassword
	}

	now := time.Now()
	s.db.Model(&u).Updates(map[string]interface{}{
		"last_login_time": now,
		"last_login_ip":   ip,
	})
	u.LastLoginTime = &now
	u.LastLoginIP = ip

	token, err := jwt.Sign(u.ID, u.Role, tokenTTL)
	return token, &u, err
}

func (s *Service) GetByID(id string) (*models.UserModel, error) {
	var u models.UserModel
	if err := s.db.First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// SetRole changes a user's role between user and moderator.
func (s *Service) SetRole(userID, role string) error {
	if role != models.RoleUser && role != models.RoleModerator {
		return errors.New("unknown role")
	}
	res := s.db.Model(&models.UserModel{}).Where("id = ?", userID).Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTrusted toggles the trusted mark used by moderation heuristics.
func (s *Service) SetTrusted(userID string, trusted bool) error {
	res := s.db.Model(&models.UserModel{}).Where("id = ?", userID).Update("trusted", trusted)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
