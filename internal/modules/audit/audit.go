package audit

import (
	"github.com/threadline/core/internal/models"
	"github.com/threadline/core/internal/pkg/pagination"
	"github.com/threadline/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service appends moderation audit entries. Record never propagates a
// failure: a broken audit write must not roll back or fail the moderation
// action it documents, so errors go to the log only.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger}
}

// Entry describes one moderation action to record. Moderator is empty for
// system actions; Comment is empty for user-level actions.
type Entry struct {
	Moderator    string
	Action       models.ModerationActionType
	Comment      string
	Reason       string
	AffectedUser string
	IP           string
}

// Record appends an audit row.
func (s *Service) Record(e Entry) {
	row := models.ModerationActionModel{
		Action:    e.Action,
		Reason:    e.Reason,
		IPAddress: e.IP,
	}
	if e.Moderator != "" {
		row.ModeratorID = &e.Moderator
	}
	if e.Comment != "" {
		row.CommentID = &e.Comment
	}
	if e.AffectedUser != "" {
		row.AffectedUserID = &e.AffectedUser
	}

	if err := s.db.Create(&row).Error; err != nil {
		s.logger.Error("audit log write failed",
			zap.String("action", string(e.Action)),
			zap.String("comment_id", e.Comment),
			zap.Error(err),
		)
	}
}

// List returns audit entries, newest first, optionally filtered by comment
// or affected user.
func (s *Service) List(q pagination.Query, commentID, affectedUserID string) ([]models.ModerationActionModel, response.Pagination, error) {
	tx := s.db.Model(&models.ModerationActionModel{}).Order("created_at DESC")
	if commentID != "" {
		tx = tx.Where("comment_id = ?", commentID)
	}
	if affectedUserID != "" {
		tx = tx.Where("affected_user_id = ?", affectedUserID)
	}

	var rows []models.ModerationActionModel
	pag, err := pagination.Paginate(tx, q, &rows)
	return rows, pag, err
}

// DetachModerator nulls the moderator reference on all entries for a deleted
// account. Audit rows themselves are never deleted.
func (s *Service) DetachModerator(userID string) error {
	return s.db.Model(&models.ModerationActionModel{}).
		Where("moderator_id = ?", userID).
		Update("moderator_id", nil).Error
}
