package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threadline/core/internal/config"
	"github.com/threadline/core/internal/contentref"
	"github.com/threadline/core/internal/database"
	"github.com/threadline/core/internal/models"
	"github.com/threadline/core/internal/modules/audit"
	"github.com/threadline/core/internal/modules/ban"
	"github.com/threadline/core/internal/modules/counts"
	"github.com/threadline/core/internal/modules/notify"
	"github.com/threadline/core/internal/pkg/pagination"
	"github.com/threadline/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FlagTargetComment is the target type tag comment flags are stored under.
const FlagTargetComment = "comment"

var (
	ErrCommentNotFound = errors.New("comment not found")
	ErrFlagNotFound    = errors.New("flag not found")
	ErrInvalidCategory = errors.New("unknown flag category")
	ErrDuplicateFlag   = errors.New("comment already flagged by this user for this category")
	ErrInvalidReview   = errors.New("unknown review action")
	ErrBanned          = errors.New("user is banned")
)

// RateLimitedError reports a flag submission over a trailing-window limit.
type RateLimitedError struct {
	Window time.Duration
	Limit  int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("flag limit of %d per %s exceeded", e.Limit, e.Window)
}

// Service runs the moderation state machine: flags, thresholds, approval
// flow and auto-ban escalation.
type Service struct {
	db       *gorm.DB
	settings config.Settings
	bans     *ban.Registry
	counts   *counts.Service
	audit    *audit.Service
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewService(db *gorm.DB, settings config.Settings, bans *ban.Registry, countsSvc *counts.Service, auditSvc *audit.Service, notifier notify.Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       db,
		settings: settings,
		bans:     bans,
		counts:   countsSvc,
		audit:    auditSvc,
		notifier: notifier,
		logger:   logger,
	}
}

// Flag records one user's report against a comment and re-evaluates the
// comment against the configured thresholds.
func (s *Service) Flag(ctx context.Context, userID, commentID string, category models.FlagCategory, reason, ip string) error {
	if !models.ValidFlagCategory(category) {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	banned, err := s.bans.IsBanned(userID)
	if err != nil {
		return err
	}
	if banned {
		return ErrBanned
	}
	if err := s.checkFlagRate(userID); err != nil {
		return err
	}

	comment, err := s.comment(commentID)
	if err != nil {
		return err
	}

	flag := models.CommentFlagModel{
		TargetType: FlagTargetComment,
		TargetID:   comment.ID,
		UserID:     userID,
		Category:   category,
		Reason:     reason,
	}
	if err := s.db.Create(&flag).Error; err != nil {
		if database.IsDuplicateKeyError(err) {
			return ErrDuplicateFlag
		}
		return err
	}

	s.audit.Record(audit.Entry{
		Moderator: userID,
		Action:    models.ActionFlagged,
		Comment:   comment.ID,
		Reason:    string(category),
		IP:        ip,
	})
	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:    notify.KindCommentFlagged,
		Comment: comment,
		Reason:  string(category),
	}); err != nil {
		s.logger.Error("flag notification failed", zap.String("comment_id", comment.ID), zap.Error(err))
	}

	return s.EvaluateThresholds(ctx, comment.ID)
}

// checkFlagRate enforces the per-user trailing-window flag limits by
// counting the user's recent flag rows.
func (s *Service) checkFlagRate(userID string) error {
	type window struct {
		limit *int
		span  time.Duration
	}
	for _, w := range []window{
		{s.settings.MaxFlagsPerHour, time.Hour},
		{s.settings.MaxFlagsPerDay, 24 * time.Hour},
	} {
		if w.limit == nil {
			continue
		}
		var n int64
		err := s.db.Model(&models.CommentFlagModel{}).
			Where("user_id = ? AND created_at > ?", userID, time.Now().Add(-w.span)).
			Count(&n).Error
		if err != nil {
			return err
		}
		if n >= int64(*w.limit) {
			return &RateLimitedError{Window: w.span, Limit: *w.limit}
		}
	}
	return nil
}

// ApplyAutoFlags records policy-detected flags under the system identity and
// applies any configured immediate hides, then runs the threshold checks.
// Called after a comment persists; failures here must not undo the comment,
// so errors are logged and swallowed.
func (s *Service) ApplyAutoFlags(ctx context.Context, comment *models.CommentModel, categories []models.FlagCategory) {
	if len(categories) == 0 {
		return
	}
	systemID, err := s.systemUserID()
	if err != nil {
		s.logger.Error("system user lookup failed", zap.Error(err))
		return
	}

	for _, category := range categories {
		flag := models.CommentFlagModel{
			TargetType: FlagTargetComment,
			TargetID:   comment.ID,
			UserID:     systemID,
			Category:   category,
			Reason:     "automatic policy detection",
		}
		if err := s.db.Create(&flag).Error; err != nil && !database.IsDuplicateKeyError(err) {
			s.logger.Error("auto-flag write failed",
				zap.String("comment_id", comment.ID),
				zap.String("category", string(category)),
				zap.Error(err))
			continue
		}
		s.audit.Record(audit.Entry{
			Action:  models.ActionFlagged,
			Comment: comment.ID,
			Reason:  fmt.Sprintf("automatic flag: %s", category),
		})

		if s.shouldAutoHide(category) && comment.IsPublic {
			if err := s.hide(ctx, comment, fmt.Sprintf("auto-hidden: %s detected", category)); err != nil {
				s.logger.Error("auto-hide failed", zap.String("comment_id", comment.ID), zap.Error(err))
			}
		}
	}

	if err := s.EvaluateThresholds(ctx, comment.ID); err != nil {
		s.logger.Error("threshold evaluation failed", zap.String("comment_id", comment.ID), zap.Error(err))
	}
}

func (s *Service) shouldAutoHide(category models.FlagCategory) bool {
	switch category {
	case models.FlagSpam:
		return s.settings.AutoHideDetectedSpam
	case models.FlagOffensive:
		return s.settings.AutoHideProfanity
	}
	return false
}

// EvaluateThresholds re-checks one comment's flag count against the delete
// and hide thresholds. Deletion wins when both are crossed: the comment is
// gone before the hide check runs.
func (s *Service) EvaluateThresholds(ctx context.Context, commentID string) error {
	comment, err := s.comment(commentID)
	if err != nil {
		if errors.Is(err, ErrCommentNotFound) {
			return nil
		}
		return err
	}

	var flagCount int64
	err = s.db.Model(&models.CommentFlagModel{}).
		Where("target_type = ? AND target_id = ?", FlagTargetComment, comment.ID).
		Count(&flagCount).Error
	if err != nil {
		return err
	}

	if t := s.settings.AutoDeleteThreshold; t != nil && flagCount >= int64(*t) {
		return s.hardDelete(ctx, comment, fmt.Sprintf("auto-deleted: exceeded flag threshold (%d flags)", flagCount))
	}

	if t := s.settings.AutoHideThreshold; t > 0 && flagCount >= int64(t) && comment.IsPublic {
		return s.hide(ctx, comment, fmt.Sprintf("auto-hidden: exceeded flag threshold (%d flags)", flagCount))
	}
	return nil
}

// hide withdraws a comment from public view under the system identity.
func (s *Service) hide(ctx context.Context, comment *models.CommentModel, reason string) error {
	if err := s.db.Model(comment).Update("is_public", false).Error; err != nil {
		return err
	}
	comment.IsPublic = false

	s.audit.Record(audit.Entry{
		Action:       models.ActionRejected,
		Comment:      comment.ID,
		Reason:       reason,
		AffectedUser: authorID(comment),
	})
	s.counts.Invalidate(ctx, contentref.Ref{Type: comment.ContentType, ID: comment.ObjectID})

	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:    notify.KindCommentAutoHidden,
		Comment: comment,
		Reason:  reason,
	}); err != nil {
		s.logger.Error("auto-hide notification failed", zap.String("comment_id", comment.ID), zap.Error(err))
	}
	return nil
}

// hardDelete removes the comment row and its flags under the system
// identity. The audit entry is the only surviving record.
func (s *Service) hardDelete(ctx context.Context, comment *models.CommentModel, reason string) error {
	tx := s.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Where("target_type = ? AND target_id = ?", FlagTargetComment, comment.ID).
		Delete(&models.CommentFlagModel{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Delete(&models.CommentModel{}, "id = ?", comment.ID).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}

	s.audit.Record(audit.Entry{
		Action:       models.ActionDeleted,
		Comment:      comment.ID,
		Reason:       reason,
		AffectedUser: authorID(comment),
	})
	s.counts.Invalidate(ctx, contentref.Ref{Type: comment.ContentType, ID: comment.ObjectID})
	return nil
}

// Approve publishes a pending comment. Approving an already-public comment
// is a no-op that still succeeds.
func (s *Service) Approve(ctx context.Context, commentID, moderatorID, ip string) error {
	comment, err := s.comment(commentID)
	if err != nil {
		return err
	}
	if comment.IsPublic {
		return nil
	}

	if err := s.db.Model(comment).Update("is_public", true).Error; err != nil {
		return err
	}
	comment.IsPublic = true

	s.audit.Record(audit.Entry{
		Moderator:    moderatorID,
		Action:       models.ActionApproved,
		Comment:      comment.ID,
		AffectedUser: authorID(comment),
		IP:           ip,
	})
	s.counts.Invalidate(ctx, contentref.Ref{Type: comment.ContentType, ID: comment.ObjectID})

	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:    notify.KindCommentApproved,
		Comment: comment,
	}); err != nil {
		s.logger.Error("approval notification failed", zap.String("comment_id", comment.ID), zap.Error(err))
	}
	return nil
}

// Reject withdraws a comment from public view and counts toward the
// author's auto-ban rejection tally.
func (s *Service) Reject(ctx context.Context, commentID, moderatorID, reason, ip string) error {
	comment, err := s.comment(commentID)
	if err != nil {
		return err
	}
	if !comment.IsPublic {
		return nil
	}

	if err := s.db.Model(comment).Update("is_public", false).Error; err != nil {
		return err
	}
	comment.IsPublic = false

	s.audit.Record(audit.Entry{
		Moderator:    moderatorID,
		Action:       models.ActionRejected,
		Comment:      comment.ID,
		Reason:       reason,
		AffectedUser: authorID(comment),
		IP:           ip,
	})
	s.counts.Invalidate(ctx, contentref.Ref{Type: comment.ContentType, ID: comment.ObjectID})

	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:    notify.KindCommentRejected,
		Comment: comment,
		Reason:  reason,
	}); err != nil {
		s.logger.Error("rejection notification failed", zap.String("comment_id", comment.ID), zap.Error(err))
	}

	s.CheckAutoBan(ctx, authorID(comment))
	return nil
}

// Remove marks a comment removed while keeping the row for thread shape.
func (s *Service) Remove(ctx context.Context, commentID, moderatorID, reason, ip string) error {
	comment, err := s.comment(commentID)
	if err != nil {
		return err
	}
	if comment.IsRemoved {
		return nil
	}

	if err := s.db.Model(comment).Update("is_removed", true).Error; err != nil {
		return err
	}
	comment.IsRemoved = true

	s.audit.Record(audit.Entry{
		Moderator:    moderatorID,
		Action:       models.ActionDeleted,
		Comment:      comment.ID,
		Reason:       reason,
		AffectedUser: authorID(comment),
		IP:           ip,
	})
	s.counts.Invalidate(ctx, contentref.Ref{Type: comment.ContentType, ID: comment.ObjectID})
	return nil
}

// Queue lists comments awaiting moderation, oldest first.
func (s *Service) Queue(q pagination.Query) ([]models.CommentModel, response.Pagination, error) {
	tx := s.db.Model(&models.CommentModel{}).
		Where("is_public = ? AND is_removed = ?", false, false).
		Order("created_at ASC")
	var rows []models.CommentModel
	pag, err := pagination.Paginate(tx, q, &rows)
	return rows, pag, err
}

// Flags lists flags, optionally filtered to one comment or to unreviewed
// flags only. Newest first.
func (s *Service) Flags(q pagination.Query, commentID string, unreviewedOnly bool) ([]models.CommentFlagModel, response.Pagination, error) {
	tx := s.db.Model(&models.CommentFlagModel{}).Order("created_at DESC")
	if commentID != "" {
		tx = tx.Where("target_type = ? AND target_id = ?", FlagTargetComment, commentID)
	}
	if unreviewedOnly {
		tx = tx.Where("reviewed = ?", false)
	}
	var rows []models.CommentFlagModel
	pag, err := pagination.Paginate(tx, q, &rows)
	return rows, pag, err
}

// MarkReviewed records a moderator's verdict on a flag.
func (s *Service) MarkReviewed(flagID, moderatorID, action, notes string) error {
	if action != models.ReviewDismissed && action != models.ReviewActioned {
		return fmt.Errorf("%w: %q", ErrInvalidReview, action)
	}
	now := time.Now()
	res := s.db.Model(&models.CommentFlagModel{}).
		Where("id = ?", flagID).
		Updates(map[string]interface{}{
			"reviewed":       true,
			"reviewed_by_id": moderatorID,
			"reviewed_at":    now,
			"review_action":  action,
			"review_notes":   notes,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFlagNotFound
	}
	return nil
}

// RemoveFlag deletes a flag, dropping it from the comment's threshold tally.
func (s *Service) RemoveFlag(flagID, moderatorID, reason string) error {
	var flag models.CommentFlagModel
	if err := s.db.First(&flag, "id = ?", flagID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFlagNotFound
		}
		return err
	}
	if err := s.db.Delete(&flag).Error; err != nil {
		return err
	}
	s.audit.Record(audit.Entry{
		Moderator: moderatorID,
		Action:    models.ActionUnflagged,
		Comment:   flag.TargetID,
		Reason:    reason,
	})
	return nil
}

// CheckAutoBan escalates repeat offenders: enough rejections or enough spam
// flags against a user's comments trigger an automatic ban. Moderators and
// anonymous authors are exempt. Failures only log; escalation must never
// fail the action that triggered it.
func (s *Service) CheckAutoBan(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	if s.settings.AutoBanAfterRejections == nil && s.settings.AutoBanAfterSpamFlags == nil {
		return
	}

	var user models.UserModel
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("auto-ban user lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		return
	}
	if user.IsModerator() {
		return
	}

	reason := ""
	if t := s.settings.AutoBanAfterRejections; t != nil {
		var n int64
		err := s.db.Model(&models.ModerationActionModel{}).
			Where("action = ? AND affected_user_id = ?", models.ActionRejected, userID).
			Count(&n).Error
		if err != nil {
			s.logger.Error("auto-ban rejection count failed", zap.String("user_id", userID), zap.Error(err))
			return
		}
		if n >= int64(*t) {
			reason = fmt.Sprintf("automatic ban: %d rejected comments", n)
		}
	}
	if reason == "" {
		if t := s.settings.AutoBanAfterSpamFlags; t != nil {
			var n int64
			err := s.db.Model(&models.CommentFlagModel{}).
				Where("category = ? AND target_type = ? AND target_id IN (?)",
					models.FlagSpam, FlagTargetComment,
					s.db.Model(&models.CommentModel{}).Select("id").Where("user_id = ?", userID),
				).
				Count(&n).Error
			if err != nil {
				s.logger.Error("auto-ban spam count failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
			if n >= int64(*t) {
				reason = fmt.Sprintf("automatic ban: %d spam flags", n)
			}
		}
	}
	if reason == "" {
		return
	}

	var until *time.Time
	if d := s.settings.DefaultBanDurationDays; d != nil {
		t := time.Now().AddDate(0, 0, *d)
		until = &t
	}
	if _, err := s.bans.Ban(ctx, userID, until, reason, ""); err != nil && !errors.Is(err, ban.ErrAlreadyBanned) {
		s.logger.Error("auto-ban failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) comment(id string) (*models.CommentModel, error) {
	var c models.CommentModel
	if err := s.db.First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommentNotFound
		}
		return nil, err
	}
	return &c, nil
}

// systemUserID resolves the reserved system account, creating it on first
// use so automatic flags always have a valid author.
func (s *Service) systemUserID() (string, error) {
	var user models.UserModel
	err := s.db.
		Where(models.UserModel{Username: models.SystemUsername}).
		Attrs(models.UserModel{Name: "System", Password: "!", Role: models.RoleUser}).
		FirstOrCreate(&user).Error
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func authorID(c *models.CommentModel) string {
	if c.UserID == nil {
		return ""
	}
	return *c.UserID
}
