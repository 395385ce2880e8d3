package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threadline/core/internal/database"
	"github.com/threadline/core/internal/models"
	"github.com/threadline/core/internal/modules/audit"
	"github.com/threadline/core/internal/modules/notify"
	"github.com/threadline/core/internal/pkg/pagination"
	"github.com/threadline/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrAlreadyBanned = errors.New("user is already banned")
	ErrNotBanned     = errors.New("user is not banned")
	ErrPastExpiry    = errors.New("ban expiry must be in the future")
)

// Registry tracks which users may not comment. A user is banned while a
// registry row exists whose expiry is null or in the future; unbanning
// deletes the row. Expired rows are inert, there is no reaper.
type Registry struct {
	db       *gorm.DB
	audit    *audit.Service
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewRegistry(db *gorm.DB, auditSvc *audit.Service, notifier notify.Notifier, logger *zap.Logger) *Registry {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{db: db, audit: auditSvc, notifier: notifier, logger: logger}
}

// IsBanned reports whether the user is currently banned. Anonymous
// submitters (empty id) are never banned.
func (r *Registry) IsBanned(userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var count int64
	err := r.db.Model(&models.BannedUserModel{}).
		Where("user_id = ? AND (banned_until IS NULL OR banned_until > ?)", userID, time.Now()).
		Count(&count).Error
	return count > 0, err
}

// Check returns the active ban for a user, or nil when none exists.
func (r *Registry) Check(userID string) (*models.BannedUserModel, error) {
	if userID == "" {
		return nil, nil
	}
	var row models.BannedUserModel
	err := r.db.
		Where("user_id = ? AND (banned_until IS NULL OR banned_until > ?)", userID, time.Now()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Ban registers a ban for a user. A nil until means permanent; a non-nil
// until must lie in the future. One ban per user is enforced by the unique
// index, a second attempt returns ErrAlreadyBanned.
func (r *Registry) Ban(ctx context.Context, userID string, until *time.Time, reason, bannedBy string) (*models.BannedUserModel, error) {
	if until != nil && !until.After(time.Now()) {
		return nil, fmt.Errorf("%w: %s", ErrPastExpiry, until.Format(time.RFC3339))
	}

	row := models.BannedUserModel{
		UserID:      userID,
		BannedUntil: until,
		Reason:      reason,
	}
	if bannedBy != "" {
		row.BannedByID = &bannedBy
	}
	if err := r.db.Create(&row).Error; err != nil {
		if database.IsDuplicateKeyError(err) {
			return nil, ErrAlreadyBanned
		}
		return nil, err
	}

	r.audit.Record(audit.Entry{
		Moderator:    bannedBy,
		Action:       models.ActionBannedUser,
		Reason:       reason,
		AffectedUser: userID,
	})
	if err := r.notifier.Notify(ctx, notify.Event{
		Kind:   notify.KindUserBanned,
		UserID: userID,
		Reason: reason,
	}); err != nil {
		r.logger.Error("ban notification failed", zap.String("user_id", userID), zap.Error(err))
	}
	return &row, nil
}

// Unban lifts a user's ban by deleting the registry row. Returns ErrNotBanned
// when no row exists, including for bans that already expired: expired rows
// still need deleting before the user can be banned again, so they count.
func (r *Registry) Unban(ctx context.Context, userID, unbannedBy, reason string) error {
	res := r.db.Where("user_id = ?", userID).Delete(&models.BannedUserModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotBanned
	}

	r.audit.Record(audit.Entry{
		Moderator:    unbannedBy,
		Action:       models.ActionUnbannedUser,
		Reason:       reason,
		AffectedUser: userID,
	})
	if err := r.notifier.Notify(ctx, notify.Event{
		Kind:   notify.KindUserUnbanned,
		UserID: userID,
		Reason: reason,
	}); err != nil {
		r.logger.Error("unban notification failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// List returns ban rows, newest first. activeOnly filters out expired bans.
func (r *Registry) List(q pagination.Query, activeOnly bool) ([]models.BannedUserModel, response.Pagination, error) {
	tx := r.db.Model(&models.BannedUserModel{}).Order("created_at DESC")
	if activeOnly {
		tx = tx.Where("banned_until IS NULL OR banned_until > ?", time.Now())
	}
	var rows []models.BannedUserModel
	pag, err := pagination.Paginate(tx, q, &rows)
	return rows, pag, err
}
