package comment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/threadline/core/internal/config"
	"github.com/threadline/core/internal/contentref"
	"github.com/threadline/core/internal/models"
	"github.com/threadline/core/internal/modules/audit"
	"github.com/threadline/core/internal/modules/ban"
	"github.com/threadline/core/internal/modules/counts"
	"github.com/threadline/core/internal/modules/moderation"
	"github.com/threadline/core/internal/modules/notify"
	"github.com/threadline/core/internal/modules/policy"
	"github.com/threadline/core/internal/pkg/pagination"
	"github.com/threadline/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// pathPlaceholder marks the first phase of the two-phase comment write. It
// never survives a committed transaction.
const pathPlaceholder = "PENDING"

// Service is the comment submission pipeline and thread reader.
type Service struct {
	db       *gorm.DB
	settings config.Settings
	registry *contentref.Registry
	policy   *policy.Engine
	bans     *ban.Registry
	mod      *moderation.Service
	counts   *counts.Service
	audit    *audit.Service
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewService(
	db *gorm.DB,
	settings config.Settings,
	registry *contentref.Registry,
	policyEngine *policy.Engine,
	bans *ban.Registry,
	mod *moderation.Service,
	countsSvc *counts.Service,
	auditSvc *audit.Service,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       db,
		settings: settings,
		registry: registry,
		policy:   policyEngine,
		bans:     bans,
		mod:      mod,
		counts:   countsSvc,
		audit:    auditSvc,
		notifier: notifier,
		logger:   logger,
	}
}

// Create runs the full submission pipeline: target resolution, authorship
// checks, content policy, then the transactional two-phase thread write.
// The returned comment's IsPublic tells the caller whether it went live or
// into the moderation queue.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.CommentModel, error) {
	ref := contentref.Normalize(in.ContentType, in.ObjectID)
	if err := s.registry.Resolve(s.db, ref); err != nil {
		return nil, err
	}

	comment := models.CommentModel{
		ContentType: ref.Type,
		ObjectID:    ref.ID,
		UserName:    strings.TrimSpace(in.UserName),
		UserEmail:   strings.TrimSpace(in.UserEmail),
		UserURL:     strings.TrimSpace(in.UserURL),
		ParentID:    in.ParentID,
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
	}

	if in.UserID != "" {
		var user models.UserModel
		if err := s.db.First(&user, "id = ?", in.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &ConsistencyError{Detail: fmt.Sprintf("author %s does not exist", in.UserID)}
			}
			return nil, err
		}
		banned, err := s.bans.IsBanned(in.UserID)
		if err != nil {
			return nil, err
		}
		if banned {
			return nil, ErrBanned
		}
		comment.UserID = &user.ID
		if comment.UserName == "" {
			comment.UserName = user.Name
		}
		if comment.UserName == "" {
			comment.UserName = user.Username
		}
		if comment.UserEmail == "" {
			comment.UserEmail = user.Email
		}
		if comment.UserURL == "" {
			comment.UserURL = user.URL
		}
	} else {
		if !s.settings.AllowAnonymous {
			return nil, &ValidationError{Field: "user", Message: "anonymous comments are not allowed"}
		}
		if comment.UserName == "" {
			return nil, &ValidationError{Field: "user_name", Message: "display name is required for anonymous comments"}
		}
		if comment.UserEmail == "" {
			return nil, &ValidationError{Field: "user_email", Message: "email is required for anonymous comments"}
		}
	}

	ev := s.policy.Evaluate(in.Text)
	if !ev.Allowed {
		if ev.Validation {
			return nil, &ValidationError{Field: "text", Message: ev.Reason}
		}
		return nil, &DisallowedError{Reason: ev.Reason}
	}
	comment.Text = ev.Text
	comment.IsPublic = !s.settings.ModerationRequired

	if err := s.createThreaded(&comment); err != nil {
		return nil, err
	}

	// The comment is committed; everything below is best-effort follow-up.
	s.mod.ApplyAutoFlags(ctx, &comment, ev.PendingFlags)
	s.counts.Invalidate(ctx, ref)
	s.notifyCreated(ctx, &comment)

	return &comment, nil
}

// createThreaded is the two-phase thread write. The row is inserted with a
// placeholder path so the generated id exists, then path and thread_id are
// finalized before the same transaction commits. A reader can never observe
// the placeholder.
func (s *Service) createThreaded(comment *models.CommentModel) error {
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

	var parent *models.CommentModel
	if comment.ParentID != nil {
		// Re-read inside the transaction so a parent deleted since the
		// caller looked cannot be replied to.
		var p models.CommentModel
		if err := tx.First(&p, "id = ?", *comment.ParentID).Error; err != nil {
			tx.Rollback()
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrParentNotFound
			}
			return err
		}
		if p.Path == "" || p.Path == pathPlaceholder || p.ThreadID == "" {
			tx.Rollback()
			s.logger.Error("parent comment missing threading data", zap.String("parent_id", p.ID))
			return &ConsistencyError{Detail: fmt.Sprintf("parent comment %s has no threading data", p.ID)}
		}
		if p.ContentType != comment.ContentType || p.ObjectID != comment.ObjectID {
			tx.Rollback()
			return &ConsistencyError{Detail: "parent comment belongs to a different content object"}
		}
		if limit := s.settings.MaxCommentDepth; limit != nil && p.Depth()+1 > *limit {
			tx.Rollback()
			return &MaxDepthError{Limit: *limit}
		}
		parent = &p
	}

	comment.Path = pathPlaceholder
	comment.ThreadID = pathPlaceholder
	if err := tx.Create(comment).Error; err != nil {
		tx.Rollback()
		return err
	}

	if parent != nil {
		comment.Path = parent.Path + "/" + comment.ID
		comment.ThreadID = parent.ThreadID
	} else {
		comment.Path = comment.ID
		comment.ThreadID = comment.ID
	}
	err := tx.Model(comment).
		Updates(map[string]interface{}{"path": comment.Path, "thread_id": comment.ThreadID}).Error
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func (s *Service) notifyCreated(ctx context.Context, comment *models.CommentModel) {
	kind := notify.KindCommentPosted
	switch {
	case !comment.IsPublic:
		kind = notify.KindCommentPending
	case comment.ParentID != nil:
		kind = notify.KindCommentReply
	}
	if err := s.notifier.Notify(ctx, notify.Event{Kind: kind, Comment: comment}); err != nil {
		s.logger.Error("comment notification failed", zap.String("comment_id", comment.ID), zap.Error(err))
	}
}

// Edit replaces a comment's text. Authors may edit their own comments
// within the configured window; moderators may edit anything, any time.
// The new text passes through the same content policy as a submission.
func (s *Service) Edit(ctx context.Context, commentID, editorID string, editorIsModerator bool, newText, ip string) (*models.CommentModel, error) {
	if !s.settings.AllowCommentEditing {
		return nil, ErrEditingDisabled
	}

	comment, err := s.Get(commentID)
	if err != nil {
		return nil, err
	}
	if comment.IsRemoved {
		return nil, ErrRemoved
	}
	if !editorIsModerator {
		if comment.IsAnonymous() || editorID == "" || *comment.UserID != editorID {
			return nil, ErrNotOwner
		}
		if s.settings.EditTimeWindow > 0 && time.Since(comment.CreatedAt) > s.settings.EditTimeWindow {
			return nil, ErrEditWindow
		}
	}

	ev := s.policy.Evaluate(newText)
	if !ev.Allowed {
		if ev.Validation {
			return nil, &ValidationError{Field: "text", Message: ev.Reason}
		}
		return nil, &DisallowedError{Reason: ev.Reason}
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if s.settings.TrackEditHistory {
		revision := models.CommentRevisionModel{
			CommentID:  comment.ID,
			Text:       comment.Text,
			WasPublic:  comment.IsPublic,
			WasRemoved: comment.IsRemoved,
		}
		if editorID != "" {
			revision.EditedByID = &editorID
		}
		if err := tx.Create(&revision).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Model(comment).Update("text", ev.Text).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	comment.Text = ev.Text

	s.audit.Record(audit.Entry{
		Moderator:    editorID,
		Action:       models.ActionEdited,
		Comment:      comment.ID,
		AffectedUser: authorID(comment),
		IP:           ip,
	})
	s.mod.ApplyAutoFlags(ctx, comment, ev.PendingFlags)
	s.counts.Invalidate(ctx, contentref.Ref{Type: comment.ContentType, ID: comment.ObjectID})
	return comment, nil
}

// Delete removes a comment row for good, cascading to its flags. Revisions
// are kept. Authors may delete their own comments; moderators anything.
func (s *Service) Delete(ctx context.Context, commentID, actorID string, actorIsModerator bool, reason, ip string) error {
	comment, err := s.Get(commentID)
	if err != nil {
		return err
	}
	if !actorIsModerator {
		if comment.IsAnonymous() || actorID == "" || *comment.UserID != actorID {
			return ErrNotOwner
		}
	}

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

	if err := tx.Where("target_type = ? AND target_id = ?", moderation.FlagTargetComment, comment.ID).
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
		Moderator:    actorID,
		Action:       models.ActionDeleted,
		Comment:      comment.ID,
		Reason:       reason,
		AffectedUser: authorID(comment),
		IP:           ip,
	})
	s.counts.Invalidate(ctx, contentref.Ref{Type: comment.ContentType, ID: comment.ObjectID})
	return nil
}

// Get fetches one comment by id.
func (s *Service) Get(commentID string) (*models.CommentModel, error) {
	var c models.CommentModel
	if err := s.db.First(&c, "id = ?", commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListForObject returns an object's comments in thread order, which path
// ordering yields directly: every comment sorts immediately under its
// ancestors. includeHidden adds pending and removed comments for moderator
// views.
func (s *Service) ListForObject(ref contentref.Ref, includeHidden bool, q pagination.Query) ([]models.CommentModel, response.Pagination, error) {
	tx := s.db.Model(&models.CommentModel{}).
		Where("content_type = ? AND object_id = ?", ref.Type, ref.ID).
		Order("path ASC")
	if !includeHidden {
		tx = tx.Where("is_public = ? AND is_removed = ?", true, false)
	}
	var rows []models.CommentModel
	pag, err := pagination.Paginate(tx, q, &rows)
	return rows, pag, err
}

// Thread returns every visible comment in one thread, in thread order.
func (s *Service) Thread(threadID string, includeHidden bool) ([]models.CommentModel, error) {
	tx := s.db.Where("thread_id = ?", threadID).Order("path ASC")
	if !includeHidden {
		tx = tx.Where("is_public = ? AND is_removed = ?", true, false)
	}
	var rows []models.CommentModel
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows, nil
}

// Subtree returns a comment and all its descendants via a path prefix
// match, no recursion needed.
func (s *Service) Subtree(commentID string, includeHidden bool) ([]models.CommentModel, error) {
	root, err := s.Get(commentID)
	if err != nil {
		return nil, err
	}
	tx := s.db.
		Where("thread_id = ? AND (path = ? OR path LIKE ?)", root.ThreadID, root.Path, root.Path+"/%").
		Order("path ASC")
	if !includeHidden {
		tx = tx.Where("is_public = ? AND is_removed = ?", true, false)
	}
	var rows []models.CommentModel
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// PurgeStale hard-deletes non-public comments older than the configured
// retention window, flags included. Returns the number of comments removed.
func (s *Service) PurgeStale(ctx context.Context) (int64, error) {
	days := s.settings.CleanupAfterDays
	if days == nil {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -*days)

	var stale []models.CommentModel
	err := s.db.
		Where("is_public = ? AND created_at < ?", false, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, len(stale))
	for i, c := range stale {
		ids[i] = c.ID
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()
	if err := tx.Where("target_type = ? AND target_id IN ?", moderation.FlagTargetComment, ids).
		Delete(&models.CommentFlagModel{}).Error; err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Delete(&models.CommentModel{}, "id IN ?", ids).Error; err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit().Error; err != nil {
		return 0, err
	}

	seen := make(map[contentref.Ref]struct{})
	for _, c := range stale {
		ref := contentref.Ref{Type: c.ContentType, ID: c.ObjectID}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		s.counts.Invalidate(ctx, ref)
	}
	s.logger.Info("purged stale comments", zap.Int("count", len(ids)))
	return int64(len(ids)), nil
}

// Revisions returns a comment's edit history, oldest first.
func (s *Service) Revisions(commentID string) ([]models.CommentRevisionModel, error) {
	var rows []models.CommentRevisionModel
	err := s.db.Where("comment_id = ?", commentID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func authorID(c *models.CommentModel) string {
	if c.UserID == nil {
		return ""
	}
	return *c.UserID
}
