package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/threadline/core/internal/models"
	"github.com/threadline/core/internal/pkg/mail"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Kind names a notification-worthy event.
type Kind string

const (
	KindCommentPosted     Kind = "comment_posted"      // content received a new public comment
	KindCommentPending    Kind = "comment_pending"     // new comment awaits moderation
	KindCommentReply      Kind = "comment_reply"       // someone replied to a comment
	KindCommentApproved   Kind = "comment_approved"    // moderator approved the author's comment
	KindCommentRejected   Kind = "comment_rejected"    // moderator rejected the author's comment
	KindCommentAutoHidden Kind = "comment_auto_hidden" // flags or policy hid a comment
	KindCommentFlagged    Kind = "comment_flagged"     // a user flagged a comment
	KindUserBanned        Kind = "user_banned"
	KindUserUnbanned      Kind = "user_unbanned"
)

// Event is the typed payload handed to the notifier. Comment is nil for
// user-level events; UserID is the affected user for ban events.
type Event struct {
	Kind    Kind
	Comment *models.CommentModel
	UserID  string
	Reason  string
}

// Notifier delivers notifications. The engine decides whether and to whom;
// implementations decide how.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Service is the mail-backed notifier: it resolves recipients from the
// database and hands plain-text messages to the SMTP sender.
type Service struct {
	db     *gorm.DB
	sender *mail.Sender
	logger *zap.Logger
}

func NewService(db *gorm.DB, sender *mail.Sender, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, sender: sender, logger: logger}
}

func (s *Service) Notify(ctx context.Context, ev Event) error {
	recipients, err := s.recipients(ev)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	subject, body := s.compose(ev)
	return s.sender.Send(mail.Message{
		To:      recipients,
		Subject: subject,
		Body:    body,
	})
}

// recipients implements the whom-to-notify decisions.
func (s *Service) recipients(ev Event) ([]string, error) {
	switch ev.Kind {
	case KindCommentPending, KindCommentAutoHidden, KindCommentFlagged:
		return s.moderatorEmails()
	case KindCommentApproved, KindCommentRejected:
		return s.commentAuthorEmail(ev.Comment), nil
	case KindCommentReply:
		if ev.Comment == nil || ev.Comment.ParentID == nil {
			return nil, nil
		}
		var parent models.CommentModel
		if err := s.db.First(&parent, "id = ?", *ev.Comment.ParentID).Error; err != nil {
			return nil, err
		}
		// Never notify someone about their own reply.
		addr := s.commentAuthorEmail(&parent)
		if len(addr) > 0 && len(s.commentAuthorEmail(ev.Comment)) > 0 && addr[0] == s.commentAuthorEmail(ev.Comment)[0] {
			return nil, nil
		}
		return addr, nil
	case KindUserBanned, KindUserUnbanned:
		return s.userEmail(ev.UserID), nil
	default:
		return nil, nil
	}
}

func (s *Service) compose(ev Event) (subject, body string) {
	excerpt := ""
	if ev.Comment != nil {
		excerpt = ev.Comment.Text
		if len(excerpt) > 200 {
			excerpt = excerpt[:200] + "…"
		}
	}

	switch ev.Kind {
	case KindCommentPending:
		return "New comment awaiting moderation", excerpt
	case KindCommentReply:
		return "Your comment received a reply", excerpt
	case KindCommentApproved:
		return "Your comment was approved", excerpt
	case KindCommentRejected:
		return "Your comment was not approved", strings.TrimSpace(excerpt + "\n\n" + ev.Reason)
	case KindCommentAutoHidden:
		return "A comment was hidden automatically", strings.TrimSpace(excerpt + "\n\n" + ev.Reason)
	case KindCommentFlagged:
		return "A comment was flagged", strings.TrimSpace(excerpt + "\n\n" + ev.Reason)
	case KindUserBanned:
		return "Your commenting privilege was suspended", ev.Reason
	case KindUserUnbanned:
		return "Your commenting privilege was restored", ev.Reason
	default:
		return fmt.Sprintf("Notification: %s", ev.Kind), ev.Reason
	}
}

func (s *Service) moderatorEmails() ([]string, error) {
	var emails []string
	err := s.db.Model(&models.UserModel{}).
		Where("role = ? AND email <> ''", models.RoleModerator).
		Pluck("email", &emails).Error
	return emails, err
}

func (s *Service) commentAuthorEmail(c *models.CommentModel) []string {
	if c == nil {
		return nil
	}
	if c.UserID != nil {
		if addr := s.userEmail(*c.UserID); len(addr) > 0 {
			return addr
		}
	}
	if e := strings.TrimSpace(c.UserEmail); e != "" {
		return []string{e}
	}
	return nil
}

func (s *Service) userEmail(userID string) []string {
	if userID == "" {
		return nil
	}
	var user models.UserModel
	if err := s.db.Select("email").First(&user, "id = ?", userID).Error; err != nil {
		return nil
	}
	if e := strings.TrimSpace(user.Email); e != "" {
		return []string{e}
	}
	return nil
}
