package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/threadline/core/internal/config"
	"github.com/threadline/core/internal/models"
	"github.com/threadline/core/internal/modules/audit"
	"github.com/threadline/core/internal/modules/ban"
	"github.com/threadline/core/internal/modules/counts"
	"github.com/threadline/core/internal/pkg/pagination"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memStore) SetMany(_ context.Context, values map[string]interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.data[k] = fmt.Sprint(v)
	}
	return nil
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func testService(t *testing.T, settings config.Settings) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&models.UserModel{},
		&models.CommentModel{},
		&models.CommentFlagModel{},
		&models.BannedUserModel{},
		&models.ModerationActionModel{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	auditSvc := audit.NewService(db, nil)
	bans := ban.NewRegistry(db, auditSvc, nil, nil)
	countsSvc := counts.NewService(db, &memStore{data: map[string]string{}}, time.Hour, nil)
	return NewService(db, settings, bans, countsSvc, auditSvc, nil, nil), db
}

func seedUser(t *testing.T, db *gorm.DB, username, role string) string {
	t.Helper()
	u := models.UserModel{Username: username, Password: "!", Role: role}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u.ID
}

func seedComment(t *testing.T, db *gorm.DB, userID string, public bool) *models.CommentModel {
	t.Helper()
	c := models.CommentModel{
		ContentType: "post",
		ObjectID:    "p1",
		UserName:    "author",
		Text:        "hello",
		IsPublic:    public,
	}
	if userID != "" {
		c.UserID = &userID
	}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("seed comment: %v", err)
	}
	c.Path = c.ID
	c.ThreadID = c.ID
	if err := db.Model(&c).Updates(map[string]interface{}{"path": c.ID, "thread_id": c.ID}).Error; err != nil {
		t.Fatalf("seed comment path: %v", err)
	}
	return &c
}

func TestFlagThresholdHidesComment(t *testing.T) {
	settings := config.DefaultSettings()
	settings.AutoHideThreshold = 3
	svc, db := testService(t, settings)
	ctx := context.Background()

	author := seedUser(t, db, "author", models.RoleUser)
	comment := seedComment(t, db, author, true)

	for i := 0; i < 3; i++ {
		flagger := seedUser(t, db, fmt.Sprintf("flagger%d", i), models.RoleUser)
		if err := svc.Flag(ctx, flagger, comment.ID, models.FlagSpam, "", ""); err != nil {
			t.Fatalf("flag %d: %v", i, err)
		}

		var got models.CommentModel
		if err := db.First(&got, "id = ?", comment.ID).Error; err != nil {
			t.Fatal(err)
		}
		wantPublic := i < 2
		if got.IsPublic != wantPublic {
			t.Fatalf("after %d flags is_public = %v, want %v", i+1, got.IsPublic, wantPublic)
		}
	}

	// The hide was recorded under the system identity.
	var entry models.ModerationActionModel
	err := db.Where("action = ? AND comment_id = ?", models.ActionRejected, comment.ID).First(&entry).Error
	if err != nil {
		t.Fatalf("audit entry: %v", err)
	}
	if entry.ModeratorID != nil {
		t.Fatal("automatic hide must not be attributed to a moderator")
	}
}

func TestDeleteThresholdWinsOverHide(t *testing.T) {
	settings := config.DefaultSettings()
	settings.AutoHideThreshold = 3
	del := 3
	settings.AutoDeleteThreshold = &del
	svc, db := testService(t, settings)
	ctx := context.Background()

	comment := seedComment(t, db, seedUser(t, db, "author", models.RoleUser), true)

	for i := 0; i < 3; i++ {
		flagger := seedUser(t, db, fmt.Sprintf("flagger%d", i), models.RoleUser)
		if err := svc.Flag(ctx, flagger, comment.ID, models.FlagSpam, "", ""); err != nil {
			t.Fatalf("flag %d: %v", i, err)
		}
	}

	var n int64
	db.Model(&models.CommentModel{}).Where("id = ?", comment.ID).Count(&n)
	if n != 0 {
		t.Fatal("comment must be deleted, not hidden, when both thresholds trip")
	}
	db.Model(&models.CommentFlagModel{}).Where("target_id = ?", comment.ID).Count(&n)
	if n != 0 {
		t.Fatal("flags must be deleted with the comment")
	}

	var entry models.ModerationActionModel
	err := db.Where("action = ? AND comment_id = ?", models.ActionDeleted, comment.ID).First(&entry).Error
	if err != nil {
		t.Fatalf("deletion audit entry: %v", err)
	}
}

func TestDuplicateFlagRejected(t *testing.T) {
	svc, db := testService(t, config.DefaultSettings())
	ctx := context.Background()

	flagger := seedUser(t, db, "flagger", models.RoleUser)
	comment := seedComment(t, db, seedUser(t, db, "author", models.RoleUser), true)

	if err := svc.Flag(ctx, flagger, comment.ID, models.FlagSpam, "", ""); err != nil {
		t.Fatal(err)
	}
	if err := svc.Flag(ctx, flagger, comment.ID, models.FlagSpam, "", ""); !errors.Is(err, ErrDuplicateFlag) {
		t.Fatalf("err = %v, want ErrDuplicateFlag", err)
	}
	// A different category from the same user is a new flag, not a duplicate.
	if err := svc.Flag(ctx, flagger, comment.ID, models.FlagHarassment, "", ""); err != nil {
		t.Fatalf("different category: %v", err)
	}
}

func TestFlagUnknownCategory(t *testing.T) {
	svc, db := testService(t, config.DefaultSettings())
	comment := seedComment(t, db, "", true)
	flagger := seedUser(t, db, "flagger", models.RoleUser)
	err := svc.Flag(context.Background(), flagger, comment.ID, "nonsense", "", "")
	if !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("err = %v, want ErrInvalidCategory", err)
	}
}

func TestBannedUserCannotFlag(t *testing.T) {
	svc, db := testService(t, config.DefaultSettings())
	ctx := context.Background()

	flagger := seedUser(t, db, "flagger", models.RoleUser)
	comment := seedComment(t, db, "", true)
	if _, err := svc.bans.Ban(ctx, flagger, nil, "abuse", ""); err != nil {
		t.Fatal(err)
	}
	if err := svc.Flag(ctx, flagger, comment.ID, models.FlagSpam, "", ""); !errors.Is(err, ErrBanned) {
		t.Fatalf("err = %v, want ErrBanned", err)
	}
}

func TestFlagRateLimit(t *testing.T) {
	settings := config.DefaultSettings()
	limit := 2
	settings.MaxFlagsPerHour = &limit
	svc, db := testService(t, settings)
	ctx := context.Background()

	flagger := seedUser(t, db, "flagger", models.RoleUser)
	for i := 0; i < 3; i++ {
		comment := seedComment(t, db, "", true)
		err := svc.Flag(ctx, flagger, comment.ID, models.FlagSpam, "", "")
		if i < 2 && err != nil {
			t.Fatalf("flag %d: %v", i, err)
		}
		if i == 2 {
			var rl *RateLimitedError
			if !errors.As(err, &rl) {
				t.Fatalf("err = %v, want RateLimitedError", err)
			}
			if rl.Limit != 2 || rl.Window != time.Hour {
				t.Fatalf("rate limit detail = %+v", rl)
			}
		}
	}
}

func TestApplyAutoFlagsHidesDetectedSpam(t *testing.T) {
	settings := config.DefaultSettings()
	settings.AutoHideDetectedSpam = true
	svc, db := testService(t, settings)

	comment := seedComment(t, db, seedUser(t, db, "author", models.RoleUser), true)
	svc.ApplyAutoFlags(context.Background(), comment, []models.FlagCategory{models.FlagSpam})

	var got models.CommentModel
	if err := db.First(&got, "id = ?", comment.ID).Error; err != nil {
		t.Fatal(err)
	}
	if got.IsPublic {
		t.Fatal("detected spam must hide the comment immediately")
	}

	// The flag is attributed to the reserved system account.
	var flag models.CommentFlagModel
	if err := db.First(&flag, "target_id = ?", comment.ID).Error; err != nil {
		t.Fatal(err)
	}
	var sys models.UserModel
	if err := db.First(&sys, "id = ?", flag.UserID).Error; err != nil {
		t.Fatal(err)
	}
	if sys.Username != models.SystemUsername {
		t.Fatalf("auto-flag author = %q, want system account", sys.Username)
	}
}

func TestApplyAutoFlagsIdempotent(t *testing.T) {
	svc, db := testService(t, config.DefaultSettings())
	comment := seedComment(t, db, "", false)

	svc.ApplyAutoFlags(context.Background(), comment, []models.FlagCategory{models.FlagSpam})
	svc.ApplyAutoFlags(context.Background(), comment, []models.FlagCategory{models.FlagSpam})

	var n int64
	db.Model(&models.CommentFlagModel{}).Where("target_id = ?", comment.ID).Count(&n)
	if n != 1 {
		t.Fatalf("auto-flag rows = %d, want 1", n)
	}
}

func TestApproveAndReject(t *testing.T) {
	svc, db := testService(t, config.DefaultSettings())
	ctx := context.Background()

	mod := seedUser(t, db, "mod", models.RoleModerator)
	author := seedUser(t, db, "author", models.RoleUser)
	comment := seedComment(t, db, author, false)

	if err := svc.Approve(ctx, comment.ID, mod, ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	var got models.CommentModel
	db.First(&got, "id = ?", comment.ID)
	if !got.IsPublic {
		t.Fatal("comment not public after approval")
	}

	// Approving again is a no-op and must not add a second audit entry.
	if err := svc.Approve(ctx, comment.ID, mod, ""); err != nil {
		t.Fatal(err)
	}
	var approvals int64
	db.Model(&models.ModerationActionModel{}).Where("action = ?", models.ActionApproved).Count(&approvals)
	if approvals != 1 {
		t.Fatalf("approval audit entries = %d, want 1", approvals)
	}

	if err := svc.Reject(ctx, comment.ID, mod, "off topic", ""); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	db.First(&got, "id = ?", comment.ID)
	if got.IsPublic {
		t.Fatal("comment still public after rejection")
	}
}

func TestRejectionAutoBan(t *testing.T) {
	settings := config.DefaultSettings()
	threshold := 2
	settings.AutoBanAfterRejections = &threshold
	days := 7
	settings.DefaultBanDurationDays = &days
	svc, db := testService(t, settings)
	ctx := context.Background()

	mod := seedUser(t, db, "mod", models.RoleModerator)
	author := seedUser(t, db, "author", models.RoleUser)

	for i := 0; i < 2; i++ {
		comment := seedComment(t, db, author, true)
		if err := svc.Reject(ctx, comment.ID, mod, "spam", ""); err != nil {
			t.Fatalf("reject %d: %v", i, err)
		}
	}

	banned, err := svc.bans.IsBanned(author)
	if err != nil {
		t.Fatal(err)
	}
	if !banned {
		t.Fatal("author not banned after crossing the rejection threshold")
	}

	var row models.BannedUserModel
	if err := db.First(&row, "user_id = ?", author).Error; err != nil {
		t.Fatal(err)
	}
	if row.BannedUntil == nil {
		t.Fatal("configured ban duration must set an expiry")
	}
}

func TestAutoBanSkipsModerators(t *testing.T) {
	settings := config.DefaultSettings()
	threshold := 1
	settings.AutoBanAfterRejections = &threshold
	svc, db := testService(t, settings)
	ctx := context.Background()

	mod := seedUser(t, db, "mod", models.RoleModerator)
	other := seedUser(t, db, "other", models.RoleModerator)
	comment := seedComment(t, db, other, true)

	if err := svc.Reject(ctx, comment.ID, mod, "", ""); err != nil {
		t.Fatal(err)
	}
	banned, err := svc.bans.IsBanned(other)
	if err != nil {
		t.Fatal(err)
	}
	if banned {
		t.Fatal("moderators must never be auto-banned")
	}
}

func TestRemoveKeepsRow(t *testing.T) {
	svc, db := testService(t, config.DefaultSettings())
	mod := seedUser(t, db, "mod", models.RoleModerator)
	comment := seedComment(t, db, "", true)

	if err := svc.Remove(context.Background(), comment.ID, mod, "abuse", ""); err != nil {
		t.Fatal(err)
	}

	var got models.CommentModel
	if err := db.First(&got, "id = ?", comment.ID).Error; err != nil {
		t.Fatalf("removed comment row must survive: %v", err)
	}
	if !got.IsRemoved || got.Visible() {
		t.Fatal("removed comment must be marked and invisible")
	}
}

func TestMarkReviewedAndRemoveFlag(t *testing.T) {
	svc, db := testService(t, config.DefaultSettings())
	ctx := context.Background()

	mod := seedUser(t, db, "mod", models.RoleModerator)
	flagger := seedUser(t, db, "flagger", models.RoleUser)
	comment := seedComment(t, db, "", true)

	if err := svc.Flag(ctx, flagger, comment.ID, models.FlagOther, "weird", ""); err != nil {
		t.Fatal(err)
	}
	var flag models.CommentFlagModel
	if err := db.First(&flag, "target_id = ?", comment.ID).Error; err != nil {
		t.Fatal(err)
	}

	if err := svc.MarkReviewed(flag.ID, mod, "bogus", ""); err == nil {
		t.Fatal("unknown review action must be rejected")
	}
	if err := svc.MarkReviewed(flag.ID, mod, models.ReviewDismissed, "not actionable"); err != nil {
		t.Fatal(err)
	}
	db.First(&flag, "id = ?", flag.ID)
	if !flag.Reviewed || flag.ReviewAction != models.ReviewDismissed {
		t.Fatalf("flag review state = %+v", flag)
	}

	if err := svc.RemoveFlag(flag.ID, mod, "dismissed"); err != nil {
		t.Fatal(err)
	}
	var n int64
	db.Model(&models.CommentFlagModel{}).Count(&n)
	if n != 0 {
		t.Fatal("flag not deleted")
	}
	if err := svc.RemoveFlag(flag.ID, mod, ""); !errors.Is(err, ErrFlagNotFound) {
		t.Fatalf("err = %v, want ErrFlagNotFound", err)
	}
}

func TestQueueListsPendingOnly(t *testing.T) {
	svc, db := testService(t, config.DefaultSettings())

	seedComment(t, db, "", true)
	pending := seedComment(t, db, "", false)
	removed := seedComment(t, db, "", false)
	db.Model(&models.CommentModel{}).Where("id = ?", removed.ID).Update("is_removed", true)

	rows, pag, err := svc.Queue(pagination.Query{Page: 1, Size: 10})
	if err != nil {
		t.Fatal(err)
	}
	if pag.Total != 1 || len(rows) != 1 || rows[0].ID != pending.ID {
		t.Fatalf("queue = %d rows, total %d", len(rows), pag.Total)
	}
}
