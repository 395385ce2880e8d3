package app

import (
	"context"
	"time"

	"github.com/threadline/core/internal/config"
	"github.com/threadline/core/internal/modules/comment"
	pkgcron "github.com/threadline/core/internal/pkg/cron"
	"go.uber.org/zap"
)

func registerCronJobs(sched *pkgcron.Scheduler, commentSvc *comment.Service, settings config.Settings, logger *zap.Logger) {
	if settings.CleanupAfterDays == nil {
		return
	}
	sched.Register(pkgcron.Job{
		Name:        "cleanup_comments",
		Description: "hard-delete non-public comments past the retention window",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			n, err := commentSvc.PurgeStale(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("comment retention sweep finished", zap.Int64("purged", n))
			}
			return nil
		},
	})
}
