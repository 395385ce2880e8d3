package counts

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/threadline/core/internal/contentref"
	"github.com/threadline/core/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store is the cache the count service runs against. *pkgredis.Client
// satisfies it; tests substitute an in-memory map.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetMany(ctx context.Context, values map[string]interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Service maintains cached comment counts per content object. Writes
// invalidate, never recompute: setting a freshly computed value under
// concurrent writes can cache a result that masks a newer write, while a
// deleted entry only costs one lazy recount.
type Service struct {
	db     *gorm.DB
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewService(db *gorm.DB, store Store, ttl time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, store: store, ttl: ttl, logger: logger}
}

func key(ref contentref.Ref, publicOnly bool) string {
	kind := "comment_count"
	if publicOnly {
		kind = "public_comment_count"
	}
	return fmt.Sprintf("threadline:%s:%s:%s", kind, ref.Type, ref.ID)
}

// Count returns the number of comments on one object, consulting the cache
// first and backfilling it on a miss.
func (s *Service) Count(ctx context.Context, ref contentref.Ref, publicOnly bool) (int64, error) {
	k := key(ref, publicOnly)
	if cached, ok, err := s.store.Get(ctx, k); err == nil && ok {
		if n, perr := strconv.ParseInt(cached, 10, 64); perr == nil {
			return n, nil
		}
	} else if err != nil {
		s.logger.Error("count cache read failed", zap.String("key", k), zap.Error(err))
	}

	var n int64
	if err := s.query(ref.Type, publicOnly).Where("object_id = ?", ref.ID).Count(&n).Error; err != nil {
		return 0, err
	}
	if err := s.store.Set(ctx, k, n, s.ttl); err != nil {
		s.logger.Error("count cache write failed", zap.String("key", k), zap.Error(err))
	}
	return n, nil
}

// CountMany resolves counts for several objects of one type: one multi-get,
// one grouped query for the misses, then a backfill that caches explicit
// zeros so absent objects do not miss forever.
func (s *Service) CountMany(ctx context.Context, typeTag string, objectIDs []string, publicOnly bool) (map[string]int64, error) {
	out := make(map[string]int64, len(objectIDs))
	if len(objectIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(objectIDs))
	for i, id := range objectIDs {
		keys[i] = key(contentref.Ref{Type: typeTag, ID: id}, publicOnly)
	}

	cached, err := s.store.GetMany(ctx, keys...)
	if err != nil {
		s.logger.Error("count cache multi-get failed", zap.Error(err))
		cached = map[string]string{}
	}

	var missed []string
	for i, id := range objectIDs {
		if raw, ok := cached[keys[i]]; ok {
			if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
				out[id] = n
				continue
			}
		}
		missed = append(missed, id)
	}
	if len(missed) == 0 {
		return out, nil
	}

	type row struct {
		ObjectID string
		N        int64
	}
	var rows []row
	if err := s.query(typeTag, publicOnly).
		Select("object_id, COUNT(*) AS n").
		Where("object_id IN ?", missed).
		Group("object_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(missed))
	for _, r := range rows {
		counts[r.ObjectID] = r.N
	}

	backfill := make(map[string]interface{}, len(missed))
	for _, id := range missed {
		n := counts[id] // zero when no rows matched
		out[id] = n
		backfill[key(contentref.Ref{Type: typeTag, ID: id}, publicOnly)] = n
	}
	if err := s.store.SetMany(ctx, backfill, s.ttl); err != nil {
		s.logger.Error("count cache backfill failed", zap.Error(err))
	}
	return out, nil
}

// Invalidate drops both count entries for an object. Runs synchronously on
// every single-row comment write; failures are logged, never propagated.
//
// Bulk-insert paths that bypass the normal creation flow do not invalidate
// automatically. That staleness window is accepted; bulk callers invalidate
// explicitly.
func (s *Service) Invalidate(ctx context.Context, ref contentref.Ref) {
	if err := s.store.Del(ctx, key(ref, false), key(ref, true)); err != nil {
		s.logger.Error("count cache invalidation failed",
			zap.String("target", ref.String()), zap.Error(err))
	}
}

func (s *Service) query(typeTag string, publicOnly bool) *gorm.DB {
	tx := s.db.Model(&models.CommentModel{}).Where("content_type = ?", typeTag)
	if publicOnly {
		tx = tx.Where("is_public = ? AND is_removed = ?", true, false)
	}
	return tx
}
