package counts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/threadline/core/internal/contentref"
	"github.com/threadline/core/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

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

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.CommentModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedComment(t *testing.T, db *gorm.DB, objectID string, public, removed bool) {
	t.Helper()
	c := models.CommentModel{
		ContentType: "post",
		ObjectID:    objectID,
		UserName:    "tester",
		Text:        "hello",
		IsPublic:    public,
		IsRemoved:   removed,
		Path:        "x",
		ThreadID:    "x",
	}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("seed comment: %v", err)
	}
}

func TestCountCachesAndFilters(t *testing.T) {
	db := testDB(t)
	store := newMemStore()
	svc := NewService(db, store, time.Hour, nil)
	ctx := context.Background()

	seedComment(t, db, "p1", true, false)
	seedComment(t, db, "p1", false, false)
	seedComment(t, db, "p1", true, true)

	ref := contentref.Ref{Type: "post", ID: "p1"}

	total, err := svc.Count(ctx, ref, false)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}

	public, err := svc.Count(ctx, ref, true)
	if err != nil {
		t.Fatalf("Count public: %v", err)
	}
	if public != 1 {
		t.Fatalf("public = %d, want 1 (hidden and removed excluded)", public)
	}

	// Second read must come from the cache even after the table changes.
	seedComment(t, db, "p1", true, false)
	again, err := svc.Count(ctx, ref, false)
	if err != nil {
		t.Fatalf("Count cached: %v", err)
	}
	if again != 3 {
		t.Fatalf("cached total = %d, want stale 3", again)
	}
}

func TestInvalidateDropsBothKeys(t *testing.T) {
	db := testDB(t)
	store := newMemStore()
	svc := NewService(db, store, time.Hour, nil)
	ctx := context.Background()

	seedComment(t, db, "p1", true, false)
	ref := contentref.Ref{Type: "post", ID: "p1"}

	if _, err := svc.Count(ctx, ref, false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Count(ctx, ref, true); err != nil {
		t.Fatal(err)
	}
	if len(store.data) != 2 {
		t.Fatalf("cache entries = %d, want 2", len(store.data))
	}

	svc.Invalidate(ctx, ref)
	if len(store.data) != 0 {
		t.Fatalf("cache entries after invalidate = %d, want 0", len(store.data))
	}

	seedComment(t, db, "p1", true, false)
	n, err := svc.Count(ctx, ref, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("recount = %d, want 2", n)
	}
}

func TestCountManyBackfillsZeros(t *testing.T) {
	db := testDB(t)
	store := newMemStore()
	svc := NewService(db, store, time.Hour, nil)
	ctx := context.Background()

	seedComment(t, db, "p1", true, false)
	seedComment(t, db, "p1", true, false)
	seedComment(t, db, "p2", true, false)

	out, err := svc.CountMany(ctx, "post", []string{"p1", "p2", "p3"}, false)
	if err != nil {
		t.Fatalf("CountMany: %v", err)
	}
	want := map[string]int64{"p1": 2, "p2": 1, "p3": 0}
	for id, n := range want {
		if out[id] != n {
			t.Fatalf("count[%s] = %d, want %d", id, out[id], n)
		}
	}

	// The zero for p3 must have been cached as well.
	if v, ok := store.data["threadline:comment_count:post:p3"]; !ok || v != "0" {
		t.Fatalf("zero count not backfilled, got %q ok=%v", v, ok)
	}

	// All hits now: a second call must not touch the database.
	seedComment(t, db, "p1", true, false)
	out, err = svc.CountMany(ctx, "post", []string{"p1", "p2", "p3"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if out["p1"] != 2 {
		t.Fatalf("cached count[p1] = %d, want stale 2", out["p1"])
	}
}

func TestBulkInsertLeavesCacheStaleUntilExplicitInvalidate(t *testing.T) {
	db := testDB(t)
	store := newMemStore()
	svc := NewService(db, store, time.Hour, nil)
	ctx := context.Background()

	seedComment(t, db, "p1", true, false)
	ref := contentref.Ref{Type: "post", ID: "p1"}

	if n, err := svc.Count(ctx, ref, false); err != nil || n != 1 {
		t.Fatalf("Count = %d, %v, want 1", n, err)
	}

	// Batch insert bypasses the per-row write path, so nothing invalidates
	// the cache. Callers doing bulk loads own the invalidation.
	batch := []models.CommentModel{
		{ContentType: "post", ObjectID: "p1", UserName: "bulk", Text: "a", IsPublic: true, Path: "y", ThreadID: "y"},
		{ContentType: "post", ObjectID: "p1", UserName: "bulk", Text: "b", IsPublic: true, Path: "z", ThreadID: "z"},
	}
	if err := db.Create(&batch).Error; err != nil {
		t.Fatalf("bulk insert: %v", err)
	}

	if n, err := svc.Count(ctx, ref, false); err != nil || n != 1 {
		t.Fatalf("count after bulk insert = %d, %v, want stale 1", n, err)
	}

	svc.Invalidate(ctx, ref)
	if n, err := svc.Count(ctx, ref, false); err != nil || n != 3 {
		t.Fatalf("count after explicit invalidate = %d, %v, want 3", n, err)
	}
}

func TestCountManyEmptyInput(t *testing.T) {
	svc := NewService(testDB(t), newMemStore(), time.Hour, nil)
	out, err := svc.CountMany(context.Background(), "post", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %v", out)
	}
}
