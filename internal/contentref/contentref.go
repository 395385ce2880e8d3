package contentref

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"
)

var (
	ErrUnknownType = errors.New("content type not registered")
	ErrNotFound    = errors.New("content object not found")
)

// Ref identifies one content object: a registered type tag plus an opaque
// lookup key, so integer, UUID and composite primary keys all pass through
// the same code path.
type Ref struct {
	Type string
	ID   string
}

func (r Ref) String() string { return r.Type + ":" + r.ID }

// Resolver checks that an object of a given type exists.
type Resolver func(db *gorm.DB, id string) (bool, error)

// Registry maps type tags to resolvers. Mount points register the content
// models comments may attach to; anything unregistered is rejected.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register binds a type tag to a resolver. Tags are lower-cased.
func (r *Registry) Register(typeTag string, fn Resolver) {
	tag := normalizeTag(typeTag)
	if tag == "" || fn == nil {
		return
	}
	r.mu.Lock()
	r.resolvers[tag] = fn
	r.mu.Unlock()
}

// RegisterModel registers a gorm model resolved by its primary key.
func RegisterModel[T any](r *Registry, typeTag string) {
	r.Register(typeTag, func(db *gorm.DB, id string) (bool, error) {
		var count int64
		var model T
		if err := db.Model(&model).Where("id = ?", id).Count(&count).Error; err != nil {
			return false, err
		}
		return count > 0, nil
	})
}

// Known reports whether a type tag has a resolver.
func (r *Registry) Known(typeTag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resolvers[normalizeTag(typeTag)]
	return ok
}

// Resolve verifies the referenced object exists. Returns ErrUnknownType for
// an unregistered tag and ErrNotFound for a missing row.
func (r *Registry) Resolve(db *gorm.DB, ref Ref) error {
	r.mu.RLock()
	fn, ok := r.resolvers[normalizeTag(ref.Type)]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, ref.Type)
	}
	exists, err := fn(db, ref.ID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return nil
}

// Normalize returns the canonical form of a ref.
func Normalize(typeTag, id string) Ref {
	return Ref{Type: normalizeTag(typeTag), ID: strings.TrimSpace(id)}
}

func normalizeTag(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
