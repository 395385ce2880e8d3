package contentref

import (
	"errors"
	"testing"

	"gorm.io/gorm"
)

func TestResolveUnknownType(t *testing.T) {
	r := NewRegistry()
	err := r.Resolve(nil, Ref{Type: "article", ID: "1"})
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestResolveKnownType(t *testing.T) {
	r := NewRegistry()
	r.Register("Article", func(db *gorm.DB, id string) (bool, error) {
		return id == "42", nil
	})

	if !r.Known("article") {
		t.Fatal("tag should be registered case-insensitively")
	}
	if err := r.Resolve(nil, Normalize(" ARTICLE ", " 42 ")); err != nil {
		t.Fatalf("existing object: %v", err)
	}
	err := r.Resolve(nil, Ref{Type: "article", ID: "43"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterIgnoresEmpty(t *testing.T) {
	r := NewRegistry()
	r.Register("", func(db *gorm.DB, id string) (bool, error) { return true, nil })
	r.Register("x", nil)
	if r.Known("") || r.Known("x") {
		t.Fatal("empty tag and nil resolver must not register")
	}
}
