package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOverlayAppliesOnlyProvidedFields(t *testing.T) {
	depth := 10
	enabled := true
	o := SettingsOverlay{
		MaxCommentDepth:      &depth,
		SpamDetectionEnabled: &enabled,
		SpamWords:            []string{"viagra"},
	}

	s := o.Apply(DefaultSettings())

	if s.MaxCommentDepth == nil || *s.MaxCommentDepth != 10 {
		t.Fatalf("MaxCommentDepth = %v", s.MaxCommentDepth)
	}
	if !s.SpamDetectionEnabled || len(s.SpamWords) != 1 {
		t.Fatal("spam overlay not applied")
	}
	// Untouched fields keep their defaults.
	if s.MaxCommentLength != 3000 || !s.AllowCommentEditing || s.EditTimeWindow != 15*time.Minute {
		t.Fatalf("defaults disturbed: %+v", s)
	}
}

func TestOverlayNegativeDepthDisablesLimit(t *testing.T) {
	depth := -1
	s := SettingsOverlay{MaxCommentDepth: &depth}.Apply(DefaultSettings())
	if s.MaxCommentDepth != nil {
		t.Fatalf("MaxCommentDepth = %v, want nil", *s.MaxCommentDepth)
	}
}

func TestOverlayDurationFields(t *testing.T) {
	cacheSecs, editMins := 120, 30
	s := SettingsOverlay{
		CacheTimeoutSeconds:   &cacheSecs,
		EditTimeWindowMinutes: &editMins,
	}.Apply(DefaultSettings())
	if s.CacheTimeout != 2*time.Minute {
		t.Fatalf("CacheTimeout = %v", s.CacheTimeout)
	}
	if s.EditTimeWindow != 30*time.Minute {
		t.Fatalf("EditTimeWindow = %v", s.EditTimeWindow)
	}
}

func TestLoadAppliesCommentOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
port: 8080
env: production
content_types: [post, page]
comments:
  moderation_required: true
  auto_hide_threshold: 5
  cleanup_after_days: 30
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 || cfg.IsDev() {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.ContentTypes) != 2 {
		t.Fatalf("ContentTypes = %v", cfg.ContentTypes)
	}

	s := cfg.Settings()
	if !s.ModerationRequired || s.AutoHideThreshold != 5 {
		t.Fatalf("overlay not applied: %+v", s)
	}
	if s.CleanupAfterDays == nil || *s.CleanupAfterDays != 30 {
		t.Fatalf("CleanupAfterDays = %v", s.CleanupAfterDays)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("prot: 8080\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("port: 99999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}
