package config

import "time"

// PolicyAction is what the content policy engine does on detection.
type PolicyAction string

const (
	ActionFlag   PolicyAction = "flag"
	ActionHide   PolicyAction = "hide"
	ActionDelete PolicyAction = "delete"
	ActionCensor PolicyAction = "censor" // profanity only
)

// SpamDetector is an optional custom detector injected at configuration time.
// It returns whether the text is spam and an optional reason.
type SpamDetector func(text string) (bool, string)

// Settings is the immutable comment behaviour configuration. Construct with
// DefaultSettings and adjust fields before wiring services; never mutate a
// Settings value that services already hold.
type Settings struct {
	// MaxCommentDepth is the deepest allowed nesting level. A root comment
	// has depth 0. Nil disables the limit.
	MaxCommentDepth *int
	// MaxCommentLength caps comment text length after trimming.
	MaxCommentLength int
	// AllowAnonymous permits comments without an authenticated author; such
	// comments must carry a display name and contact email.
	AllowAnonymous bool
	// ModerationRequired forces every new comment to is_public=false. The
	// submitter gets a distinct "pending moderation" outcome, not an error.
	ModerationRequired bool

	SpamDetectionEnabled bool
	SpamWords            []string
	SpamAction           PolicyAction // flag | hide | delete
	SpamDetector         SpamDetector // optional, overrides the word list

	ProfanityFiltering bool
	ProfanityList      []string
	ProfanityAction    PolicyAction // censor | flag | hide | delete

	// AutoHideThreshold hides a public comment once it accumulates this many
	// flags. AutoDeleteThreshold hard-deletes instead and is checked first;
	// nil disables deletion.
	AutoHideThreshold   int
	AutoDeleteThreshold *int
	// AutoHideDetectedSpam / AutoHideProfanity hide immediately on policy
	// detection, regardless of flag counts.
	AutoHideDetectedSpam bool
	AutoHideProfanity    bool

	// Auto-ban escalation. Nil disables the respective trigger.
	AutoBanAfterRejections *int
	AutoBanAfterSpamFlags  *int
	// DefaultBanDurationDays sets auto-ban expiry; nil means permanent.
	DefaultBanDurationDays *int

	// CacheTimeout is the TTL for cached comment counts.
	CacheTimeout time.Duration

	// Per-user flag submission limits over trailing windows. Nil disables.
	MaxFlagsPerDay  *int
	MaxFlagsPerHour *int

	// Editing.
	AllowCommentEditing bool
	EditTimeWindow      time.Duration // owner edits allowed this long after creation
	TrackEditHistory    bool

	// CleanupAfterDays hard-deletes non-public comments older than N days
	// via the retention sweep. Nil disables the sweep.
	CleanupAfterDays *int
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	depth := 3
	return Settings{
		MaxCommentDepth:      &depth,
		MaxCommentLength:     3000,
		AllowAnonymous:       true,
		ModerationRequired:   false,
		SpamDetectionEnabled: false,
		SpamAction:           ActionFlag,
		ProfanityFiltering:   false,
		ProfanityAction:      ActionCensor,
		AutoHideThreshold:    3,
		AutoHideDetectedSpam: false,
		AutoHideProfanity:    false,
		CacheTimeout:         time.Hour,
		AllowCommentEditing:  true,
		EditTimeWindow:       15 * time.Minute,
		TrackEditHistory:     true,
	}
}

// SettingsOverlay is the YAML-facing shape: every field optional so the
// config file only has to name what it changes.
type SettingsOverlay struct {
	MaxCommentDepth        *int     `yaml:"max_comment_depth"`
	MaxCommentLength       *int     `yaml:"max_comment_length"`
	AllowAnonymous         *bool    `yaml:"allow_anonymous"`
	ModerationRequired     *bool    `yaml:"moderation_required"`
	SpamDetectionEnabled   *bool    `yaml:"spam_detection_enabled"`
	SpamWords              []string `yaml:"spam_words"`
	SpamAction             *string  `yaml:"spam_action"`
	ProfanityFiltering     *bool    `yaml:"profanity_filtering"`
	ProfanityList          []string `yaml:"profanity_list"`
	ProfanityAction        *string  `yaml:"profanity_action"`
	AutoHideThreshold      *int     `yaml:"auto_hide_threshold"`
	AutoDeleteThreshold    *int     `yaml:"auto_delete_threshold"`
	AutoHideDetectedSpam   *bool    `yaml:"auto_hide_detected_spam"`
	AutoHideProfanity      *bool    `yaml:"auto_hide_profanity"`
	AutoBanAfterRejections *int     `yaml:"auto_ban_after_rejections"`
	AutoBanAfterSpamFlags  *int     `yaml:"auto_ban_after_spam_flags"`
	DefaultBanDurationDays *int     `yaml:"default_ban_duration_days"`
	CacheTimeoutSeconds    *int     `yaml:"cache_timeout_seconds"`
	MaxFlagsPerDay         *int     `yaml:"max_flags_per_day"`
	MaxFlagsPerHour        *int     `yaml:"max_flags_per_hour"`
	AllowCommentEditing    *bool    `yaml:"allow_comment_editing"`
	EditTimeWindowMinutes  *int     `yaml:"edit_time_window_minutes"`
	TrackEditHistory       *bool    `yaml:"track_edit_history"`
	CleanupAfterDays       *int     `yaml:"cleanup_after_days"`
}

// Apply overlays the file-provided values onto s and returns the result.
func (o SettingsOverlay) Apply(s Settings) Settings {
	if o.MaxCommentDepth != nil {
		if *o.MaxCommentDepth < 0 {
			s.MaxCommentDepth = nil
		} else {
			v := *o.MaxCommentDepth
			s.MaxCommentDepth = &v
		}
	}
	if o.MaxCommentLength != nil {
		s.MaxCommentLength = *o.MaxCommentLength
	}
	if o.AllowAnonymous != nil {
		s.AllowAnonymous = *o.AllowAnonymous
	}
	if o.ModerationRequired != nil {
		s.ModerationRequired = *o.ModerationRequired
	}
	if o.SpamDetectionEnabled != nil {
		s.SpamDetectionEnabled = *o.SpamDetectionEnabled
	}
	if o.SpamWords != nil {
		s.SpamWords = append([]string(nil), o.SpamWords...)
	}
	if o.SpamAction != nil {
		s.SpamAction = PolicyAction(*o.SpamAction)
	}
	if o.ProfanityFiltering != nil {
		s.ProfanityFiltering = *o.ProfanityFiltering
	}
	if o.ProfanityList != nil {
		s.ProfanityList = append([]string(nil), o.ProfanityList...)
	}
	if o.ProfanityAction != nil {
		s.ProfanityAction = PolicyAction(*o.ProfanityAction)
	}
	if o.AutoHideThreshold != nil {
		s.AutoHideThreshold = *o.AutoHideThreshold
	}
	if o.AutoDeleteThreshold != nil {
		v := *o.AutoDeleteThreshold
		s.AutoDeleteThreshold = &v
	}
	if o.AutoHideDetectedSpam != nil {
		s.AutoHideDetectedSpam = *o.AutoHideDetectedSpam
	}
	if o.AutoHideProfanity != nil {
		s.AutoHideProfanity = *o.AutoHideProfanity
	}
	if o.AutoBanAfterRejections != nil {
		v := *o.AutoBanAfterRejections
		s.AutoBanAfterRejections = &v
	}
	if o.AutoBanAfterSpamFlags != nil {
		v := *o.AutoBanAfterSpamFlags
		s.AutoBanAfterSpamFlags = &v
	}
	if o.DefaultBanDurationDays != nil {
		v := *o.DefaultBanDurationDays
		s.DefaultBanDurationDays = &v
	}
	if o.CacheTimeoutSeconds != nil {
		s.CacheTimeout = time.Duration(*o.CacheTimeoutSeconds) * time.Second
	}
	if o.MaxFlagsPerDay != nil {
		v := *o.MaxFlagsPerDay
		s.MaxFlagsPerDay = &v
	}
	if o.MaxFlagsPerHour != nil {
		v := *o.MaxFlagsPerHour
		s.MaxFlagsPerHour = &v
	}
	if o.AllowCommentEditing != nil {
		s.AllowCommentEditing = *o.AllowCommentEditing
	}
	if o.EditTimeWindowMinutes != nil {
		s.EditTimeWindow = time.Duration(*o.EditTimeWindowMinutes) * time.Minute
	}
	if o.TrackEditHistory != nil {
		s.TrackEditHistory = *o.TrackEditHistory
	}
	if o.CleanupAfterDays != nil {
		v := *o.CleanupAfterDays
		s.CleanupAfterDays = &v
	}
	return s
}

// Settings resolves the effective comment settings for this config.
func (c *AppConfig) Settings() Settings {
	return c.Comments.Apply(DefaultSettings())
}
