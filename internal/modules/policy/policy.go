package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/threadline/core/internal/config"
	"github.com/threadline/core/internal/models"
	"go.uber.org/zap"
)

// Engine applies the configured content policy to comment text. It does no
// I/O and signals policy violations via return values, never errors: a
// disallowed comment is an expected outcome, not a failure.
type Engine struct {
	settings config.Settings
	logger   *zap.Logger

	profanityRe *regexp.Regexp
}

func New(settings config.Settings, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		settings:    settings,
		logger:      logger,
		profanityRe: compileWordList(settings.ProfanityList),
	}
}

// Evaluation is the full outcome of running the policy over one text.
type Evaluation struct {
	Allowed bool
	Reason  string
	// Validation marks a length/blank rejection, as opposed to a policy
	// (spam/profanity) rejection. Callers surface the two differently.
	Validation bool

	// Text is the possibly-censored text to store when Allowed.
	Text string
	// PendingFlags are automatic flags to apply after the comment persists.
	PendingFlags []models.FlagCategory

	SpamDetected      bool
	ProfanityDetected bool
}

// Check is the gate contract: may this text be submitted at all?
func (e *Engine) Check(text string) (bool, string) {
	ev := e.Evaluate(text)
	return ev.Allowed, ev.Reason
}

// Process returns the text to persist and the automatic flags to apply.
// Callers must have passed Check first.
func (e *Engine) Process(text string) (string, []models.FlagCategory) {
	ev := e.Evaluate(text)
	return ev.Text, ev.PendingFlags
}

// Evaluate runs length, spam and profanity checks in one pass. The two
// detection policies are independent and compose: a submission can pick up a
// spam flag and have its profanity censored at the same time.
func (e *Engine) Evaluate(text string) Evaluation {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Evaluation{Reason: "comment text is empty", Validation: true}
	}
	if e.settings.MaxCommentLength > 0 && utf8.RuneCountInString(trimmed) > e.settings.MaxCommentLength {
		return Evaluation{Reason: "comment text exceeds maximum length", Validation: true}
	}

	ev := Evaluation{Allowed: true, Text: text}

	if e.settings.SpamDetectionEnabled {
		isSpam, reason := e.detectSpam(text)
		if isSpam {
			ev.SpamDetected = true
			switch e.settings.SpamAction {
			case config.ActionHide, config.ActionDelete:
				if reason == "" {
					reason = "spam detected"
				}
				return Evaluation{Reason: reason, SpamDetected: true}
			default: // flag
				ev.PendingFlags = append(ev.PendingFlags, models.FlagSpam)
			}
		}
	}

	if e.settings.ProfanityFiltering && e.profanityRe != nil {
		if e.profanityRe.MatchString(ev.Text) {
			ev.ProfanityDetected = true
			switch e.settings.ProfanityAction {
			case config.ActionCensor:
				ev.Text = e.profanityRe.ReplaceAllStringFunc(ev.Text, func(m string) string {
					return strings.Repeat("*", len(m))
				})
			case config.ActionFlag:
				ev.PendingFlags = append(ev.PendingFlags, models.FlagOffensive)
			case config.ActionHide, config.ActionDelete:
				return Evaluation{Reason: "disallowed language", SpamDetected: ev.SpamDetected, ProfanityDetected: true}
			}
		}
	}

	return ev
}

// detectSpam consults the custom detector when configured, falling back to
// the word list if the detector panics.
func (e *Engine) detectSpam(text string) (isSpam bool, reason string) {
	if e.settings.SpamDetector != nil {
		ok := func() (ok bool) {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("custom spam detector panicked", zap.Any("panic", r))
					ok = false
				}
			}()
			isSpam, reason = e.settings.SpamDetector(text)
			return true
		}()
		if ok {
			return isSpam, reason
		}
	}

	lower := strings.ToLower(text)
	for _, word := range e.settings.SpamWords {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}
		if strings.Contains(lower, word) {
			return true, "spam detected"
		}
	}
	return false, ""
}

// compileWordList builds a single case-insensitive whole-word pattern.
// Substrings inside larger words never match: "class" is clean even when
// "ass" is listed.
func compileWordList(words []string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	if len(quoted) == 0 {
		return nil
	}
	re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	if err != nil {
		return nil
	}
	return re
}
