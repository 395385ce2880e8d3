package format

import (
	"bytes"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
)

// Renderer turns comment markdown into sanitized HTML at read time. Stored
// comment text is always the raw submission; rendering never mutates it.
type Renderer struct {
	engine   goldmark.Markdown
	sanitize *bluemonday.Policy
}

var mentionPattern = regexp.MustCompile(`(^|[^\w@])@([A-Za-z0-9_]{1,30})\b`)

func NewRenderer() *Renderer {
	policy := bluemonday.UGCPolicy()
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	policy.RequireNoReferrerOnLinks(true)

	return &Renderer{
		engine: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Linkify,
				extension.Strikethrough,
			),
			goldmark.WithRendererOptions(
				htmlrenderer.WithHardWraps(),
				htmlrenderer.WithXHTML(),
			),
		),
		sanitize: policy,
	}
}

// Render converts markdown to HTML and strips everything the UGC policy
// does not allow. On a conversion failure the raw text is HTML-escaped and
// returned as-is rather than dropped.
func (r *Renderer) Render(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := r.engine.Convert([]byte(text), &buf); err != nil {
		return "<p>" + template.HTMLEscapeString(text) + "</p>"
	}
	return r.sanitize.Sanitize(buf.String())
}

// Mentions extracts the distinct @usernames referenced in a comment, in
// order of first appearance.
func Mentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var names []string
	for _, m := range matches {
		name := m[2]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
