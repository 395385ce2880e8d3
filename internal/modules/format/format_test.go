package format

import (
	"reflect"
	"strings"
	"testing"
)

func TestRenderMarkdown(t *testing.T) {
	r := NewRenderer()

	out := r.Render("hello **world**")
	if !strings.Contains(out, "<strong>world</strong>") {
		t.Fatalf("markdown not rendered: %q", out)
	}
}

func TestRenderStripsScript(t *testing.T) {
	r := NewRenderer()

	// Raw HTML is escaped at render time, so the script text survives as
	// harmless content; what must never appear is a live script element.
	out := r.Render(`nice <script>alert("x")</script> post`)
	if strings.Contains(out, "<script") {
		t.Fatalf("script element survived sanitization: %q", out)
	}
	if !strings.Contains(out, "nice") || !strings.Contains(out, "post") {
		t.Fatalf("surrounding text lost: %q", out)
	}
}

func TestRenderEmpty(t *testing.T) {
	r := NewRenderer()
	if out := r.Render("   \n "); out != "" {
		t.Fatalf("blank input rendered %q", out)
	}
}

func TestRenderLinksGetRelAttributes(t *testing.T) {
	r := NewRenderer()
	out := r.Render("see https://example.com/page")
	if !strings.Contains(out, `href="https://example.com/page"`) {
		t.Fatalf("link not rendered: %q", out)
	}
	if !strings.Contains(out, "noreferrer") {
		t.Fatalf("external link missing rel attributes: %q", out)
	}
}

func TestMentions(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{"none", "plain text", nil},
		{"single", "thanks @alice", []string{"alice"}},
		{"multiple dedup", "@alice meet @bob and @alice", []string{"alice", "bob"}},
		{"start of line", "@carol hi", []string{"carol"}},
		{"email not a mention", "mail me at user@example.com", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Mentions(tc.text); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Mentions(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}
