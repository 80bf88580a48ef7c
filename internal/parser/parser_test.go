package parser

import (
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - canvas\n---\n# Hello\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if len(r.Tags) < 2 || r.Tags[0] != "go" || r.Tags[1] != "canvas" {
		t.Errorf("tags = %v, want [go canvas]", r.Tags)
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Invalid YAML falls back to treating everything as body.
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
}

func TestExtractLinks_Basic(t *testing.T) {
	body := "See [[Note A]] and [[Note B|alias]].\nAlso [[Note A]] again."
	links := extractLinks(body)
	if len(links) != 2 {
		t.Fatalf("len(links) = %d, want 2", len(links))
	}
	if links[0] != "Note A" || links[1] != "Note B" {
		t.Errorf("links = %v", links)
	}
}

func TestExtractLinks_EmptyTarget(t *testing.T) {
	links := extractLinks("see [[ ]] and [[|alias]]")
	if len(links) != 0 {
		t.Errorf("expected no links, got %v", links)
	}
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	fm := map[string]any{
		"tags": []any{"alpha"},
	}
	body := "Some text #beta and #alpha again."
	tags := extractTags(body, fm)
	// alpha from FM, beta from body; alpha not duplicated.
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v, want [alpha beta]", tags)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	fm := map[string]any{"title": "FM Title"}
	body := "# H1 Title\ntext"
	title := deriveTitle(fm, body)
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := deriveTitle(nil, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}

func TestExtractLinks_DropsSubpath(t *testing.T) {
	links := extractLinks("[[Note A#Heading]] [[Note A]] [[Note B#^block|shown]]")
	if len(links) != 2 || links[0] != "Note A" || links[1] != "Note B" {
		t.Errorf("links = %v", links)
	}
}

func TestParse_FrontmatterLinks(t *testing.T) {
	input := []byte("---\nBoard:\n  - \"[[Board.canvas]]\"\n  - \"[[Other]]\"\nup: \"[[Parent|p]]\"\n---\nSee [[Body Link]].\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := map[string]bool{"Board.canvas": true, "Other": true, "Parent": true}
	if len(r.FrontmatterLinks) != len(want) {
		t.Fatalf("frontmatter links = %v", r.FrontmatterLinks)
	}
	for _, l := range r.FrontmatterLinks {
		if !want[l] {
			t.Errorf("unexpected frontmatter link %q", l)
		}
	}
	if len(r.Links) != 1 || r.Links[0] != "Body Link" {
		t.Errorf("body links = %v", r.Links)
	}
}

func TestSplit(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		ok    bool
		block string
		body  string
	}{
		{"basic", "---\na: 1\n---\nbody\n", true, "a: 1\n", "body\n"},
		{"empty block", "---\n---\nbody", true, "", "body"},
		{"no trailing newline", "---\na: 1\n---", true, "a: 1\n", ""},
		{"body keeps blank lines", "---\na: 1\n---\n\n\nbody", true, "a: 1\n", "\n\nbody"},
		{"no frontmatter", "# Title\n", false, "", "# Title\n"},
		{"unterminated", "---\na: 1\nbody\n", false, "", "---\na: 1\nbody\n"},
		{"fence with text", "---x\na: 1\n---\n", false, "", "---x\na: 1\n---\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			block, body, ok := Split([]byte(tc.in))
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if string(block) != tc.block {
				t.Errorf("block = %q, want %q", block, tc.block)
			}
			if string(body) != tc.body {
				t.Errorf("body = %q, want %q", body, tc.body)
			}
		})
	}
}

func TestLinkTarget(t *testing.T) {
	cases := map[string]string{
		"Note":              "Note",
		" Note | alias ":    "Note",
		"folder/Note#Intro": "folder/Note",
		"#only-heading":     "",
	}
	for in, want := range cases {
		if got := LinkTarget(in); got != want {
			t.Errorf("LinkTarget(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWikilinkTarget(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"[[Note]]", "Note", true},
		{"![[pic.png]]", "pic.png", true},
		{" [[dir/Note|Alias]] ", "dir/Note", true},
		{"[[Note#Heading]]", "Note", true},
		{"plain text", "", false},
		{"[[a]] and [[b]]", "", false},
		{"[[]]", "", false},
	}
	for _, tt := range tests {
		got, ok := WikilinkTarget(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("WikilinkTarget(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
