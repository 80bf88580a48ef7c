// Package parser extracts frontmatter, wikilinks, and tags from Markdown content.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

const delim = "---"

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	// Links are wikilink targets found in the body.
	Links []string
	// FrontmatterLinks are wikilink targets found in frontmatter values.
	FrontmatterLinks []string
	Tags             []string
	Title            string
}

// Parse extracts frontmatter, body, wikilinks, and tags from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body := splitFrontmatter(data)

	return &Result{
		Frontmatter:      fm,
		Body:             body,
		Links:            extractLinks(body),
		FrontmatterLinks: frontmatterLinks(fm),
		Tags:             extractTags(body, fm),
		Title:            deriveTitle(fm, body),
	}, nil
}

// Split separates the raw YAML block between the leading --- fences from the
// rest of the document. body is returned byte for byte so the document can
// be reassembled around an edited block. ok is false when there is no
// complete frontmatter block; body is then the whole input.
func Split(data []byte) (block, body []byte, ok bool) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, data, false
	}
	rest := trimmed[len(delim):]
	// The opening fence must be alone on its line.
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || strings.TrimSpace(string(rest[:nl])) != "" {
		return nil, data, false
	}
	rest = rest[nl+1:]

	var end int
	switch {
	case bytes.HasPrefix(rest, []byte(delim)):
		end = 0
	default:
		idx := bytes.Index(rest, []byte("\n"+delim))
		if idx < 0 {
			return nil, data, false
		}
		end = idx + 1
	}
	block = rest[:end]
	after := rest[end+len(delim):]
	// Consume the remainder of the closing fence line.
	if i := bytes.IndexByte(after, '\n'); i >= 0 {
		if strings.TrimSpace(string(after[:i])) != "" {
			return nil, data, false
		}
		after = after[i+1:]
	} else if strings.TrimSpace(string(after)) != "" {
		return nil, data, false
	} else {
		after = nil
	}
	return block, after, true
}

// splitFrontmatter decodes the frontmatter block. Invalid YAML is treated as
// if there were no frontmatter at all.
func splitFrontmatter(data []byte) (map[string]interface{}, string) {
	block, body, ok := Split(data)
	if !ok {
		return nil, string(data)
	}
	var fm map[string]interface{}
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, string(data)
	}
	return fm, strings.TrimLeft(string(body), "\n\r")
}

// LinkTarget normalises the inside of a wikilink: drops the alias, the
// heading or block subpath and surrounding space.
func LinkTarget(raw string) string {
	target := raw
	if i := strings.Index(target, "|"); i >= 0 {
		target = target[:i]
	}
	if i := strings.Index(target, "#"); i >= 0 {
		target = target[:i]
	}
	return strings.TrimSpace(target)
}

// WikilinkTarget returns the link target of a value that consists of a single
// wikilink, such as a frontmatter list entry "[[Note|alias]]" or its embed
// form "![[Note]]". ok is false for anything else.
func WikilinkTarget(value string) (string, bool) {
	v := strings.TrimPrefix(strings.TrimSpace(value), "!")
	if !strings.HasPrefix(v, "[[") || !strings.HasSuffix(v, "]]") {
		return "", false
	}
	inner := v[2 : len(v)-2]
	if strings.Contains(inner, "[[") || strings.Contains(inner, "]]") {
		return "", false
	}
	target := LinkTarget(inner)
	return target, target != ""
}

// extractLinks returns deduplicated wikilink targets, normalising aliases.
func extractLinks(body string) []string {
	return collectLinks([]string{body})
}

func collectLinks(texts []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, text := range texts {
		for _, m := range wikilinkRe.FindAllStringSubmatch(text, -1) {
			target := LinkTarget(m[1])
			if target == "" {
				continue
			}
			if _, ok := seen[target]; ok {
				continue
			}
			seen[target] = struct{}{}
			out = append(out, target)
		}
	}
	return out
}

// frontmatterLinks returns wikilink targets found in any string value of fm,
// including strings nested in lists and maps.
func frontmatterLinks(fm map[string]interface{}) []string {
	if fm == nil {
		return nil
	}
	var texts []string
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch x := v.(type) {
		case string:
			texts = append(texts, x)
		case []interface{}:
			for _, item := range x {
				walk(item)
			}
		case map[string]interface{}:
			for _, item := range x {
				walk(item)
			}
		}
	}
	walk(fm)
	return collectLinks(texts)
}

// extractTags collects #tags from body and from frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string

	if fm != nil {
		if v, ok := fm["tags"].([]interface{}); ok {
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					continue
				}
				s = strings.TrimSpace(s)
				if s == "" {
					continue
				}
				if _, dup := seen[s]; !dup {
					seen[s] = struct{}{}
					out = append(out, s)
				}
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		t := m[1]
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && s != "" {
			return s
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
