package frontmatter

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/tether/internal/parser"
)

// Block is an editable view of a document's frontmatter mapping. Key order,
// comments and unrelated keys survive a round trip.
type Block struct {
	root    *yaml.Node
	changed bool
}

// load splits a document into its frontmatter block and body. A document
// without frontmatter yields an empty block and the whole input as body.
func load(data []byte) (*Block, []byte, error) {
	raw, body, ok := parser.Split(data)
	if !ok {
		return newBlock(), data, nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return newBlock(), bytes.Clone(body), nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("frontmatter: parse: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return newBlock(), bytes.Clone(body), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("frontmatter: top level is not a mapping")
	}
	return &Block{root: root}, bytes.Clone(body), nil
}

func newBlock() *Block {
	return &Block{root: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}
}

// render reassembles the document. An empty block drops the fences.
func (b *Block) render(body []byte) ([]byte, error) {
	if len(b.root.Content) == 0 {
		return body, nil
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(b.root); err != nil {
		return nil, fmt.Errorf("frontmatter: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("frontmatter: encode: %w", err)
	}
	buf.WriteString("---\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

// Changed reports whether the block was modified.
func (b *Block) Changed() bool {
	return b.changed
}

// Keys returns the top-level keys in document order.
func (b *Block) Keys() []string {
	var out []string
	for i := 0; i+1 < len(b.root.Content); i += 2 {
		out = append(out, b.root.Content[i].Value)
	}
	return out
}

// Has reports whether key is present.
func (b *Block) Has(key string) bool {
	return b.index(key) >= 0
}

// Values returns the string entries of key viewed as a list. A scalar reads
// as a one-element list; a null or missing value reads as empty.
func (b *Block) Values(key string) []string {
	i := b.index(key)
	if i < 0 {
		return nil
	}
	v := b.root.Content[i+1]
	if isNull(v) {
		return nil
	}
	if v.Kind != yaml.SequenceNode {
		if v.Kind == yaml.ScalarNode {
			return []string{v.Value}
		}
		return nil
	}
	var out []string
	for _, item := range v.Content {
		if item.Kind == yaml.ScalarNode && !isNull(item) {
			out = append(out, item.Value)
		}
	}
	return out
}

// Add appends ref to the list under key unless an equivalent entry exists.
// A missing key is created. A scalar value is wrapped into a list only when
// ref has to be appended to it, and stays a list afterwards.
func (b *Block) Add(key, ref string) {
	ref = StripEmbed(ref)
	i := b.index(key)
	if i < 0 {
		b.root.Content = append(b.root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			&yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: []*yaml.Node{refNode(ref)}},
		)
		b.changed = true
		return
	}
	if v := b.root.Content[i+1]; v.Kind == yaml.ScalarNode && sameRef(v, ref) {
		return
	}
	seq := b.coerce(i)
	if slices.ContainsFunc(seq.Content, func(n *yaml.Node) bool { return sameRef(n, ref) }) {
		return
	}
	seq.Content = append(seq.Content, refNode(ref))
	b.changed = true
}

// Remove drops every entry equivalent to ref from the list under key and
// deletes the key once the list is empty. A scalar value is never turned
// into a list here: it is deleted when it equals ref and kept otherwise.
func (b *Block) Remove(key, ref string) {
	ref = StripEmbed(ref)
	i := b.index(key)
	if i < 0 {
		return
	}
	seq := b.root.Content[i+1]
	if seq.Kind != yaml.SequenceNode {
		if seq.Kind == yaml.ScalarNode && !isNull(seq) && sameRef(seq, ref) {
			b.Delete(key)
		}
		return
	}
	before := len(seq.Content)
	seq.Content = slices.DeleteFunc(seq.Content, func(n *yaml.Node) bool { return sameRef(n, ref) })
	if len(seq.Content) != before {
		b.changed = true
	}
	if len(seq.Content) == 0 {
		b.Delete(key)
	}
}

// Delete removes key. It reports whether the key existed.
func (b *Block) Delete(key string) bool {
	i := b.index(key)
	if i < 0 {
		return false
	}
	b.root.Content = slices.Delete(b.root.Content, i, i+2)
	b.changed = true
	return true
}

// Rename moves the value of oldKey to newKey, keeping its position. When
// newKey already exists the entries of oldKey are merged into it.
func (b *Block) Rename(oldKey, newKey string) bool {
	if oldKey == newKey {
		return false
	}
	i := b.index(oldKey)
	if i < 0 {
		return false
	}
	if b.index(newKey) < 0 {
		b.root.Content[i].Value = newKey
		b.changed = true
		return true
	}
	for _, v := range b.Values(oldKey) {
		b.Add(newKey, v)
	}
	b.Delete(oldKey)
	return true
}

// coerce makes sure the value at mapping index i is a sequence and returns it.
func (b *Block) coerce(i int) *yaml.Node {
	v := b.root.Content[i+1]
	switch {
	case v.Kind == yaml.SequenceNode:
		return v
	case isNull(v):
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		b.root.Content[i+1] = seq
		b.changed = true
		return seq
	default:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: []*yaml.Node{v}}
		b.root.Content[i+1] = seq
		b.changed = true
		return seq
	}
}

func (b *Block) index(key string) int {
	for i := 0; i+1 < len(b.root.Content); i += 2 {
		if b.root.Content[i].Value == key {
			return i
		}
	}
	return -1
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || (n.Tag == "" && n.Value == ""))
}

func refNode(ref string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.DoubleQuotedStyle, Value: ref}
}

func sameRef(n *yaml.Node, ref string) bool {
	return n.Kind == yaml.ScalarNode && StripEmbed(n.Value) == ref
}

// StripEmbed turns an embed reference (![[x]]) into a plain one ([[x]]).
// Both forms point at the same document.
func StripEmbed(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "![[") && strings.HasSuffix(ref, "]]") {
		return ref[1:]
	}
	return ref
}
