// Package canvas models JSON canvas files and the live graph the host edits.
package canvas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/starford/tether/internal/geometry"
)

// Ext is the file extension of canvas files.
const Ext = ".canvas"

// Kind tags the variant of a node.
type Kind string

// Node kinds.
const (
	KindFile  Kind = "file"
	KindText  Kind = "text"
	KindGroup Kind = "group"
	KindLink  Kind = "link"
)

// Node is a vertex on the canvas. Only file nodes are backed by a document.
type Node struct {
	ID      string  `json:"id"`
	Type    Kind    `json:"type"`
	File    string  `json:"file,omitempty"`
	Subpath string  `json:"subpath,omitempty"`
	Text    string  `json:"text,omitempty"`
	URL     string  `json:"url,omitempty"`
	Label   string  `json:"label,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Color   string  `json:"color,omitempty"`
}

// DocumentPath returns the vault path of the backing document, if any.
func (n Node) DocumentPath() (string, bool) {
	if n.Type != KindFile || n.File == "" {
		return "", false
	}
	return n.File, true
}

// HasGeometry reports whether the node has a usable box.
func (n Node) HasGeometry() bool {
	return n.Width > 0 && n.Height > 0
}

// Box returns the node's bounding box.
func (n Node) Box() geometry.Box {
	return geometry.Box{X: n.X, Y: n.Y, Width: n.Width, Height: n.Height}
}

// Edge is a directed connector between two nodes.
type Edge struct {
	ID       string        `json:"id"`
	FromNode string        `json:"fromNode"`
	FromSide geometry.Side `json:"fromSide,omitempty"`
	FromEnd  string        `json:"fromEnd,omitempty"`
	ToNode   string        `json:"toNode"`
	ToSide   geometry.Side `json:"toSide,omitempty"`
	ToEnd    string        `json:"toEnd,omitempty"`
	Color    string        `json:"color,omitempty"`
	Label    string        `json:"label,omitempty"`
}

// Reroute assigns e the sides that face each other for the current boxes of
// from and to. It reports whether the sides changed.
func Reroute(e Edge, from, to Node) (Edge, bool) {
	fs, ts := geometry.Route(from.Box(), to.Box())
	if e.FromSide == fs && e.ToSide == ts {
		return e, false
	}
	e.FromSide, e.ToSide = fs, ts
	return e, true
}

// Data is a full snapshot of one canvas.
type Data struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Clone returns a deep copy of d.
func (d Data) Clone() Data {
	out := Data{
		Nodes: make([]Node, len(d.Nodes)),
		Edges: make([]Edge, len(d.Edges)),
	}
	copy(out.Nodes, d.Nodes)
	copy(out.Edges, d.Edges)
	return out
}

// Node returns the node with the given id.
func (d Data) Node(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Edge returns the edge with the given id.
func (d Data) Edge(id string) (Edge, bool) {
	for _, e := range d.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return Edge{}, false
}

// Outgoing returns the edges leaving the given node.
func (d Data) Outgoing(nodeID string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.FromNode == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Documents returns the distinct document paths of all file nodes, in node order.
func (d Data) Documents() []string {
	seen := make(map[string]struct{}, len(d.Nodes))
	var out []string
	for _, n := range d.Nodes {
		p, ok := n.DocumentPath()
		if !ok {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Decode parses canvas JSON. Empty input yields an empty canvas.
func Decode(raw []byte) (Data, error) {
	var d Data
	if len(bytes.TrimSpace(raw)) == 0 {
		return Data{Nodes: []Node{}, Edges: []Edge{}}, nil
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return Data{}, fmt.Errorf("canvas: decode: %w", err)
	}
	if d.Nodes == nil {
		d.Nodes = []Node{}
	}
	if d.Edges == nil {
		d.Edges = []Edge{}
	}
	return d, nil
}

// Encode serialises d the way the host writes canvas files (tab indented).
func Encode(d Data) ([]byte, error) {
	if d.Nodes == nil {
		d.Nodes = []Node{}
	}
	if d.Edges == nil {
		d.Edges = []Edge{}
	}
	out, err := json.MarshalIndent(d, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("canvas: encode: %w", err)
	}
	return out, nil
}

// IsCanvasPath reports whether p names a canvas file.
func IsCanvasPath(p string) bool {
	return strings.EqualFold(path.Ext(p), Ext)
}

// PropertyName returns the frontmatter key used for the canvas at p: its
// base name without extension.
func PropertyName(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
