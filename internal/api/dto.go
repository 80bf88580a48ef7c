package api

import (
	"errors"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/geometry"
	"github.com/starford/tether/internal/linker"
	"github.com/starford/tether/internal/vault"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Path    string `json:"path" example:"notes/hello.md" validate:"required"`
	Content string `json:"content" example:"# Hello\nWorld" validate:"required"`
}

// Validate validates the request.
func (r CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required, validation.By(vaultPath)),
		validation.Field(&r.Content, validation.Required),
	)
}

// UpdateNoteRequest is the request body for updating a note.
type UpdateNoteRequest struct {
	Content string `json:"content" example:"# Updated\nContent" validate:"required"`
}

// Validate validates the request.
func (r UpdateNoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.Required),
	)
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = vault.NoteDetail

// NoteListItem is a lightweight item in a list response (aliased from the domain layer).
type NoteListItem = vault.NoteListItem

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Path    string `json:"path" example:"notes/hello.md" validate:"required"`
	Title   string `json:"title" example:"Hello" validate:"required"`
	Snippet string `json:"snippet" example:"...matched text..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// BacklinksResponse lists the files linking to a path.
type BacklinksResponse struct {
	Path      string   `json:"path" example:"notes/hello.md" validate:"required"`
	Backlinks []string `json:"backlinks" validate:"required"`
}

// CanvasResponse is the state of an open canvas.
type CanvasResponse struct {
	Path     string        `json:"path" example:"Board.canvas" validate:"required"`
	Nodes    []canvas.Node `json:"nodes" validate:"required"`
	Edges    []canvas.Edge `json:"edges" validate:"required"`
	Selected []string      `json:"selected" validate:"required"`
}

// CanvasPathRequest names a canvas file.
type CanvasPathRequest struct {
	Path string `json:"path" example:"Board.canvas" validate:"required"`
}

// Validate validates the request.
func (r CanvasPathRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required, validation.By(canvasFile)),
	)
}

// RenameCanvasRequest moves a canvas file.
type RenameCanvasRequest struct {
	From string `json:"from" example:"Board.canvas" validate:"required"`
	To   string `json:"to" example:"Plan.canvas" validate:"required"`
}

// Validate validates the request.
func (r RenameCanvasRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.From, validation.Required, validation.By(canvasFile)),
		validation.Field(&r.To, validation.Required, validation.By(canvasFile), validation.NotIn(r.From).Error("must differ from from")),
	)
}

// SelectionRequest replaces the selection of a canvas.
type SelectionRequest struct {
	IDs []string `json:"ids" example:"a,b"`
}

// Validate validates the request.
func (r SelectionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.IDs, validation.Each(validation.Required)),
	)
}

// NodeRequest adds a node to a canvas.
type NodeRequest struct {
	ID     string      `json:"id,omitempty" example:"n1"`
	Type   canvas.Kind `json:"type" example:"file" validate:"required"`
	File   string      `json:"file,omitempty" example:"notes/hello.md"`
	Text   string      `json:"text,omitempty"`
	URL    string      `json:"url,omitempty"`
	Label  string      `json:"label,omitempty"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
	Width  float64     `json:"width" example:"400"`
	Height float64     `json:"height" example:"300"`
	Color  string      `json:"color,omitempty"`
}

// Validate validates the request.
func (r NodeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Type, validation.Required,
			validation.In(canvas.KindFile, canvas.KindText, canvas.KindGroup, canvas.KindLink)),
		validation.Field(&r.File, validation.When(r.Type == canvas.KindFile, validation.Required, validation.By(vaultPath))),
		validation.Field(&r.URL, validation.When(r.Type == canvas.KindLink, validation.Required)),
		validation.Field(&r.Width, validation.Min(0.0)),
		validation.Field(&r.Height, validation.Min(0.0)),
	)
}

// Node converts the request to a canvas node.
func (r NodeRequest) Node() canvas.Node {
	return canvas.Node{
		ID: r.ID, Type: r.Type, File: r.File, Text: r.Text, URL: r.URL, Label: r.Label,
		X: r.X, Y: r.Y, Width: r.Width, Height: r.Height, Color: r.Color,
	}
}

// MoveNodeRequest repositions a node.
type MoveNodeRequest struct {
	X float64 `json:"x" example:"120"`
	Y float64 `json:"y" example:"-40"`
}

// Validate accepts any position.
func (r MoveNodeRequest) Validate() error { return nil }

// EdgeRequest adds or replaces an edge. Sides are optional; missing sides
// are routed from the node boxes.
type EdgeRequest struct {
	ID       string        `json:"id,omitempty" example:"e1"`
	FromNode string        `json:"fromNode" example:"a" validate:"required"`
	FromSide geometry.Side `json:"fromSide,omitempty" example:"right"`
	ToNode   string        `json:"toNode" example:"b" validate:"required"`
	ToSide   geometry.Side `json:"toSide,omitempty" example:"left"`
	Label    string        `json:"label,omitempty"`
	Color    string        `json:"color,omitempty"`
}

// Validate validates the request.
func (r EdgeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FromNode, validation.Required),
		validation.Field(&r.ToNode, validation.Required),
		validation.Field(&r.FromSide, validation.By(side)),
		validation.Field(&r.ToSide, validation.By(side)),
	)
}

// Edge converts the request to a canvas edge.
func (r EdgeRequest) Edge() canvas.Edge {
	return canvas.Edge{
		ID: r.ID, FromNode: r.FromNode, FromSide: r.FromSide,
		ToNode: r.ToNode, ToSide: r.ToSide, Label: r.Label, Color: r.Color,
	}
}

// LinkResponse reports what a link command did.
type LinkResponse = linker.Result

// StripResponse reports how many documents a strip command changed.
type StripResponse struct {
	Documents int `json:"documents" example:"3" validate:"required"`
}

// RouteResponse is the side assignment for two boxes.
type RouteResponse struct {
	FromSide geometry.Side `json:"fromSide" example:"right" validate:"required"`
	ToSide   geometry.Side `json:"toSide" example:"left" validate:"required"`
	Angle    float64       `json:"angle" example:"0" validate:"required"`
}

// AttachmentUploadResponse is returned after a successful attachment upload.
type AttachmentUploadResponse struct {
	Path string `json:"path" example:"attachments/image.png" validate:"required"`
	Size int64  `json:"size" example:"12345" validate:"required"`
	Ref  string `json:"ref" example:"![[image.png]]" validate:"required"`
}

func vaultPath(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "/") || path.Clean(s) != s || strings.HasPrefix(s, "../") || s == ".." {
		return errors.New("must be a relative vault path")
	}
	return nil
}

func canvasFile(value interface{}) error {
	if err := vaultPath(value); err != nil {
		return err
	}
	if s, _ := value.(string); s != "" && !canvas.IsCanvasPath(s) {
		return errors.New("must be a .canvas file")
	}
	return nil
}

func side(value interface{}) error {
	s, _ := value.(geometry.Side)
	if s == "" || s.Valid() {
		return nil
	}
	return errors.New("must be one of top, bottom, left, right")
}
