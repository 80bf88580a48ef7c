package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tether/internal/apperr"
	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/geometry"
)

// canvasFromQuery opens the canvas named by the "path" query parameter.
// It writes the error response itself and returns nil on failure.
func (h *Handler) canvasFromQuery(w http.ResponseWriter, r *http.Request) *canvas.Canvas {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'path' is required"))
		return nil
	}
	c, err := h.workspace.Open(p)
	if err != nil {
		writeError(w, "open canvas", err, slog.String("canvas", p))
		return nil
	}
	return c
}

// saveAndRespond persists c and answers with its current state.
func (h *Handler) saveAndRespond(w http.ResponseWriter, status int, c *canvas.Canvas) {
	if err := h.workspace.Save(c); err != nil {
		writeError(w, "save canvas", err, slog.String("canvas", c.Path()))
		return
	}
	writeJSON(w, status, canvasResponse(c))
}

func canvasResponse(c *canvas.Canvas) CanvasResponse {
	d := c.Snapshot()
	selected := make([]string, 0)
	for _, n := range c.SelectedNodes() {
		selected = append(selected, n.ID)
	}
	return CanvasResponse{Path: c.Path(), Nodes: d.Nodes, Edges: d.Edges, Selected: selected}
}

// GetCanvas handles GET /api/canvas.
//
//	@Summary		Open a canvas and return its graph
//	@Tags			canvas
//	@Produce		json
//	@Param			path	query		string	true	"Canvas path"
//	@Success		200		{object}	CanvasResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas [get]
func (h *Handler) GetCanvas(w http.ResponseWriter, r *http.Request) {
	c := h.canvasFromQuery(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, canvasResponse(c))
}

// CreateCanvas handles POST /api/canvas.
//
//	@Summary		Create an empty canvas
//	@Tags			canvas
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CanvasPathRequest	true	"Canvas to create"
//	@Success		201		{object}	CanvasResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas [post]
func (h *Handler) CreateCanvas(w http.ResponseWriter, r *http.Request) {
	var req CanvasPathRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.workspace.Create(req.Path)
	if err != nil {
		writeError(w, "create canvas", err, slog.String("canvas", req.Path))
		return
	}
	writeJSON(w, http.StatusCreated, canvasResponse(c))
}

// DeleteCanvas handles DELETE /api/canvas. The canvas property is removed
// from every member document.
//
//	@Summary		Delete a canvas
//	@Tags			canvas
//	@Param			path	query	string	true	"Canvas path"
//	@Success		204		"Canvas deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas [delete]
func (h *Handler) DeleteCanvas(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'path' is required"))
		return
	}
	if err := h.workspace.Delete(p); err != nil {
		writeError(w, "delete canvas", err, slog.String("canvas", p))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameCanvas handles POST /api/canvas/rename. The canvas property is
// renamed in every member document.
//
//	@Summary		Rename a canvas
//	@Tags			canvas
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RenameCanvasRequest	true	"Old and new path"
//	@Success		200		{object}	CanvasPathRequest
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas/rename [post]
func (h *Handler) RenameCanvas(w http.ResponseWriter, r *http.Request) {
	var req RenameCanvasRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.workspace.Rename(req.From, req.To); err != nil {
		writeError(w, "rename canvas", err, slog.String("from", req.From), slog.String("to", req.To))
		return
	}
	writeJSON(w, http.StatusOK, CanvasPathRequest{Path: req.To})
}

// SetSelection handles PUT /api/canvas/selection.
//
//	@Summary		Replace the node selection
//	@Tags			canvas
//	@Accept			json
//	@Produce		json
//	@Param			path	query		string				true	"Canvas path"
//	@Param			body	body		SelectionRequest	true	"Selected node ids"
//	@Success		200		{object}	CanvasResponse
//	@Security		BearerAuth
//	@Router			/canvas/selection [put]
func (h *Handler) SetSelection(w http.ResponseWriter, r *http.Request) {
	c := h.canvasFromQuery(w, r)
	if c == nil {
		return
	}
	var req SelectionRequest
	if !decode(w, r, &req) {
		return
	}
	c.Select(req.IDs...)
	writeJSON(w, http.StatusOK, canvasResponse(c))
}

// AddNode handles POST /api/canvas/nodes.
//
//	@Summary		Add a node
//	@Tags			canvas
//	@Accept			json
//	@Produce		json
//	@Param			path	query		string		true	"Canvas path"
//	@Param			body	body		NodeRequest	true	"Node"
//	@Success		201		{object}	CanvasResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas/nodes [post]
func (h *Handler) AddNode(w http.ResponseWriter, r *http.Request) {
	c := h.canvasFromQuery(w, r)
	if c == nil {
		return
	}
	var req NodeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := c.AddNode(req.Node()); err != nil {
		writeError(w, "add node", err, slog.String("canvas", c.Path()))
		return
	}
	h.saveAndRespond(w, http.StatusCreated, c)
}

// MoveNode handles PATCH /api/canvas/nodes/{id}. Connected edges are
// re-routed.
//
//	@Summary		Move a node
//	@Tags			canvas
//	@Accept			json
//	@Produce		json
//	@Param			path	query		string			true	"Canvas path"
//	@Param			id		path		string			true	"Node id"
//	@Param			body	body		MoveNodeRequest	true	"New position"
//	@Success		200		{object}	CanvasResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas/nodes/{id} [patch]
func (h *Handler) MoveNode(w http.ResponseWriter, r *http.Request) {
	c := h.canvasFromQuery(w, r)
	if c == nil {
		return
	}
	var req MoveNodeRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := c.MoveNode(id, req.X, req.Y); err != nil {
		writeError(w, "move node", err, slog.String("canvas", c.Path()), slog.String("node", id))
		return
	}
	h.saveAndRespond(w, http.StatusOK, c)
}

// RemoveNode handles DELETE /api/canvas/nodes/{id}.
//
//	@Summary		Remove a node and its edges
//	@Tags			canvas
//	@Produce		json
//	@Param			path	query		string	true	"Canvas path"
//	@Param			id		path		string	true	"Node id"
//	@Success		200		{object}	CanvasResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas/nodes/{id} [delete]
func (h *Handler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	c := h.canvasFromQuery(w, r)
	if c == nil {
		return
	}
	id := chi.URLParam(r, "id")
	if err := c.RemoveNode(id); err != nil {
		writeError(w, "remove node", err, slog.String("canvas", c.Path()), slog.String("node", id))
		return
	}
	h.saveAndRespond(w, http.StatusOK, c)
}

// AddEdge handles POST /api/canvas/edges.
//
//	@Summary		Connect two nodes
//	@Tags			canvas
//	@Accept			json
//	@Produce		json
//	@Param			path	query		string		true	"Canvas path"
//	@Param			body	body		EdgeRequest	true	"Edge"
//	@Success		201		{object}	CanvasResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas/edges [post]
func (h *Handler) AddEdge(w http.ResponseWriter, r *http.Request) {
	c := h.canvasFromQuery(w, r)
	if c == nil {
		return
	}
	var req EdgeRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := c.AddEdge(req.Edge()); err != nil {
		writeError(w, "add edge", err, slog.String("canvas", c.Path()))
		return
	}
	h.saveAndRespond(w, http.StatusCreated, c)
}

// UpdateEdge handles PUT /api/canvas/edges/{id}, for example when an
// endpoint was dragged to another node.
//
//	@Summary		Replace an edge
//	@Tags			canvas
//	@Accept			json
//	@Produce		json
//	@Param			path	query		string		true	"Canvas path"
//	@Param			id		path		string		true	"Edge id"
//	@Param			body	body		EdgeRequest	true	"Edge"
//	@Success		200		{object}	CanvasResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas/edges/{id} [put]
func (h *Handler) UpdateEdge(w http.ResponseWriter, r *http.Request) {
	c := h.canvasFromQuery(w, r)
	if c == nil {
		return
	}
	var req EdgeRequest
	if !decode(w, r, &req) {
		return
	}
	e := req.Edge()
	e.ID = chi.URLParam(r, "id")
	if err := c.UpdateEdge(e); err != nil {
		writeError(w, "update edge", err, slog.String("canvas", c.Path()), slog.String("edge", e.ID))
		return
	}
	h.saveAndRespond(w, http.StatusOK, c)
}

// RemoveEdge handles DELETE /api/canvas/edges/{id}.
//
//	@Summary		Remove an edge
//	@Tags			canvas
//	@Produce		json
//	@Param			path	query		string	true	"Canvas path"
//	@Param			id		path		string	true	"Edge id"
//	@Success		200		{object}	CanvasResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas/edges/{id} [delete]
func (h *Handler) RemoveEdge(w http.ResponseWriter, r *http.Request) {
	c := h.canvasFromQuery(w, r)
	if c == nil {
		return
	}
	id := chi.URLParam(r, "id")
	if err := c.RemoveEdge(id); err != nil {
		writeError(w, "remove edge", err, slog.String("canvas", c.Path()), slog.String("edge", id))
		return
	}
	h.saveAndRespond(w, http.StatusOK, c)
}

// ClearCanvas handles POST /api/canvas/clear. Document properties are left
// as they are.
//
//	@Summary		Remove every node and edge
//	@Tags			canvas
//	@Produce		json
//	@Param			path	query		string	true	"Canvas path"
//	@Success		200		{object}	CanvasResponse
//	@Security		BearerAuth
//	@Router			/canvas/clear [post]
func (h *Handler) ClearCanvas(w http.ResponseWriter, r *http.Request) {
	c := h.canvasFromQuery(w, r)
	if c == nil {
		return
	}
	c.Clear()
	h.saveAndRespond(w, http.StatusOK, c)
}

// LinkSelection handles POST /api/canvas/link.
//
//	@Summary		Connect selected nodes whose documents link to each other
//	@Tags			canvas
//	@Produce		json
//	@Param			path	query		string	true	"Canvas path"
//	@Success		200		{object}	LinkResponse
//	@Security		BearerAuth
//	@Router			/canvas/link [post]
func (h *Handler) LinkSelection(w http.ResponseWriter, r *http.Request) {
	c := h.canvasFromQuery(w, r)
	if c == nil {
		return
	}
	res, err := h.linker.LinkSelection(r.Context(), c)
	if err != nil {
		writeError(w, "link selection", err, slog.String("canvas", c.Path()))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StripCanvas handles POST /api/canvas/strip.
//
//	@Summary		Remove this canvas's property from its documents
//	@Tags			canvas
//	@Produce		json
//	@Param			path	query		string	true	"Canvas path"
//	@Success		200		{object}	StripResponse
//	@Security		BearerAuth
//	@Router			/canvas/strip [post]
func (h *Handler) StripCanvas(w http.ResponseWriter, r *http.Request) {
	c := h.canvasFromQuery(w, r)
	if c == nil {
		return
	}
	n, err := h.engine.Strip(r.Context(), c.Path(), c.Snapshot().Documents())
	if err != nil {
		writeError(w, "strip canvas", err, slog.String("canvas", c.Path()))
		return
	}
	writeJSON(w, http.StatusOK, StripResponse{Documents: n})
}

// Route handles GET /api/route. Boxes are given as "x,y,width,height".
//
//	@Summary		Preview the sides an edge between two boxes attaches to
//	@Tags			canvas
//	@Produce		json
//	@Param			from	query		string	true	"Source box"	example(0,0,100,60)
//	@Param			to		query		string	true	"Target box"	example(400,0,100,60)
//	@Success		200		{object}	RouteResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/route [get]
func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	from, err := parseBox(r.URL.Query().Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("from: "+err.Error()))
		return
	}
	to, err := parseBox(r.URL.Query().Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("to: "+err.Error()))
		return
	}
	fs, ts := geometry.Route(from, to)
	writeJSON(w, http.StatusOK, RouteResponse{FromSide: fs, ToSide: ts, Angle: geometry.Angle(from, to)})
}

func parseBox(s string) (geometry.Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geometry.Box{}, fmt.Errorf("want x,y,width,height: %w", apperr.ErrInvalid)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geometry.Box{}, fmt.Errorf("%q is not a number: %w", p, apperr.ErrInvalid)
		}
		v[i] = f
	}
	return geometry.Box{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}
