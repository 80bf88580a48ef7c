package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(d Deps, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(d)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/*", h.GetNote)
	r.Put("/notes/*", h.UpdateNote)
	r.Delete("/notes/*", h.DeleteNote)

	r.Get("/search", h.Search)
	r.Get("/backlinks", h.Backlinks)
	r.Get("/route", h.Route)

	// Canvas editing. The canvas is named by the "path" query parameter.
	r.Route("/canvas", func(r chi.Router) {
		r.Get("/", h.GetCanvas)
		r.Post("/", h.CreateCanvas)
		r.Delete("/", h.DeleteCanvas)
		r.Post("/rename", h.RenameCanvas)
		r.Put("/selection", h.SetSelection)
		r.Post("/nodes", h.AddNode)
		r.Patch("/nodes/{id}", h.MoveNode)
		r.Delete("/nodes/{id}", h.RemoveNode)
		r.Post("/edges", h.AddEdge)
		r.Put("/edges/{id}", h.UpdateEdge)
		r.Delete("/edges/{id}", h.RemoveEdge)
		r.Post("/clear", h.ClearCanvas)
		r.Post("/link", h.LinkSelection)
		r.Post("/strip", h.StripCanvas)
	})

	r.Post("/attachments", h.UploadAttachment)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
