package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

const (
	attachDir      = "attachments"
	maxUploadBytes = 50 << 20 // 50 MB
)

// attachmentPath validates that name is a plain file name and returns its
// vault path under the attachments directory.
func attachmentPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	return path.Join(attachDir, name), nil
}

// UploadAttachment handles POST /api/attachments (multipart/form-data,
// field "file"). The file is stored in the vault and indexed, so it can be
// placed on a canvas as a file node right away.
//
//	@Summary		Upload an attachment into the vault
//	@Tags			attachments
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"File to upload"
//	@Success		201		{object}	AttachmentUploadResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/attachments [post]
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	p, err := attachmentPath(header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if h.vault.Exists(p) {
		writeJSON(w, http.StatusConflict, errorBody("attachment already exists"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	if err := h.vault.Write(p, data); err != nil {
		writeError(w, "upload attachment", err, slog.String("path", p))
		return
	}

	writeJSON(w, http.StatusCreated, AttachmentUploadResponse{
		Path: p,
		Size: int64(len(data)),
		Ref:  h.vault.CanonicalReference(p, ""),
	})
}
