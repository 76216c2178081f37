package httpadapter

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/ackdesk/internal/core/ports"
)

const passwordHeader = "X-Document-Password"

func (rt *Router) publicView(w http.ResponseWriter, r *http.Request) {
	view, err := rt.svc.Documents.PublicView(r.Context(), chi.URLParam(r, "publicID"), r.Header.Get(passwordHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) publicContent(w http.ResponseWriter, r *http.Request) {
	body, version, err := rt.svc.Documents.OpenPublicContent(r.Context(), chi.URLParam(r, "publicID"), r.Header.Get(passwordHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	contentType := version.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if version.SizeBytes > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(version.SizeBytes))
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": version.Filename}))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("public_content_stream_failed",
			"request_id", requestIDFromContext(r.Context()),
			"version_id", version.ID,
			"error", err,
		)
	}
}

func (rt *Router) publicCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	completion, err := rt.svc.Completions.RecordPublicCompletion(r.Context(), ports.PublicCompletionCommand{
		PublicID:                chi.URLParam(r, "publicID"),
		RecordCompletionCommand: rt.completionCommand(r, req),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, completionResponse{Accepted: true, CompletionID: completion.ID})
}
