package httpadapter

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

type completionRequest struct {
	VersionID    string                   `json:"version_id"`
	RecipientID  *string                  `json:"recipient_id"`
	Identity     domain.RecipientIdentity `json:"identity"`
	Acknowledged bool                     `json:"acknowledged"`
	Metrics      domain.CompletionMetrics `json:"metrics"`
}

type completionResponse struct {
	Accepted     bool   `json:"accepted"`
	CompletionID string `json:"completion_id"`
}

func (rt *Router) completionCommand(r *http.Request, req completionRequest) ports.RecordCompletionCommand {
	ip := clientIP(r)
	cmd := ports.RecordCompletionCommand{
		Password:     r.Header.Get(passwordHeader),
		VersionID:    req.VersionID,
		RecipientID:  req.RecipientID,
		Identity:     req.Identity,
		Acknowledged: req.Acknowledged,
		Metrics:      req.Metrics,
		IP:           &ip,
		SubmittedAt:  rt.now().UTC(),
	}
	if ua := r.UserAgent(); ua != "" {
		cmd.UserAgent = &ua
	}
	return cmd
}

func (rt *Router) recordCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cmd := rt.completionCommand(r, req)
	cmd.Caller, _ = callerFromContext(r.Context())
	cmd.DocumentID = chi.URLParam(r, "documentID")

	completion, err := rt.svc.Completions.RecordCompletion(r.Context(), cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, completionResponse{Accepted: true, CompletionID: completion.ID})
}

func (rt *Router) documentStatus(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	status, err := rt.svc.Completions.GetStatus(r.Context(), caller, chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) listCompletions(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	completions, err := rt.svc.Completions.ListCompletions(r.Context(), caller, chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if completions == nil {
		completions = []domain.Completion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"completions": completions})
}
