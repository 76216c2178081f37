package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

const (
	maxJSONBodyBytes   = 1 << 20
	multipartMemory    = 8 << 20
	multipartOverhead  = 1 << 20
	defaultUploadBytes = 25 << 20
)

type createDocumentMeta struct {
	WorkspaceID              string                    `json:"workspace_id"`
	Title                    string                    `json:"title"`
	VersionLabel             string                    `json:"version_label"`
	Tags                     map[string]string         `json:"tags"`
	Priority                 string                    `json:"priority"`
	Labels                   []string                  `json:"labels"`
	MaxAcknowledgers         *int                      `json:"max_acknowledgers"`
	RequireRecipientIdentity bool                      `json:"require_recipient_identity"`
	Password                 string                    `json:"password"`
	Recipients               domain.RecipientSelection `json:"recipients"`
	SendEmail                bool                      `json:"send_email"`
}

func (rt *Router) createDocument(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	file, header, ok := rt.readUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

	var meta createDocumentMeta
	if raw := strings.TrimSpace(r.FormValue("meta")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			writeBadRequest(w, r, "multipart field 'meta' must be a JSON object")
			return
		}
	}

	result, err := rt.svc.Documents.CreateDocument(r.Context(), ports.CreateDocumentCommand{
		Caller:       caller,
		WorkspaceID:  meta.WorkspaceID,
		Title:        meta.Title,
		File:         uploadFrom(file, header),
		VersionLabel: meta.VersionLabel,
		Tags:         meta.Tags,
		Priority:     meta.Priority,
		Labels:       meta.Labels,
		Rules: domain.DocumentRules{
			MaxAcknowledgers:         meta.MaxAcknowledgers,
			RequireRecipientIdentity: meta.RequireRecipientIdentity,
		},
		Password:   meta.Password,
		Recipients: meta.Recipients,
		SendEmail:  meta.SendEmail,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (rt *Router) addVersion(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	file, header, ok := rt.readUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

	var versionNumber *int
	if raw := strings.TrimSpace(r.FormValue("version_number")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, r, "version_number must be an integer")
			return
		}
		versionNumber = &n
	}

	result, err := rt.svc.Documents.AddVersion(r.Context(), ports.AddVersionCommand{
		Caller:        caller,
		DocumentID:    chi.URLParam(r, "documentID"),
		File:          uploadFrom(file, header),
		VersionNumber: versionNumber,
		VersionLabel:  r.FormValue("version_label"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	detail, err := rt.svc.Documents.GetDetail(r.Context(), caller, chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (rt *Router) currentVersion(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	version, err := rt.svc.Documents.GetCurrentVersion(r.Context(), caller, chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (rt *Router) notifyRecipients(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	var selection domain.RecipientSelection
	if !decodeJSON(w, r, &selection) {
		return
	}
	summary, err := rt.svc.Delivery.NotifyRecipients(r.Context(), caller, chi.URLParam(r, "documentID"), selection)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (rt *Router) setNotificationPreference(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	var req struct {
		Preference string `json:"preference"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	pref, ok := domain.ParseNotifyPreference(req.Preference)
	if !ok {
		writeBadRequest(w, r, "preference must be one of ask, always, never")
		return
	}
	if err := rt.svc.Documents.SetNotificationPreference(r.Context(), caller, chi.URLParam(r, "documentID"), pref); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"preference": string(pref)})
}

func (rt *Router) resolveRecipients(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	var req struct {
		WorkspaceID string `json:"workspace_id"`
		domain.RecipientSelection
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	resolution, err := rt.svc.Delivery.ResolveRecipients(r.Context(), caller, req.WorkspaceID, req.RecipientSelection)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

func (rt *Router) exportEvidence(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	documentID := chi.URLParam(r, "documentID")
	data, err := rt.svc.Evidence.ExportEvidence(r.Context(), caller, documentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="evidence-%s.json"`, documentID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (rt *Router) verifyEvidence(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16*maxJSONBodyBytes))
	if err != nil {
		writeBadRequest(w, r, "evidence body is too large or unreadable")
		return
	}
	diffs, err := rt.svc.Evidence.VerifyEvidence(r.Context(), caller, chi.URLParam(r, "documentID"), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if diffs == nil {
		diffs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"match": len(diffs) == 0, "differences": diffs})
}

// readUpload parses the multipart body and returns the "file" part. It
// writes the error response itself when ok is false.
func (rt *Router) readUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	limit := rt.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = defaultUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeBadRequest(w, r, fmt.Sprintf("upload exceeds %d bytes", limit))
			return nil, nil, false
		}
		writeBadRequest(w, r, "multipart form body is required")
		return nil, nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, r, "multipart field 'file' is required")
		return nil, nil, false
	}
	return file, header, true
}

func uploadFrom(file multipart.File, header *multipart.FileHeader) ports.FileUpload {
	return ports.FileUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeBadRequest(w, r, "request body is required")
			return false
		}
		writeBadRequest(w, r, "invalid json")
		return false
	}
	return true
}
