package httpadapter

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

const (
	dayLayout         = "2006-01-02"
	defaultRangeDays  = 30
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	licenseOpAssigned = "assigned"
)

func (rt *Router) quota(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	status, err := rt.svc.Quota.AccountQuota(r.Context(), caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) workspaceAnalytics(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	query, err := rt.parseAnalyticsQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	analytics, err := rt.svc.Analytics.WorkspaceAnalytics(r.Context(), caller, query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (rt *Router) workspaceWorkbook(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	query, err := rt.parseAnalyticsQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := rt.svc.Analytics.WorkspaceWorkbook(r.Context(), caller, query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	loc := query.Location
	filename := fmt.Sprintf("analytics-%s-%s-%s.xlsx",
		query.Scope.WorkspaceID, query.From.In(loc).Format(dayLayout), query.To.In(loc).Format(dayLayout))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseAnalyticsQuery reads from/to as calendar days in tz. The range
// defaults to the last 30 days ending today. window ("7d", "all", ...)
// narrows the completion metrics population.
func (rt *Router) parseAnalyticsQuery(r *http.Request) (domain.AnalyticsQuery, error) {
	const op = "parse analytics query"
	q := r.URL.Query()

	loc := time.UTC
	if tz := strings.TrimSpace(q.Get("tz")); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return domain.AnalyticsQuery{}, domain.Errorf(domain.ErrValidation, op, "unknown time zone %q", tz)
		}
		loc = parsed
	}

	now := rt.now().In(loc)
	to := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, loc)
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		day, err := time.ParseInLocation(dayLayout, raw, loc)
		if err != nil {
			return domain.AnalyticsQuery{}, domain.Errorf(domain.ErrValidation, op, "to must be YYYY-MM-DD")
		}
		to = day.Add(24*time.Hour - time.Second)
	}
	from := time.Date(to.Year(), to.Month(), to.Day()-(defaultRangeDays-1), 0, 0, 0, 0, loc)
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		day, err := time.ParseInLocation(dayLayout, raw, loc)
		if err != nil {
			return domain.AnalyticsQuery{}, domain.Errorf(domain.ErrValidation, op, "from must be YYYY-MM-DD")
		}
		from = day
	}

	query := domain.AnalyticsQuery{
		Scope:    domain.AnalyticsScope{WorkspaceID: chi.URLParam(r, "workspaceID")},
		From:     from,
		To:       to,
		Location: loc,
	}
	since, err := parseWindow(q.Get("window"), rt.now())
	if err != nil {
		return domain.AnalyticsQuery{}, domain.WrapError(domain.ErrValidation, op, err)
	}
	query.CompletionsSince = since
	return query, nil
}

func parseWindow(raw string, now time.Time) (*time.Time, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "all" {
		return nil, nil
	}
	days, ok := strings.CutSuffix(raw, "d")
	if !ok {
		return nil, fmt.Errorf("window must look like 30d or all, got %q", raw)
	}
	n, err := strconv.Atoi(days)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("window must be a positive number of days, got %q", raw)
	}
	since := now.UTC().AddDate(0, 0, -n)
	return &since, nil
}

func (rt *Router) seatUsage(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	usage, err := rt.svc.Seats.SeatUsage(r.Context(), caller, chi.URLParam(r, "workspaceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (rt *Router) assignLicense(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	err := rt.svc.Seats.AssignLicense(r.Context(), caller, chi.URLParam(r, "workspaceID"), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"license": licenseOpAssigned})
}

func (rt *Router) revokeLicense(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	err := rt.svc.Seats.RevokeLicense(r.Context(), caller, chi.URLParam(r, "workspaceID"), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) changeRole(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFromContext(r.Context())
	var req struct {
		Role string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		writeBadRequest(w, r, "role must be one of owner, admin, member")
		return
	}
	err := rt.svc.Seats.ChangeRole(r.Context(), caller, chi.URLParam(r, "workspaceID"), chi.URLParam(r, "userID"), role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"role": string(role)})
}
