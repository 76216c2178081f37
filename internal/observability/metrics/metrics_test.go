package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/healthz":                                   "/healthz",
		"/v1/documents":                              "/v1/documents",
		"/v1/documents/abc/versions":                 "/v1/documents/{document_id}/versions",
		"/v1/public/documents/p1/completions":        "/v1/public/documents/{public_id}/completions",
		"/v1/workspaces/ws-1/members/u-9/license":    "/v1/workspaces/{workspace_id}/members/{user_id}/license",
		"/v1/workspaces/ws-1/analytics.xlsx":         "/v1/workspaces/{workspace_id}/analytics.xlsx",
		"/v1/documents/abc/evidence/verify":          "/v1/documents/{document_id}/evidence/verify",
		"/v1/documents/abc/notification-preference/": "/v1/documents/{document_id}/notification-preference",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/documents/d1/versions", nil))

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodPost, "/v1/documents/{document_id}/versions", "409"))
	if got != 1 {
		t.Fatalf("expected one recorded request, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "ackdesk_http_requests_total") {
		t.Fatalf("expected exposition to include request counter")
	}
}

func TestDomainMetrics(t *testing.T) {
	m := NewDomainMetrics(NewHTTPServerMetrics("api").Registerer())

	m.ObserveCompletion(true)
	m.ObserveCompletion(false)
	m.ObserveCompletion(true)
	m.ObserveLicense("assign", domain.Errorf(domain.ErrSeatLimitExceeded, "assign", "full"))
	m.ObserveLicense("assign", nil)
	m.ObserveMail(domain.TemplateShareLink, false)
	m.ObserveBreakerState("smtp.send", "open")

	if got := testutil.ToFloat64(m.completionsRecorded.WithLabelValues("true")); got != 2 {
		t.Fatalf("expected 2 acknowledged completions, got %v", got)
	}
	if got := testutil.ToFloat64(m.licenseOperations.WithLabelValues("assign", "seat_limit_exceeded")); got != 1 {
		t.Fatalf("expected seat limit outcome, got %v", got)
	}
	if got := testutil.ToFloat64(m.mailDeliveries.WithLabelValues("share_link", "failed")); got != 1 {
		t.Fatalf("expected failed delivery, got %v", got)
	}
	if testutil.ToFloat64(m.breakerState.WithLabelValues("smtp.send", "open")) != 1 ||
		testutil.ToFloat64(m.breakerState.WithLabelValues("smtp.send", "closed")) != 0 {
		t.Fatalf("expected only the open state to be set")
	}
}

func TestWorkerMetricsAttention(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.ObserveAttention("worker", map[domain.AttentionCategory]int{
		domain.AttentionOverdue: 3,
		domain.AttentionNone:    40,
	}, time.Second)

	if got := testutil.ToFloat64(m.attention.WithLabelValues("worker", "overdue")); got != 3 {
		t.Fatalf("expected overdue gauge 3, got %v", got)
	}
	if got := testutil.CollectAndCount(m.attention); got != 1 {
		t.Fatalf("expected none category to be skipped, got %d series", got)
	}

	m.StartNotification()
	m.FinishNotification("worker", time.Millisecond, errors.New("smtp down"))
	if got := testutil.ToFloat64(m.processTotal.WithLabelValues("worker", "error")); got != 1 {
		t.Fatalf("expected error outcome, got %v", got)
	}
}
