package httpadapter

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kirillkom/ackdesk/internal/config"
	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

const testSecret = "test-secret"

type documentsFake struct {
	createCmd  ports.CreateDocumentCommand
	createBody string
	addCmd     ports.AddVersionCommand
	password   string
	err        error
}

func (f *documentsFake) CreateDocument(_ context.Context, cmd ports.CreateDocumentCommand) (*ports.CreateDocumentResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, _ := io.ReadAll(cmd.File.Body)
	f.createCmd, f.createBody = cmd, string(raw)
	return &ports.CreateDocumentResult{
		Document: &domain.Document{ID: "doc-1", Title: cmd.Title},
		ShareURL: "https://ack.example.com/d/pub-1",
	}, nil
}

func (f *documentsFake) AddVersion(_ context.Context, cmd ports.AddVersionCommand) (*ports.AddVersionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.addCmd = cmd
	return &ports.AddVersionResult{
		Version:      &domain.DocumentVersion{ID: "v2", VersionNumber: 2},
		VersionLabel: "2",
		Notify:       domain.NotifyAsk,
	}, nil
}

func (f *documentsFake) GetCurrentVersion(context.Context, domain.Caller, string) (*domain.DocumentVersion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DocumentVersion{ID: "v1", VersionNumber: 1}, nil
}

func (f *documentsFake) GetDetail(_ context.Context, _ domain.Caller, id string) (*ports.DocumentDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ports.DocumentDetail{Document: &domain.Document{ID: id}}, nil
}

func (f *documentsFake) SetNotificationPreference(context.Context, domain.Caller, string, domain.NotifyPreference) error {
	return f.err
}

func (f *documentsFake) PublicView(_ context.Context, publicID, password string) (*ports.PublicDocumentView, error) {
	f.password = password
	if f.err != nil {
		return nil, f.err
	}
	return &ports.PublicDocumentView{PublicID: publicID, Title: "Policy", VersionNumber: 1}, nil
}

func (f *documentsFake) OpenPublicContent(_ context.Context, _ string, password string) (io.ReadCloser, *domain.DocumentVersion, error) {
	f.password = password
	if f.err != nil {
		return nil, nil, f.err
	}
	return io.NopCloser(strings.NewReader("%PDF-1.4")), &domain.DocumentVersion{
		ID:          "v1",
		Filename:    "policy.pdf",
		ContentType: "application/pdf",
		SizeBytes:   8,
	}, nil
}

type completionsFake struct {
	cmd       ports.RecordCompletionCommand
	publicCmd ports.PublicCompletionCommand
	err       error
}

func (f *completionsFake) RecordCompletion(_ context.Context, cmd ports.RecordCompletionCommand) (*domain.Completion, error) {
	f.cmd = cmd
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Completion{ID: "c-1"}, nil
}

func (f *completionsFake) RecordPublicCompletion(_ context.Context, cmd ports.PublicCompletionCommand) (*domain.Completion, error) {
	f.publicCmd = cmd
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Completion{ID: "c-2"}, nil
}

func (f *completionsFake) GetStatus(context.Context, domain.Caller, string) (domain.StatusSummary, error) {
	return domain.StatusSummary{Status: domain.StatePending}, f.err
}

func (f *completionsFake) ListCompletions(context.Context, domain.Caller, string) ([]domain.Completion, error) {
	return nil, f.err
}

type deliveryFake struct {
	selection domain.RecipientSelection
	workspace string
}

func (f *deliveryFake) ResolveRecipients(_ context.Context, _ domain.Caller, workspaceID string, selection domain.RecipientSelection) (*domain.Resolution, error) {
	f.workspace, f.selection = workspaceID, selection
	return &domain.Resolution{Recipients: []domain.ResolvedRecipient{{Email: "a@x.com", Source: domain.SourceManual}}}, nil
}

func (f *deliveryFake) NotifyRecipients(_ context.Context, _ domain.Caller, _ string, selection domain.RecipientSelection) (*domain.MailSummary, error) {
	f.selection = selection
	return &domain.MailSummary{Sent: len(selection.Manual), Failed: []string{}}, nil
}

type seatsFake struct {
	caller domain.Caller
	role   domain.Role
	err    error
}

func (f *seatsFake) AssignLicense(_ context.Context, caller domain.Caller, _, _ string) error {
	f.caller = caller
	return f.err
}

func (f *seatsFake) RevokeLicense(_ context.Context, caller domain.Caller, _, _ string) error {
	f.caller = caller
	return f.err
}

func (f *seatsFake) ChangeRole(_ context.Context, _ domain.Caller, _, _ string, role domain.Role) error {
	f.role = role
	return f.err
}

func (f *seatsFake) SeatUsage(context.Context, domain.Caller, string) (domain.SeatUsage, error) {
	return domain.NewSeatUsage(2, 5), f.err
}

type quotaFake struct{}

func (quotaFake) CheckQuota(context.Context, string, domain.Plan) (domain.QuotaStatus, error) {
	return domain.QuotaStatus{}, nil
}

func (quotaFake) AccountQuota(_ context.Context, caller domain.Caller) (domain.QuotaStatus, error) {
	return domain.QuotaStatus{Plan: domain.PlanFree, Window: domain.QuotaWindowTotal, Used: 3, Limit: 10, Remaining: 7}, nil
}

type analyticsFake struct {
	query domain.AnalyticsQuery
}

func (f *analyticsFake) WorkspaceAnalytics(_ context.Context, _ domain.Caller, query domain.AnalyticsQuery) (*domain.WorkspaceAnalytics, error) {
	f.query = query
	return &domain.WorkspaceAnalytics{WorkspaceID: query.Scope.WorkspaceID}, nil
}

func (f *analyticsFake) WorkspaceWorkbook(_ context.Context, _ domain.Caller, query domain.AnalyticsQuery) ([]byte, error) {
	f.query = query
	return []byte("PK\x03\x04"), nil
}

type evidenceFake struct {
	received []byte
	diffs    []string
}

func (f *evidenceFake) ExportEvidence(context.Context, domain.Caller, string) ([]byte, error) {
	return []byte(`{"schema":"ackdesk.evidence/v1"}`), nil
}

func (f *evidenceFake) VerifyEvidence(_ context.Context, _ domain.Caller, _ string, data []byte) ([]string, error) {
	f.received = data
	return f.diffs, nil
}

type testHarness struct {
	documents   *documentsFake
	completions *completionsFake
	delivery    *deliveryFake
	seats       *seatsFake
	analytics   *analyticsFake
	evidence    *evidenceFake
	router      *Router
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:      testSecret,
		JWTIssuer:      "ackdesk",
		MaxUploadBytes: 1 << 20,
	}
}

func newTestHarness(cfg config.Config) *testHarness {
	h := &testHarness{
		documents:   &documentsFake{},
		completions: &completionsFake{},
		delivery:    &deliveryFake{},
		seats:       &seatsFake{},
		analytics:   &analyticsFake{},
		evidence:    &evidenceFake{},
	}
	h.router = NewRouter(cfg, Services{
		Documents:   h.documents,
		Completions: h.completions,
		Delivery:    h.delivery,
		Seats:       h.seats,
		Quota:       quotaFake{},
		Analytics:   h.analytics,
		Evidence:    h.evidence,
	}, nil, nil)
	h.router.now = func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) }
	return h
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := Claims{
		Email: subject + "@example.com",
		Name:  "Test " + subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "ackdesk",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}
