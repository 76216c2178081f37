package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

// FileUpload is the raw file of a create or add-version request.
type FileUpload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type CreateDocumentCommand struct {
	Caller       domain.Caller
	WorkspaceID  string
	Title        string
	File         FileUpload
	VersionLabel string
	Tags         map[string]string
	Priority     string
	Labels       []string
	Rules        domain.DocumentRules
	Password     string
	Recipients   domain.RecipientSelection
	SendEmail    bool
}

type CreateDocumentResult struct {
	Document     *domain.Document           `json:"document"`
	Version      *domain.DocumentVersion    `json:"version"`
	ShareURL     string                     `json:"share_url"`
	Recipients   []domain.ResolvedRecipient `json:"recipients"`
	Invalid      []string                   `json:"invalid_recipients"`
	EmailSummary *domain.MailSummary        `json:"email_summary,omitempty"`
}

type AddVersionCommand struct {
	Caller        domain.Caller
	DocumentID    string
	File          FileUpload
	VersionNumber *int
	VersionLabel  string
}

type AddVersionResult struct {
	Version      *domain.DocumentVersion `json:"version"`
	VersionLabel string                  `json:"version_label"`
	Notify       domain.NotifyPreference `json:"notify"`
	Queued       bool                    `json:"notification_queued"`
}

type DocumentDetail struct {
	Document       *domain.Document         `json:"document"`
	CurrentVersion *domain.DocumentVersion  `json:"current_version"`
	Versions       []domain.DocumentVersion `json:"versions"`
	Status         domain.StatusSummary     `json:"status"`
	Recipients     []domain.Recipient       `json:"recipients"`
	Completions    []domain.Completion      `json:"completions"`
}

type PublicDocumentView struct {
	PublicID          string `json:"public_id"`
	Title             string `json:"title"`
	VersionID         string `json:"version_id"`
	VersionNumber     int    `json:"version_number"`
	VersionLabel      string `json:"version_label"`
	PageCount         int    `json:"page_count,omitempty"`
	RequireIdentity   bool   `json:"require_identity"`
	PasswordProtected bool   `json:"password_protected"`
	Closed            bool   `json:"closed"`
}

// RecordCompletionCommand carries one recipient session. An empty VersionID
// means the current version; any other version must still be current.
type RecordCompletionCommand struct {
	Caller       domain.Caller
	DocumentID   string
	Password     string
	VersionID    string
	RecipientID  *string
	Identity     domain.RecipientIdentity
	Acknowledged bool
	Metrics      domain.CompletionMetrics
	IP           *string
	UserAgent    *string
	SubmittedAt  time.Time
}

type PublicCompletionCommand struct {
	PublicID string
	RecordCompletionCommand
}

// DocumentService is the inbound contract of the document and version store.
type DocumentService interface {
	CreateDocument(ctx context.Context, cmd CreateDocumentCommand) (*CreateDocumentResult, error)
	AddVersion(ctx context.Context, cmd AddVersionCommand) (*AddVersionResult, error)
	GetCurrentVersion(ctx context.Context, caller domain.Caller, documentID string) (*domain.DocumentVersion, error)
	GetDetail(ctx context.Context, caller domain.Caller, documentID string) (*DocumentDetail, error)
	SetNotificationPreference(ctx context.Context, caller domain.Caller, documentID string, pref domain.NotifyPreference) error
	PublicView(ctx context.Context, publicID, password string) (*PublicDocumentView, error)
	OpenPublicContent(ctx context.Context, publicID, password string) (io.ReadCloser, *domain.DocumentVersion, error)
}

// CompletionService records recipient sessions and derives document status.
type CompletionService interface {
	RecordCompletion(ctx context.Context, cmd RecordCompletionCommand) (*domain.Completion, error)
	RecordPublicCompletion(ctx context.Context, cmd PublicCompletionCommand) (*domain.Completion, error)
	GetStatus(ctx context.Context, caller domain.Caller, documentID string) (domain.StatusSummary, error)
	ListCompletions(ctx context.Context, caller domain.Caller, documentID string) ([]domain.Completion, error)
}

// DeliveryService resolves recipients and fans notification mail out.
type DeliveryService interface {
	ResolveRecipients(ctx context.Context, caller domain.Caller, workspaceID string, selection domain.RecipientSelection) (*domain.Resolution, error)
	NotifyRecipients(ctx context.Context, caller domain.Caller, documentID string, selection domain.RecipientSelection) (*domain.MailSummary, error)
}

// VersionNotificationHandler consumes version events in the worker.
type VersionNotificationHandler interface {
	HandleVersionAdded(ctx context.Context, event domain.VersionAddedEvent) (*domain.MailSummary, error)
}

// SeatService gates workspace license and role mutations.
type SeatService interface {
	AssignLicense(ctx context.Context, caller domain.Caller, workspaceID, userID string) error
	RevokeLicense(ctx context.Context, caller domain.Caller, workspaceID, userID string) error
	ChangeRole(ctx context.Context, caller domain.Caller, workspaceID, userID string, role domain.Role) error
	SeatUsage(ctx context.Context, caller domain.Caller, workspaceID string) (domain.SeatUsage, error)
}

type QuotaService interface {
	CheckQuota(ctx context.Context, accountID string, plan domain.Plan) (domain.QuotaStatus, error)
	AccountQuota(ctx context.Context, caller domain.Caller) (domain.QuotaStatus, error)
}

type AnalyticsService interface {
	WorkspaceAnalytics(ctx context.Context, caller domain.Caller, query domain.AnalyticsQuery) (*domain.WorkspaceAnalytics, error)
	WorkspaceWorkbook(ctx context.Context, caller domain.Caller, query domain.AnalyticsQuery) ([]byte, error)
}

// AttentionSweeper classifies every document of every workspace.
type AttentionSweeper interface {
	SweepAttention(ctx context.Context, now time.Time) (map[domain.AttentionCategory]int, error)
}

type EvidenceService interface {
	ExportEvidence(ctx context.Context, caller domain.Caller, documentID string) ([]byte, error)
	VerifyEvidence(ctx context.Context, caller domain.Caller, documentID string, data []byte) ([]string, error)
}
