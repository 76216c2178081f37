package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

// DocumentRepository persists documents and their immutable version history.
type DocumentRepository interface {
	// CreateWithVersion stores the document, version 1 and the intended
	// recipients in one transaction.
	CreateWithVersion(ctx context.Context, doc *domain.Document, version *domain.DocumentVersion, recipients []domain.Recipient) error
	// AppendVersion assigns the next version number (or validates the requested
	// one) and advances current_version_id atomically.
	AppendVersion(ctx context.Context, version *domain.DocumentVersion, requestedNumber *int) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetByPublicID(ctx context.Context, publicID string) (*domain.Document, error)
	GetVersion(ctx context.Context, documentID, versionID string) (*domain.DocumentVersion, error)
	GetCurrentVersion(ctx context.Context, documentID string) (*domain.DocumentVersion, error)
	ListVersions(ctx context.Context, documentID string) ([]domain.DocumentVersion, error)
	// CountPersonalCreatedSince counts the account's documents outside any
	// workspace. Workspace documents never consume the personal quota.
	CountPersonalCreatedSince(ctx context.Context, ownerAccountID string, since time.Time) (int, error)
}

// RecipientRepository stores the intended recipients of a document.
type RecipientRepository interface {
	UpsertRecipients(ctx context.Context, documentID string, recipients []domain.Recipient) ([]domain.Recipient, error)
	ListRecipients(ctx context.Context, documentID string) ([]domain.Recipient, error)
	GetRecipient(ctx context.Context, documentID, recipientID string) (*domain.Recipient, error)
}

// CompletionRepository appends completions and reads acknowledgement state.
type CompletionRepository interface {
	// InsertGuarded evaluates the Closed check and the current version and
	// inserts in one transaction. A non-nil identity links to the recipient with
	// the same email, inserted only when missing.
	InsertGuarded(ctx context.Context, completion *domain.Completion, identity *domain.Recipient) error
	ListByDocument(ctx context.Context, documentID string) ([]domain.Completion, error)
	AcknowledgementStats(ctx context.Context, documentID string) (int, *time.Time, error)
}

type WorkspaceRepository interface {
	GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error)
	ListWorkspaceIDs(ctx context.Context) ([]string, error)
}

// MemberRepository serializes license mutations per workspace.
type MemberRepository interface {
	GetMember(ctx context.Context, workspaceID, userID string) (*domain.Member, error)
	ListMembers(ctx context.Context, workspaceID string) ([]domain.Member, error)
	CountActiveLicenses(ctx context.Context, workspaceID string) (int, error)
	AssignLicense(ctx context.Context, workspaceID, userID string, seatLimit int) error
	RevokeLicense(ctx context.Context, workspaceID, userID string) error
	UpdateRole(ctx context.Context, workspaceID, userID string, role domain.Role) error
}

// ContactDirectory is the workspace address book.
type ContactDirectory interface {
	ContactsByIDs(ctx context.Context, workspaceID string, ids []string) ([]domain.Contact, error)
	GroupsByIDs(ctx context.Context, workspaceID string, ids []string) ([]domain.ContactGroup, error)
}

// BillingFeed reports the current plan and seat limit.
type BillingFeed interface {
	PlanForWorkspace(ctx context.Context, workspaceID string) (domain.PlanInfo, error)
	PlanForAccount(ctx context.Context, accountID string) (domain.PlanInfo, error)
}

type PreferenceRepository interface {
	GetPreference(ctx context.Context, documentID, accountID string) (domain.NotifyPreference, error)
	SetPreference(ctx context.Context, documentID, accountID string, pref domain.NotifyPreference) error
}

// AnalyticsReader exposes the read-side aggregates analytics is computed from.
type AnalyticsReader interface {
	ListDocumentStats(ctx context.Context, workspaceID string) ([]domain.DocumentStats, error)
	ListCompletionMetrics(ctx context.Context, workspaceID string, since *time.Time) ([]domain.CompletionMetrics, error)
}

// BlobStore keeps uploaded file content. Put returns an opaque handle.
type BlobStore interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, handle string) (io.ReadCloser, error)
	Delete(ctx context.Context, handle string) error
}

// PageCounter inspects uploaded PDFs.
type PageCounter interface {
	CountPages(data []byte) (int, error)
}

// MailSender delivers one templated message to one recipient.
type MailSender interface {
	Send(ctx context.Context, msg domain.MailMessage) error
}

type EventPublisher interface {
	PublishVersionAdded(ctx context.Context, event domain.VersionAddedEvent) error
}

type EventSubscriber interface {
	SubscribeVersionAdded(ctx context.Context, handler func(context.Context, domain.VersionAddedEvent) error) error
}

// AnalyticsCache is a short-TTL cache for dashboard rollups.
type AnalyticsCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// AnalyticsRenderer renders analytics into a spreadsheet.
type AnalyticsRenderer interface {
	RenderWorkbook(analytics *domain.WorkspaceAnalytics) ([]byte, error)
}

// MetricsObserver receives domain counters. Implementations must be safe for
// concurrent use.
type MetricsObserver interface {
	ObserveMail(template domain.MailTemplate, ok bool)
	ObserveCompletion(acknowledged bool)
	ObserveCompletionRejected(reason string)
	ObserveVersionAdded()
	ObserveVersionConflict()
	ObserveDocumentCreated()
	ObserveLicense(op string, err error)
}
