package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

type CompletionUseCase struct {
	access      accessPolicy
	docs        ports.DocumentRepository
	recipients  ports.RecipientRepository
	completions ports.CompletionRepository
	observer    ports.MetricsObserver
	now         func() time.Time
}

func NewCompletionUseCase(
	docs ports.DocumentRepository,
	recipients ports.RecipientRepository,
	completions ports.CompletionRepository,
	members ports.MemberRepository,
	billing ports.BillingFeed,
	catalog domain.PolicyCatalog,
	observer ports.MetricsObserver,
) *CompletionUseCase {
	return &CompletionUseCase{
		access:      newAccessPolicy(docs, members, billing, catalog),
		docs:        docs,
		recipients:  recipients,
		completions: completions,
		observer:    observerOrNoop(observer),
		now:         time.Now,
	}
}

// RecordCompletion records a session on behalf of an owner or workspace
// member. The document password applies here as on the public link. The Closed
// check runs inside the repository transaction together with the insert.
func (uc *CompletionUseCase) RecordCompletion(ctx context.Context, cmd ports.RecordCompletionCommand) (*domain.Completion, error) {
	doc, err := uc.access.loadDocument(ctx, cmd.Caller, cmd.DocumentID)
	if err != nil {
		return nil, err
	}
	if err := checkDocumentPassword(doc, cmd.Password); err != nil {
		return nil, err
	}
	return uc.record(ctx, doc, cmd)
}

func (uc *CompletionUseCase) RecordPublicCompletion(ctx context.Context, cmd ports.PublicCompletionCommand) (*domain.Completion, error) {
	publicID := strings.TrimSpace(cmd.PublicID)
	if publicID == "" {
		return nil, domain.Errorf(domain.ErrValidation, "record completion", "public id is required")
	}
	doc, err := uc.docs.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if err := checkDocumentPassword(doc, cmd.Password); err != nil {
		return nil, err
	}
	return uc.record(ctx, doc, cmd.RecordCompletionCommand)
}

func (uc *CompletionUseCase) record(ctx context.Context, doc *domain.Document, cmd ports.RecordCompletionCommand) (*domain.Completion, error) {
	const op = "record completion"
	if err := cmd.Metrics.Validate(); err != nil {
		return nil, err
	}

	// The repository settles the version under the row lock; this only gives
	// an early answer for foreign or superseded ids.
	versionID := strings.TrimSpace(cmd.VersionID)
	if versionID != "" && versionID != doc.CurrentVersionID {
		if _, err := uc.docs.GetVersion(ctx, doc.ID, versionID); err != nil {
			if domain.IsKind(err, domain.ErrNotFound) {
				return nil, domain.Errorf(domain.ErrValidation, op, "version %s does not belong to document %s", versionID, doc.ID)
			}
			return nil, err
		}
		return nil, domain.Errorf(domain.ErrConflict, op, "version %s was superseded by %s", versionID, doc.CurrentVersionID)
	}

	now := uc.now().UTC()
	var identity *domain.Recipient
	if doc.Rules.RequireRecipientIdentity && !cmd.Identity.Complete() {
		return nil, domain.Errorf(domain.ErrValidation, op, "document requires recipient name and a valid email")
	}
	if !cmd.Identity.Empty() {
		if !cmd.Identity.Complete() {
			return nil, domain.Errorf(domain.ErrValidation, op, "recipient identity needs both name and a valid email")
		}
		identity = &domain.Recipient{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Name:       strings.TrimSpace(cmd.Identity.Name),
			Email:      domain.NormalizeEmail(cmd.Identity.Email),
			Source:     domain.SourceManual,
			CreatedAt:  now,
		}
	}

	recipientID := cmd.RecipientID
	if recipientID != nil {
		id := strings.TrimSpace(*recipientID)
		if id == "" {
			recipientID = nil
		} else if _, err := uc.recipients.GetRecipient(ctx, doc.ID, id); err != nil {
			if domain.IsKind(err, domain.ErrNotFound) {
				return nil, domain.Errorf(domain.ErrValidation, op, "recipient %s does not belong to document %s", id, doc.ID)
			}
			return nil, err
		} else {
			recipientID = &id
		}
	}

	submittedAt := cmd.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = now
	}
	completion := &domain.Completion{
		ID:                uuid.NewString(),
		DocumentID:        doc.ID,
		DocumentVersionID: versionID,
		RecipientID:       recipientID,
		Acknowledged:      cmd.Acknowledged,
		Metrics:           cmd.Metrics,
		SubmittedAt:       submittedAt.UTC(),
		IP:                cmd.IP,
		UserAgent:         cmd.UserAgent,
	}

	if err := uc.completions.InsertGuarded(ctx, completion, identity); err != nil {
		if domain.IsKind(err, domain.ErrDocumentClosed) {
			uc.observer.ObserveCompletionRejected("closed")
			slog.Info("completion_rejected_closed", "document_id", doc.ID)
			return nil, err
		}
		return nil, fmt.Errorf("insert completion: %w", err)
	}
	uc.observer.ObserveCompletion(completion.Acknowledged)
	slog.Info("completion_recorded",
		"document_id", doc.ID,
		"completion_id", completion.ID,
		"version_id", completion.DocumentVersionID,
		"acknowledged", completion.Acknowledged,
	)
	return completion, nil
}

func (uc *CompletionUseCase) GetStatus(ctx context.Context, caller domain.Caller, documentID string) (domain.StatusSummary, error) {
	doc, err := uc.access.loadDocument(ctx, caller, documentID)
	if err != nil {
		return domain.StatusSummary{}, err
	}
	return documentStatus(ctx, uc.completions, doc)
}

func (uc *CompletionUseCase) ListCompletions(ctx context.Context, caller domain.Caller, documentID string) ([]domain.Completion, error) {
	doc, err := uc.access.loadDocument(ctx, caller, documentID)
	if err != nil {
		return nil, err
	}
	completions, err := uc.completions.ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	sortCompletionsForDisplay(completions)
	return completions, nil
}
