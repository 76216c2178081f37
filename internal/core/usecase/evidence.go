package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

// EvidenceUseCase exports the audit record of a document. The export holds no
// generation timestamp, so the same stored state always yields the same bytes.
type EvidenceUseCase struct {
	access      accessPolicy
	docs        ports.DocumentRepository
	recipients  ports.RecipientRepository
	completions ports.CompletionRepository
}

func NewEvidenceUseCase(
	docs ports.DocumentRepository,
	recipients ports.RecipientRepository,
	completions ports.CompletionRepository,
	members ports.MemberRepository,
	billing ports.BillingFeed,
	catalog domain.PolicyCatalog,
) *EvidenceUseCase {
	return &EvidenceUseCase{
		access:      newAccessPolicy(docs, members, billing, catalog),
		docs:        docs,
		recipients:  recipients,
		completions: completions,
	}
}

func (uc *EvidenceUseCase) ExportEvidence(ctx context.Context, caller domain.Caller, documentID string) ([]byte, error) {
	record, err := uc.liveRecord(ctx, caller, documentID)
	if err != nil {
		return nil, err
	}
	out, err := domain.MarshalEvidence(record)
	if err != nil {
		return nil, err
	}
	slog.Info("evidence_exported",
		"document_id", record.Document.ID,
		"versions", len(record.Versions),
		"completions", len(record.Completions),
	)
	return out, nil
}

// VerifyEvidence re-reads live state and lists every path where the supplied
// export differs from it. An empty list means a field-for-field match.
func (uc *EvidenceUseCase) VerifyEvidence(ctx context.Context, caller domain.Caller, documentID string, data []byte) ([]string, error) {
	exported, err := domain.ParseEvidence(data)
	if err != nil {
		return nil, err
	}
	live, err := uc.liveRecord(ctx, caller, documentID)
	if err != nil {
		return nil, err
	}
	if exported.Document.ID != live.Document.ID {
		return nil, domain.Errorf(domain.ErrValidation, "verify evidence",
			"export belongs to document %s, not %s", exported.Document.ID, live.Document.ID)
	}
	return domain.DiffEvidence(*exported, live)
}

func (uc *EvidenceUseCase) liveRecord(ctx context.Context, caller domain.Caller, documentID string) (domain.EvidenceRecord, error) {
	doc, err := uc.access.loadDocument(ctx, caller, documentID)
	if err != nil {
		return domain.EvidenceRecord{}, err
	}
	if err := uc.access.requireCapability(ctx, doc.WorkspaceID, doc.OwnerAccountID, domain.CapEvidenceExport); err != nil {
		return domain.EvidenceRecord{}, err
	}
	versions, err := uc.docs.ListVersions(ctx, doc.ID)
	if err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("list versions: %w", err)
	}
	recipients, err := uc.recipients.ListRecipients(ctx, doc.ID)
	if err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("list recipients: %w", err)
	}
	completions, err := uc.completions.ListByDocument(ctx, doc.ID)
	if err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("list completions: %w", err)
	}
	status, err := documentStatus(ctx, uc.completions, doc)
	if err != nil {
		return domain.EvidenceRecord{}, err
	}
	return domain.BuildEvidence(*doc, versions, recipients, completions, status), nil
}
