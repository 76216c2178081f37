package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

func validMetrics() domain.CompletionMetrics {
	return domain.CompletionMetrics{MaxScrollPercent: 80, TimeOnPageSeconds: 120, ActiveSeconds: 90}
}

func TestRecordCompletionClosesAtMaxAcknowledgers(t *testing.T) {
	h := newHarness()
	doc := h.store.seedDocument(domain.Document{
		ID:             "doc-1",
		OwnerAccountID: owner.AccountID,
		Rules:          domain.DocumentRules{MaxAcknowledgers: intPtr(1)},
	})

	first, err := h.completion.RecordCompletion(context.Background(), ports.RecordCompletionCommand{
		Caller:       owner,
		DocumentID:   doc.ID,
		Acknowledged: true,
		Metrics:      validMetrics(),
	})
	if err != nil {
		t.Fatalf("RecordCompletion() error = %v", err)
	}
	if first.DocumentVersionID != doc.CurrentVersionID {
		t.Fatalf("expected current version %s, got %s", doc.CurrentVersionID, first.DocumentVersionID)
	}

	status, err := h.completion.GetStatus(context.Background(), owner, doc.ID)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.Status != domain.StateClosed || !status.Acknowledged || !status.Closed || status.AcknowledgementCount != 1 {
		t.Fatalf("expected acknowledged and closed, got %+v", status)
	}

	_, err = h.completion.RecordCompletion(context.Background(), ports.RecordCompletionCommand{
		Caller:       owner,
		DocumentID:   doc.ID,
		Acknowledged: true,
		Metrics:      validMetrics(),
	})
	if !errors.Is(err, domain.ErrDocumentClosed) {
		t.Fatalf("expected document closed, got %v", err)
	}
	completions, _ := h.completion.ListCompletions(context.Background(), owner, doc.ID)
	if len(completions) != 1 || completions[0].ID != first.ID {
		t.Fatalf("expected first completion to remain the sole record, got %+v", completions)
	}
	if len(h.observer.rejected) != 1 || h.observer.rejected[0] != "closed" {
		t.Fatalf("expected closed rejection observed, got %v", h.observer.rejected)
	}
}

func TestRecordCompletionConcurrentAcknowledgementsNeverExceedLimit(t *testing.T) {
	h := newHarness()
	doc := h.store.seedDocument(domain.Document{
		ID:             "doc-1",
		OwnerAccountID: owner.AccountID,
		Rules:          domain.DocumentRules{MaxAcknowledgers: intPtr(3)},
	})

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		closed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.completion.RecordCompletion(context.Background(), ports.RecordCompletionCommand{
				Caller:       owner,
				DocumentID:   doc.ID,
				Acknowledged: true,
				Metrics:      validMetrics(),
			})
			if errors.Is(err, domain.ErrDocumentClosed) {
				mu.Lock()
				closed++
				mu.Unlock()
			} else if err != nil {
				t.Errorf("RecordCompletion() error = %v", err)
			}
		}()
	}
	wg.Wait()

	count, _, _ := h.store.AcknowledgementStats(context.Background(), doc.ID)
	if count != 3 {
		t.Fatalf("expected exactly 3 acknowledgements, got %d", count)
	}
	if closed != 7 {
		t.Fatalf("expected 7 rejections, got %d", closed)
	}
}

func TestRecordCompletionValidation(t *testing.T) {
	h := newHarness()
	doc := h.store.seedDocument(domain.Document{
		ID:             "doc-1",
		OwnerAccountID: owner.AccountID,
		Rules:          domain.DocumentRules{RequireRecipientIdentity: true},
	})
	identity := domain.RecipientIdentity{Name: "Ann", Email: "ann@example.com"}

	cases := map[string]ports.RecordCompletionCommand{
		"scroll over 100": {
			DocumentID: doc.ID,
			Identity:   identity,
			Metrics:    domain.CompletionMetrics{MaxScrollPercent: 101},
		},
		"active over time on page": {
			DocumentID: doc.ID,
			Identity:   identity,
			Metrics:    domain.CompletionMetrics{TimeOnPageSeconds: 10, ActiveSeconds: 11},
		},
		"identity missing": {
			DocumentID: doc.ID,
			Metrics:    validMetrics(),
		},
		"identity without email": {
			DocumentID: doc.ID,
			Identity:   domain.RecipientIdentity{Name: "Ann"},
			Metrics:    validMetrics(),
		},
		"foreign version": {
			DocumentID: doc.ID,
			VersionID:  "other-version",
			Identity:   identity,
			Metrics:    validMetrics(),
		},
		"unknown recipient": {
			DocumentID:  doc.ID,
			RecipientID: strPtr("nobody"),
			Identity:    identity,
			Metrics:     validMetrics(),
		},
	}
	for name, cmd := range cases {
		cmd.Caller = owner
		t.Run(name, func(t *testing.T) {
			_, err := h.completion.RecordCompletion(context.Background(), cmd)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if len(h.store.completions[doc.ID]) != 0 {
		t.Fatalf("expected nothing written on validation failure")
	}
}

func TestRecordCompletionLinksIdentityAsRecipient(t *testing.T) {
	h := newHarness()
	doc := h.store.seedDocument(domain.Document{
		ID:             "doc-1",
		OwnerAccountID: owner.AccountID,
		Rules:          domain.DocumentRules{RequireRecipientIdentity: true},
	})
	submitted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	completion, err := h.completion.RecordCompletion(context.Background(), ports.RecordCompletionCommand{
		Caller:       owner,
		DocumentID:   doc.ID,
		Identity:     domain.RecipientIdentity{Name: " Ann ", Email: "ANN@example.com"},
		Acknowledged: true,
		Metrics:      validMetrics(),
		IP:           strPtr("203.0.113.7"),
		UserAgent:    strPtr("test-agent"),
		SubmittedAt:  submitted,
	})
	if err != nil {
		t.Fatalf("RecordCompletion() error = %v", err)
	}
	if completion.RecipientID == nil {
		t.Fatalf("expected recipient id linked")
	}
	if completion.SubmittedAt.Location() != time.UTC || !completion.SubmittedAt.Equal(submitted) {
		t.Fatalf("expected UTC submitted_at, got %v", completion.SubmittedAt)
	}
	recipients, _ := h.store.ListRecipients(context.Background(), doc.ID)
	if len(recipients) != 1 || recipients[0].Email != "ann@example.com" || recipients[0].Name != "Ann" {
		t.Fatalf("unexpected recipients %+v", recipients)
	}
}

func TestRecordPublicCompletion(t *testing.T) {
	h := newHarness()
	hash, _ := hashDocumentPassword("letmein")
	doc := h.store.seedDocument(domain.Document{ID: "doc-1", OwnerAccountID: owner.AccountID, PasswordHash: hash})

	_, err := h.completion.RecordPublicCompletion(context.Background(), ports.PublicCompletionCommand{
		PublicID: doc.PublicID,
		RecordCompletionCommand: ports.RecordCompletionCommand{
			Acknowledged: true,
			Metrics:      validMetrics(),
		},
	})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without password, got %v", err)
	}

	completion, err := h.completion.RecordPublicCompletion(context.Background(), ports.PublicCompletionCommand{
		PublicID: doc.PublicID,
		RecordCompletionCommand: ports.RecordCompletionCommand{
			Password:     "letmein",
			Acknowledged: true,
			Metrics:      validMetrics(),
		},
	})
	if err != nil {
		t.Fatalf("RecordPublicCompletion() error = %v", err)
	}
	if completion.DocumentID != doc.ID || !completion.Acknowledged {
		t.Fatalf("unexpected completion %+v", completion)
	}

	if _, err := h.completion.RecordPublicCompletion(context.Background(), ports.PublicCompletionCommand{PublicID: "missing"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown public id, got %v", err)
	}
}

func TestGetStatusPendingWithoutAcknowledgements(t *testing.T) {
	h := newHarness()
	doc := h.store.seedDocument(domain.Document{ID: "doc-1", OwnerAccountID: owner.AccountID})
	if _, err := h.completion.RecordCompletion(context.Background(), ports.RecordCompletionCommand{
		Caller:     owner,
		DocumentID: doc.ID,
		Metrics:    validMetrics(),
	}); err != nil {
		t.Fatalf("RecordCompletion() error = %v", err)
	}
	status, err := h.completion.GetStatus(context.Background(), owner, doc.ID)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.Status != domain.StatePending || status.LatestAcknowledgedAt != nil {
		t.Fatalf("expected pending, got %+v", status)
	}
}

func TestRecordCompletionRequiresDocumentAccessAndPassword(t *testing.T) {
	h := newHarness()
	hash, _ := hashDocumentPassword("letmein")
	doc := h.store.seedDocument(domain.Document{
		ID:             "doc-1",
		OwnerAccountID: owner.AccountID,
		WorkspaceID:    "ws-1",
		PasswordHash:   hash,
		Rules:          domain.DocumentRules{MaxAcknowledgers: intPtr(1)},
	})
	h.store.addWorkspace(domain.Workspace{ID: "ws-1"}, domain.PlanTeam, 5)
	h.store.addMember("ws-1", "acct-member", domain.RoleMember, true)

	cmd := ports.RecordCompletionCommand{
		DocumentID:   doc.ID,
		Password:     "letmein",
		Acknowledged: true,
		Metrics:      validMetrics(),
	}
	if _, err := h.completion.RecordCompletion(context.Background(), cmd); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without caller, got %v", err)
	}
	cmd.Caller = domain.Caller{AccountID: "acct-stranger"}
	if _, err := h.completion.RecordCompletion(context.Background(), cmd); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign caller, got %v", err)
	}
	cmd.Caller = domain.Caller{AccountID: "acct-member"}
	cmd.Password = ""
	if _, err := h.completion.RecordCompletion(context.Background(), cmd); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without password, got %v", err)
	}
	if len(h.store.completions[doc.ID]) != 0 {
		t.Fatalf("expected nothing recorded, got %+v", h.store.completions[doc.ID])
	}

	cmd.Password = "letmein"
	if _, err := h.completion.RecordCompletion(context.Background(), cmd); err != nil {
		t.Fatalf("RecordCompletion() by member error = %v", err)
	}
}

func TestRecordPublicCompletionPinsCurrentVersion(t *testing.T) {
	h := newHarness()
	doc := h.store.seedDocument(domain.Document{ID: "doc-1", OwnerAccountID: owner.AccountID})
	v2 := &domain.DocumentVersion{ID: "doc-1-v2", DocumentID: doc.ID, SourceType: domain.SourceUpload}
	if err := h.store.AppendVersion(context.Background(), v2, nil); err != nil {
		t.Fatalf("AppendVersion() error = %v", err)
	}

	submit := func(versionID string) (*domain.Completion, error) {
		return h.completion.RecordPublicCompletion(context.Background(), ports.PublicCompletionCommand{
			PublicID: doc.PublicID,
			RecordCompletionCommand: ports.RecordCompletionCommand{
				VersionID:    versionID,
				Acknowledged: true,
				Metrics:      validMetrics(),
			},
		})
	}

	if _, err := submit(doc.CurrentVersionID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for superseded version, got %v", err)
	}
	if len(h.store.completions[doc.ID]) != 0 {
		t.Fatalf("expected nothing recorded against the old version")
	}

	completion, err := submit("")
	if err != nil {
		t.Fatalf("RecordPublicCompletion() error = %v", err)
	}
	if completion.DocumentVersionID != "doc-1-v2" {
		t.Fatalf("expected current version doc-1-v2, got %s", completion.DocumentVersionID)
	}
	if _, err := submit("doc-1-v2"); err != nil {
		t.Fatalf("RecordPublicCompletion() with current version error = %v", err)
	}
}

func TestRecordPublicCompletionKeepsKnownRecipient(t *testing.T) {
	h := newHarness()
	doc := h.store.seedDocument(domain.Document{ID: "doc-1", OwnerAccountID: owner.AccountID})
	if _, err := h.store.UpsertRecipients(context.Background(), doc.ID, []domain.Recipient{
		{ID: "r-alice", DocumentID: doc.ID, Name: "Alice Contact", Email: "alice@x.com", Source: domain.SourceGroup},
	}); err != nil {
		t.Fatalf("UpsertRecipients() error = %v", err)
	}

	completion, err := h.completion.RecordPublicCompletion(context.Background(), ports.PublicCompletionCommand{
		PublicID: doc.PublicID,
		RecordCompletionCommand: ports.RecordCompletionCommand{
			Identity:     domain.RecipientIdentity{Name: "Mallory", Email: "Alice@X.com"},
			Acknowledged: true,
			Metrics:      validMetrics(),
		},
	})
	if err != nil {
		t.Fatalf("RecordPublicCompletion() error = %v", err)
	}
	if completion.RecipientID == nil || *completion.RecipientID != "r-alice" {
		t.Fatalf("expected completion linked to r-alice, got %v", completion.RecipientID)
	}
	recipients, _ := h.store.ListRecipients(context.Background(), doc.ID)
	if len(recipients) != 1 || recipients[0].Name != "Alice Contact" || recipients[0].Source != domain.SourceGroup {
		t.Fatalf("expected stored recipient untouched, got %+v", recipients)
	}
}
