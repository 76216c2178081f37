package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

type DeliveryOptions struct {
	PublicBaseURL string
	Concurrency   int
}

type DeliveryUseCase struct {
	access     accessPolicy
	docs       ports.DocumentRepository
	recipients ports.RecipientRepository
	directory  ports.ContactDirectory
	mailer     ports.MailSender
	observer   ports.MetricsObserver
	opts       DeliveryOptions
}

func NewDeliveryUseCase(
	docs ports.DocumentRepository,
	recipients ports.RecipientRepository,
	members ports.MemberRepository,
	billing ports.BillingFeed,
	directory ports.ContactDirectory,
	mailer ports.MailSender,
	catalog domain.PolicyCatalog,
	observer ports.MetricsObserver,
	opts DeliveryOptions,
) *DeliveryUseCase {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &DeliveryUseCase{
		access:     newAccessPolicy(docs, members, billing, catalog),
		docs:       docs,
		recipients: recipients,
		directory:  directory,
		mailer:     mailer,
		observer:   observerOrNoop(observer),
		opts:       opts,
	}
}

func (uc *DeliveryUseCase) ResolveRecipients(
	ctx context.Context,
	caller domain.Caller,
	workspaceID string,
	selection domain.RecipientSelection,
) (*domain.Resolution, error) {
	if workspaceID != "" {
		if _, err := uc.access.requireMember(ctx, caller, workspaceID); err != nil {
			return nil, err
		}
	}
	_, caps, err := uc.access.planFor(ctx, workspaceID, caller.AccountID)
	if err != nil {
		return nil, err
	}
	resolution, err := uc.resolve(ctx, workspaceID, caps, selection)
	if err != nil {
		return nil, err
	}
	return &resolution, nil
}

// resolve loads directory entries in selection order and merges all sources.
func (uc *DeliveryUseCase) resolve(
	ctx context.Context,
	workspaceID string,
	caps domain.CapabilitySet,
	selection domain.RecipientSelection,
) (domain.Resolution, error) {
	const op = "resolve recipients"
	if (len(selection.ContactIDs) > 0 || len(selection.GroupIDs) > 0) && workspaceID == "" {
		return domain.Resolution{}, domain.Errorf(domain.ErrValidation, op, "contacts and groups require a workspace")
	}
	if len(selection.GroupIDs) > 0 && !caps.Has(domain.CapContactGroups) {
		return domain.Resolution{}, domain.Errorf(domain.ErrPolicyViolation, op, "plan does not include contact groups")
	}

	var (
		contacts   []domain.Contact
		groups     []domain.ContactGroup
		unresolved []string
	)
	if len(selection.ContactIDs) > 0 {
		found, err := uc.directory.ContactsByIDs(ctx, workspaceID, selection.ContactIDs)
		if err != nil {
			return domain.Resolution{}, fmt.Errorf("load contacts: %w", err)
		}
		var missing []string
		contacts, missing = orderContacts(selection.ContactIDs, found)
		unresolved = append(unresolved, missing...)
	}
	if len(selection.GroupIDs) > 0 {
		found, err := uc.directory.GroupsByIDs(ctx, workspaceID, selection.GroupIDs)
		if err != nil {
			return domain.Resolution{}, fmt.Errorf("load contact groups: %w", err)
		}
		var missing []string
		groups, missing = orderGroups(selection.GroupIDs, found)
		unresolved = append(unresolved, missing...)
	}

	resolution := ResolveRecipients(selection.Manual, contacts, groups)
	resolution.Unresolved = unresolved
	return resolution, nil
}

// NotifyRecipients re-sends the current version to every stored recipient,
// adding any newly selected ones first.
func (uc *DeliveryUseCase) NotifyRecipients(
	ctx context.Context,
	caller domain.Caller,
	documentID string,
	selection domain.RecipientSelection,
) (*domain.MailSummary, error) {
	const op = "notify recipients"
	doc, err := uc.access.loadDocument(ctx, caller, documentID)
	if err != nil {
		return nil, err
	}
	_, caps, err := uc.access.planFor(ctx, doc.WorkspaceID, doc.OwnerAccountID)
	if err != nil {
		return nil, err
	}
	if !caps.Has(domain.CapEmailDelivery) {
		return nil, domain.Errorf(domain.ErrPolicyViolation, op, "plan does not include email delivery")
	}

	if !selection.Empty() {
		resolution, err := uc.resolve(ctx, doc.WorkspaceID, caps, selection)
		if err != nil {
			return nil, err
		}
		if len(resolution.Recipients) > 0 {
			if _, err := uc.recipients.UpsertRecipients(ctx, doc.ID, toRecipients(doc.ID, resolution.Recipients, time.Now().UTC())); err != nil {
				return nil, fmt.Errorf("store recipients: %w", err)
			}
		}
	}

	stored, err := uc.recipients.ListRecipients(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	targets := fromRecipients(stored)
	if len(targets) == 0 {
		return nil, domain.Errorf(domain.ErrValidation, op, "document %s has no recipients with a valid email", doc.ID)
	}

	version, err := uc.docs.GetCurrentVersion(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	summary := uc.Deliver(ctx, doc, version, targets, domain.TemplateVersionUpdate)
	return &summary, nil
}

func (uc *DeliveryUseCase) HandleVersionAdded(ctx context.Context, event domain.VersionAddedEvent) (*domain.MailSummary, error) {
	doc, err := uc.docs.GetByID(ctx, event.DocumentID)
	if err != nil {
		return nil, err
	}
	version, err := uc.docs.GetVersion(ctx, doc.ID, event.VersionID)
	if err != nil {
		return nil, err
	}
	stored, err := uc.recipients.ListRecipients(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	targets := fromRecipients(stored)
	if len(targets) == 0 {
		return &domain.MailSummary{Failed: []string{}}, nil
	}
	summary := uc.Deliver(ctx, doc, version, targets, domain.TemplateVersionUpdate)
	return &summary, nil
}

// Deliver fans mail out with bounded concurrency. Per-recipient failures are
// collected into the summary and never returned as an error.
func (uc *DeliveryUseCase) Deliver(
	ctx context.Context,
	doc *domain.Document,
	version *domain.DocumentVersion,
	targets []domain.ResolvedRecipient,
	template domain.MailTemplate,
) domain.MailSummary {
	var (
		mu      sync.Mutex
		summary = domain.MailSummary{Failed: []string{}}
		group   errgroup.Group
	)
	group.SetLimit(uc.opts.Concurrency)

	shareURL := ShareURL(uc.opts.PublicBaseURL, doc.PublicID)
	for _, target := range targets {
		msg := domain.MailMessage{
			To:       target.Email,
			Name:     target.Name,
			Template: template,
			Data: map[string]string{
				"title":          doc.Title,
				"share_url":      shareURL,
				"version_label":  version.DisplayLabel(),
				"recipient_name": target.Name,
			},
		}
		group.Go(func() error {
			err := uc.mailer.Send(ctx, msg)
			uc.observer.ObserveMail(template, err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("mail_delivery_failed",
					"document_id", doc.ID,
					"template", string(template),
					"to", msg.To,
					"error", err,
				)
				summary.Failed = append(summary.Failed, msg.To)
				return nil
			}
			summary.Sent++
			return nil
		})
	}
	_ = group.Wait()

	sort.Strings(summary.Failed)
	slog.Info("mail_delivery_summary",
		"document_id", doc.ID,
		"template", string(template),
		"sent", summary.Sent,
		"failed", len(summary.Failed),
	)
	return summary
}

func ShareURL(baseURL, publicID string) string {
	return strings.TrimRight(baseURL, "/") + "/d/" + publicID
}
