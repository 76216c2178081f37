package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

// accessPolicy answers two per-request questions: may this caller touch the
// document or workspace, and which capabilities does the governing plan grant.
type accessPolicy struct {
	docs    ports.DocumentRepository
	members ports.MemberRepository
	billing ports.BillingFeed
	catalog domain.PolicyCatalog
}

func newAccessPolicy(
	docs ports.DocumentRepository,
	members ports.MemberRepository,
	billing ports.BillingFeed,
	catalog domain.PolicyCatalog,
) accessPolicy {
	return accessPolicy{docs: docs, members: members, billing: billing, catalog: catalog}
}

func (a accessPolicy) loadDocument(ctx context.Context, caller domain.Caller, documentID string) (*domain.Document, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, domain.Errorf(domain.ErrValidation, "load document", "document id is required")
	}
	doc, err := a.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := a.authorizeDocument(ctx, caller, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// authorizeDocument hides documents the caller cannot see behind not-found.
func (a accessPolicy) authorizeDocument(ctx context.Context, caller domain.Caller, doc *domain.Document) error {
	if caller.AccountID == "" {
		return domain.Errorf(domain.ErrUnauthorized, "authorize document", "missing caller identity")
	}
	if doc.OwnerAccountID == caller.AccountID {
		return nil
	}
	if doc.WorkspaceID != "" && a.members != nil {
		if _, err := a.members.GetMember(ctx, doc.WorkspaceID, caller.AccountID); err == nil {
			return nil
		} else if !domain.IsKind(err, domain.ErrNotFound) {
			return err
		}
	}
	return domain.Errorf(domain.ErrNotFound, "authorize document", "document %s", doc.ID)
}

func (a accessPolicy) requireMember(ctx context.Context, caller domain.Caller, workspaceID string) (*domain.Member, error) {
	if caller.AccountID == "" {
		return nil, domain.Errorf(domain.ErrUnauthorized, "authorize workspace", "missing caller identity")
	}
	member, err := a.members.GetMember(ctx, workspaceID, caller.AccountID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, domain.Errorf(domain.ErrPolicyViolation, "authorize workspace", "account %s is not a member of workspace %s", caller.AccountID, workspaceID)
		}
		return nil, err
	}
	return member, nil
}

// planFor resolves the plan governing a document: the workspace plan for
// workspace documents, the owner's account plan otherwise.
func (a accessPolicy) planFor(ctx context.Context, workspaceID, accountID string) (domain.PlanInfo, domain.CapabilitySet, error) {
	var (
		info domain.PlanInfo
		err  error
	)
	if workspaceID != "" {
		info, err = a.billing.PlanForWorkspace(ctx, workspaceID)
	} else {
		info, err = a.billing.PlanForAccount(ctx, accountID)
	}
	if err != nil {
		return domain.PlanInfo{}, nil, fmt.Errorf("resolve plan: %w", err)
	}
	return info, a.catalog.Capabilities(info.Plan), nil
}

func (a accessPolicy) requireCapability(ctx context.Context, workspaceID, accountID string, capability domain.Capability) error {
	info, caps, err := a.planFor(ctx, workspaceID, accountID)
	if err != nil {
		return err
	}
	if !caps.Has(capability) {
		return domain.Errorf(domain.ErrPolicyViolation, "check capability", "plan %s does not include %s", info.Plan, capability)
	}
	return nil
}
