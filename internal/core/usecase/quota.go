package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

// QuotaUseCase counts existing personal documents inside the plan's window
// instead of maintaining a separate counter. Workspace documents are governed
// by the workspace plan and are not counted here.
type QuotaUseCase struct {
	docs    ports.DocumentRepository
	billing ports.BillingFeed
	catalog domain.PolicyCatalog
	now     func() time.Time
}

func NewQuotaUseCase(docs ports.DocumentRepository, billing ports.BillingFeed, catalog domain.PolicyCatalog) *QuotaUseCase {
	return &QuotaUseCase{
		docs:    docs,
		billing: billing,
		catalog: catalog,
		now:     time.Now,
	}
}

func (uc *QuotaUseCase) CheckQuota(ctx context.Context, accountID string, plan domain.Plan) (domain.QuotaStatus, error) {
	rule := uc.catalog.Quota(plan)
	status := domain.QuotaStatus{Plan: plan, Window: rule.Window}
	if rule.Window == domain.QuotaWindowUnlimited {
		return status, nil
	}

	since := rule.WindowStart(uc.now())
	used, err := uc.docs.CountPersonalCreatedSince(ctx, accountID, since)
	if err != nil {
		return domain.QuotaStatus{}, fmt.Errorf("count documents in quota window: %w", err)
	}
	status.Used = used
	status.Limit = rule.Limit
	status.Remaining = rule.Limit - used
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	if !since.IsZero() {
		status.WindowStart = &since
	}
	return status, nil
}

func (uc *QuotaUseCase) AccountQuota(ctx context.Context, caller domain.Caller) (domain.QuotaStatus, error) {
	if caller.AccountID == "" {
		return domain.QuotaStatus{}, domain.Errorf(domain.ErrUnauthorized, "account quota", "missing caller identity")
	}
	info, err := uc.billing.PlanForAccount(ctx, caller.AccountID)
	if err != nil {
		return domain.QuotaStatus{}, fmt.Errorf("resolve account plan: %w", err)
	}
	return uc.CheckQuota(ctx, caller.AccountID, info.Plan)
}

// ensureCapacity fails with ErrQuotaExceeded when the window is exhausted.
func (uc *QuotaUseCase) ensureCapacity(ctx context.Context, accountID string, plan domain.Plan) error {
	status, err := uc.CheckQuota(ctx, accountID, plan)
	if err != nil {
		return err
	}
	if status.Exhausted() {
		return domain.Errorf(domain.ErrQuotaExceeded, "create document",
			"plan %s allows %d documents per %s window, %d used", plan, status.Limit, status.Window, status.Used)
	}
	return nil
}
