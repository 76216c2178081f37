package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

// BillingRepository reads the plan columns the billing system keeps in sync.
type BillingRepository struct {
	db *sql.DB
}

func NewBillingRepository(db *sql.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

func (r *BillingRepository) PlanForWorkspace(ctx context.Context, workspaceID string) (domain.PlanInfo, error) {
	var (
		plan      string
		seatLimit int
	)
	err := r.db.QueryRowContext(ctx, `SELECT plan, seat_limit FROM workspaces WHERE id = $1`, workspaceID).
		Scan(&plan, &seatLimit)
	if err != nil {
		return domain.PlanInfo{}, notFoundOr(err, "workspace plan %s", workspaceID)
	}
	return domain.PlanInfo{Plan: domain.Plan(plan), SeatLimit: seatLimit}, nil
}

// PlanForAccount falls back to the free plan for accounts without a row.
func (r *BillingRepository) PlanForAccount(ctx context.Context, accountID string) (domain.PlanInfo, error) {
	var plan string
	err := r.db.QueryRowContext(ctx, `SELECT plan FROM account_plans WHERE account_id = $1`, accountID).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PlanInfo{Plan: domain.PlanFree}, nil
	}
	if err != nil {
		return domain.PlanInfo{}, mapError("account plan", err)
	}
	return domain.PlanInfo{Plan: domain.Plan(plan)}, nil
}
