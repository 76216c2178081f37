package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

// SeatUseCase gates license and role changes. The seat limit itself is
// enforced by the member repository under a per-workspace lock.
type SeatUseCase struct {
	access   accessPolicy
	members  ports.MemberRepository
	billing  ports.BillingFeed
	observer ports.MetricsObserver
}

func NewSeatUseCase(
	members ports.MemberRepository,
	billing ports.BillingFeed,
	catalog domain.PolicyCatalog,
	observer ports.MetricsObserver,
) *SeatUseCase {
	return &SeatUseCase{
		access:   newAccessPolicy(nil, members, billing, catalog),
		members:  members,
		billing:  billing,
		observer: observerOrNoop(observer),
	}
}

func (uc *SeatUseCase) AssignLicense(ctx context.Context, caller domain.Caller, workspaceID, userID string) error {
	err := uc.assign(ctx, caller, workspaceID, userID)
	uc.observer.ObserveLicense("assign", err)
	return err
}

func (uc *SeatUseCase) assign(ctx context.Context, caller domain.Caller, workspaceID, userID string) error {
	if _, err := uc.authorize(ctx, caller, workspaceID, userID); err != nil {
		return err
	}
	info, err := uc.billing.PlanForWorkspace(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("resolve plan: %w", err)
	}
	if err := uc.members.AssignLicense(ctx, workspaceID, userID, info.SeatLimit); err != nil {
		return err
	}
	slog.Info("license_assigned", "workspace_id", workspaceID, "user_id", userID, "actor", caller.AccountID)
	return nil
}

func (uc *SeatUseCase) RevokeLicense(ctx context.Context, caller domain.Caller, workspaceID, userID string) error {
	err := uc.revoke(ctx, caller, workspaceID, userID)
	uc.observer.ObserveLicense("revoke", err)
	return err
}

func (uc *SeatUseCase) revoke(ctx context.Context, caller domain.Caller, workspaceID, userID string) error {
	target, err := uc.authorize(ctx, caller, workspaceID, userID)
	if err != nil {
		return err
	}
	if target.Role == domain.RoleOwner {
		return domain.Errorf(domain.ErrPolicyViolation, "revoke license", "the workspace owner's license cannot be revoked")
	}
	if err := uc.members.RevokeLicense(ctx, workspaceID, userID); err != nil {
		return err
	}
	slog.Info("license_revoked", "workspace_id", workspaceID, "user_id", userID, "actor", caller.AccountID)
	return nil
}

func (uc *SeatUseCase) ChangeRole(ctx context.Context, caller domain.Caller, workspaceID, userID string, role domain.Role) error {
	const op = "change role"
	if role != domain.RoleAdmin && role != domain.RoleMember {
		return domain.Errorf(domain.ErrValidation, op, "role must be admin or member, got %q", role)
	}
	target, err := uc.authorize(ctx, caller, workspaceID, userID)
	if err != nil {
		return err
	}
	if target.Role == domain.RoleOwner {
		return domain.Errorf(domain.ErrPolicyViolation, op, "the workspace owner's role cannot be changed")
	}
	actor, err := uc.members.GetMember(ctx, workspaceID, caller.AccountID)
	if err != nil {
		return err
	}
	if role == domain.RoleAdmin && actor.Role != domain.RoleOwner {
		return domain.Errorf(domain.ErrPolicyViolation, op, "only the owner may promote admins")
	}
	if err := uc.members.UpdateRole(ctx, workspaceID, userID, role); err != nil {
		return err
	}
	slog.Info("member_role_changed", "workspace_id", workspaceID, "user_id", userID, "role", string(role))
	return nil
}

func (uc *SeatUseCase) SeatUsage(ctx context.Context, caller domain.Caller, workspaceID string) (domain.SeatUsage, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return domain.SeatUsage{}, domain.Errorf(domain.ErrValidation, "seat usage", "workspace id is required")
	}
	if _, err := uc.access.requireMember(ctx, caller, workspaceID); err != nil {
		return domain.SeatUsage{}, err
	}
	info, err := uc.billing.PlanForWorkspace(ctx, workspaceID)
	if err != nil {
		return domain.SeatUsage{}, fmt.Errorf("resolve plan: %w", err)
	}
	used, err := uc.members.CountActiveLicenses(ctx, workspaceID)
	if err != nil {
		return domain.SeatUsage{}, fmt.Errorf("count licenses: %w", err)
	}
	return domain.NewSeatUsage(used, info.SeatLimit), nil
}

// authorize checks that the caller administers the workspace, that the plan
// has seats, and that the caller may manage the target. It returns the target.
func (uc *SeatUseCase) authorize(ctx context.Context, caller domain.Caller, workspaceID, userID string) (*domain.Member, error) {
	const op = "authorize seat change"
	workspaceID = strings.TrimSpace(workspaceID)
	userID = strings.TrimSpace(userID)
	if workspaceID == "" || userID == "" {
		return nil, domain.Errorf(domain.ErrValidation, op, "workspace id and user id are required")
	}
	actor, err := uc.access.requireMember(ctx, caller, workspaceID)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleOwner && actor.Role != domain.RoleAdmin {
		return nil, domain.Errorf(domain.ErrPolicyViolation, op, "role %s cannot manage members", actor.Role)
	}
	if err := uc.access.requireCapability(ctx, workspaceID, caller.AccountID, domain.CapSeats); err != nil {
		return nil, err
	}
	target, err := uc.members.GetMember(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(*target) {
		return nil, domain.Errorf(domain.ErrPolicyViolation, op, "%s %s cannot manage %s %s", actor.Role, actor.UserID, target.Role, target.UserID)
	}
	return target, nil
}
