package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

func newSeatFixture(seatLimit int) (*memStore, *SeatUseCase, *observerFake) {
	store := newMemStore()
	store.addWorkspace(domain.Workspace{ID: "ws-1"}, domain.PlanTeam, seatLimit)
	store.addMember("ws-1", "owner", domain.RoleOwner, true)
	store.addMember("ws-1", "admin-a", domain.RoleAdmin, true)
	store.addMember("ws-1", "admin-b", domain.RoleAdmin, false)
	observer := &observerFake{}
	return store, NewSeatUseCase(store, store, domain.DefaultPolicyCatalog(), observer), observer
}

func TestAssignLicenseSeatLimit(t *testing.T) {
	store, uc, observer := newSeatFixture(5)
	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		store.addMember("ws-1", id, domain.RoleMember, false)
	}
	ownerCaller := domain.Caller{AccountID: "owner"}
	for _, id := range []string{"m1", "m2", "m3"} {
		if err := uc.AssignLicense(context.Background(), ownerCaller, "ws-1", id); err != nil {
			t.Fatalf("AssignLicense(%s) error = %v", id, err)
		}
	}

	err := uc.AssignLicense(context.Background(), ownerCaller, "ws-1", "m4")
	if !errors.Is(err, domain.ErrSeatLimitExceeded) {
		t.Fatalf("expected seat limit exceeded, got %v", err)
	}

	if err := uc.RevokeLicense(context.Background(), ownerCaller, "ws-1", "m1"); err != nil {
		t.Fatalf("RevokeLicense() error = %v", err)
	}
	if err := uc.AssignLicense(context.Background(), ownerCaller, "ws-1", "m4"); err != nil {
		t.Fatalf("expected assignment after revoke, got %v", err)
	}

	usage, err := uc.SeatUsage(context.Background(), ownerCaller, "ws-1")
	if err != nil {
		t.Fatalf("SeatUsage() error = %v", err)
	}
	if usage.Used != 5 || usage.Limit != 5 || usage.Available != 0 {
		t.Fatalf("unexpected usage %+v", usage)
	}
	if observer.licenses[3] != "assign:seat_limit_exceeded" {
		t.Fatalf("expected seat limit outcome observed, got %v", observer.licenses)
	}
}

func TestRevokeOwnerLicenseIsPolicyViolation(t *testing.T) {
	_, uc, _ := newSeatFixture(5)
	err := uc.RevokeLicense(context.Background(), domain.Caller{AccountID: "owner"}, "ws-1", "owner")
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	err = uc.RevokeLicense(context.Background(), domain.Caller{AccountID: "admin-a"}, "ws-1", "owner")
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected policy violation for admin, got %v", err)
	}
}

func TestAdminCannotManageOtherAdmins(t *testing.T) {
	store, uc, _ := newSeatFixture(5)
	store.addMember("ws-1", "m1", domain.RoleMember, false)
	admin := domain.Caller{AccountID: "admin-a"}

	if err := uc.AssignLicense(context.Background(), admin, "ws-1", "admin-b"); !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if err := uc.ChangeRole(context.Background(), admin, "ws-1", "admin-b", domain.RoleMember); !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if err := uc.AssignLicense(context.Background(), admin, "ws-1", "m1"); err != nil {
		t.Fatalf("expected admin to license a member, got %v", err)
	}
	if err := uc.ChangeRole(context.Background(), admin, "ws-1", "m1", domain.RoleAdmin); !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected only owner to promote, got %v", err)
	}
}

func TestChangeRole(t *testing.T) {
	store, uc, _ := newSeatFixture(5)
	ownerCaller := domain.Caller{AccountID: "owner"}

	if err := uc.ChangeRole(context.Background(), ownerCaller, "ws-1", "admin-b", domain.RoleMember); err != nil {
		t.Fatalf("ChangeRole() error = %v", err)
	}
	member, _ := store.GetMember(context.Background(), "ws-1", "admin-b")
	if member.Role != domain.RoleMember {
		t.Fatalf("expected member role, got %s", member.Role)
	}
	if err := uc.ChangeRole(context.Background(), ownerCaller, "ws-1", "admin-a", domain.RoleOwner); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for owner role, got %v", err)
	}
	if err := uc.ChangeRole(context.Background(), ownerCaller, "ws-1", "owner", domain.RoleMember); !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected policy violation for owner target, got %v", err)
	}
}

func TestSeatChangesRequireSeatCapability(t *testing.T) {
	store := newMemStore()
	store.addWorkspace(domain.Workspace{ID: "ws-pro"}, domain.PlanPro, 5)
	store.addMember("ws-pro", "owner", domain.RoleOwner, true)
	store.addMember("ws-pro", "m1", domain.RoleMember, false)
	uc := NewSeatUseCase(store, store, domain.DefaultPolicyCatalog(), nil)

	err := uc.AssignLicense(context.Background(), domain.Caller{AccountID: "owner"}, "ws-pro", "m1")
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
}

func TestMembersCannotManageSeats(t *testing.T) {
	store, uc, _ := newSeatFixture(5)
	store.addMember("ws-1", "m1", domain.RoleMember, true)
	store.addMember("ws-1", "m2", domain.RoleMember, false)

	err := uc.AssignLicense(context.Background(), domain.Caller{AccountID: "m1"}, "ws-1", "m2")
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	_, err = uc.SeatUsage(context.Background(), domain.Caller{AccountID: "stranger"}, "ws-1")
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected policy violation for non-member, got %v", err)
	}
}
