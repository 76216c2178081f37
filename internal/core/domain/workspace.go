package domain

import (
	"sort"
	"strings"
	"time"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	default:
		return false
	}
}

// TagField declares one custom tag key documents in the workspace may carry.
type TagField struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder,omitempty"`
}

type WorkspacePolicy struct {
	MandatoryIdentity  bool `json:"mandatory_identity"`
	MandatoryBulkEmail bool `json:"mandatory_bulk_email"`
}

type Workspace struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug"`
	Plan      Plan            `json:"plan"`
	SeatLimit int             `json:"seat_limit"`
	Policy    WorkspacePolicy `json:"policy"`
	TagSchema []TagField      `json:"tag_schema"`
	CreatedAt time.Time       `json:"created_at"`
}

// ValidateTags rejects keys outside the declared tag schema.
func (w *Workspace) ValidateTags(tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(w.TagSchema))
	for _, field := range w.TagSchema {
		allowed[field.Key] = struct{}{}
	}
	unknown := make([]string, 0)
	for key := range tags {
		if _, ok := allowed[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return Errorf(ErrValidation, "validate tags", "unknown tag keys for workspace %s: %s", w.ID, strings.Join(unknown, ", "))
}

type Member struct {
	WorkspaceID   string    `json:"workspace_id"`
	UserID        string    `json:"user_id"`
	Role          Role      `json:"role"`
	LicenseActive bool      `json:"license_active"`
	JoinedAt      time.Time `json:"joined_at"`
}

// CanManage reports whether actor may change target's role or license.
// Owners manage everyone; admins manage plain members and themselves.
func (actor Member) CanManage(target Member) bool {
	switch actor.Role {
	case RoleOwner:
		return true
	case RoleAdmin:
		if target.Role == RoleOwner {
			return false
		}
		if target.Role == RoleAdmin {
			return target.UserID == actor.UserID
		}
		return true
	default:
		return false
	}
}

type SeatUsage struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Available int `json:"available"`
}

func NewSeatUsage(used, limit int) SeatUsage {
	available := limit - used
	if available < 0 {
		available = 0
	}
	return SeatUsage{Used: used, Limit: limit, Available: available}
}

// Caller is the verified identity the core trusts on every call.
type Caller struct {
	AccountID string
	Email     string
	Name      string
}
