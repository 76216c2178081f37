package domain

import (
	"sort"
	"strings"
	"time"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPersonal   Plan = "personal"
	PlanPro        Plan = "pro"
	PlanTeam       Plan = "team"
	PlanEnterprise Plan = "enterprise"
)

func ParsePlan(raw string) (Plan, bool) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(raw))); p {
	case PlanFree, PlanPersonal, PlanPro, PlanTeam, PlanEnterprise:
		return p, true
	default:
		return "", false
	}
}

type Capability string

const (
	CapPassword         Capability = "password"
	CapMaxAcknowledgers Capability = "max_acknowledgers"
	CapRequireIdentity  Capability = "require_identity"
	CapEmailDelivery    Capability = "email_delivery"
	CapContactGroups    Capability = "contact_groups"
	CapTagSchema        Capability = "tag_schema"
	CapAnalytics        Capability = "analytics"
	CapAnalyticsExport  Capability = "analytics_export"
	CapEvidenceExport   Capability = "evidence_export"
	CapSeats            Capability = "seats"
)

// CapabilitySet is the resolved set of features enabled for one plan.
type CapabilitySet map[Capability]bool

func (s CapabilitySet) Has(c Capability) bool {
	return s[c]
}

func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c, on := range s {
		if on {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type QuotaWindow string

const (
	QuotaWindowTotal     QuotaWindow = "total"
	QuotaWindowMonthly   QuotaWindow = "monthly"
	QuotaWindowUnlimited QuotaWindow = "unlimited"
)

type QuotaRule struct {
	Window QuotaWindow `json:"window" yaml:"window"`
	Limit  int         `json:"limit" yaml:"limit"`
}

// WindowStart returns the lower creation-time bound counted against the quota.
// A zero time means every document ever created counts.
func (q QuotaRule) WindowStart(now time.Time) time.Time {
	if q.Window != QuotaWindowMonthly {
		return time.Time{}
	}
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

type QuotaStatus struct {
	Plan        Plan        `json:"plan"`
	Window      QuotaWindow `json:"window"`
	Used        int         `json:"used"`
	Limit       int         `json:"limit"`
	Remaining   int         `json:"remaining"`
	WindowStart *time.Time  `json:"window_start,omitempty"`
}

func (q QuotaStatus) Exhausted() bool {
	return q.Window != QuotaWindowUnlimited && q.Used >= q.Limit
}

type PlanPolicy struct {
	Capabilities []Capability `yaml:"capabilities"`
	Quota        QuotaRule    `yaml:"quota"`
}

// PolicyCatalog holds every tunable product rule: per-plan capabilities and
// quotas plus the attention thresholds used by analytics.
type PolicyCatalog struct {
	Plans     map[Plan]PlanPolicy
	Attention AttentionPolicy
}

func DefaultPolicyCatalog() PolicyCatalog {
	base := []Capability{CapEmailDelivery, CapMaxAcknowledgers, CapRequireIdentity}
	personal := append(append([]Capability{}, base...), CapPassword, CapEvidenceExport)
	pro := append(append([]Capability{}, personal...), CapAnalytics, CapAnalyticsExport, CapContactGroups)
	team := append(append([]Capability{}, pro...), CapTagSchema, CapSeats)

	return PolicyCatalog{
		Plans: map[Plan]PlanPolicy{
			PlanFree:       {Capabilities: base, Quota: QuotaRule{Window: QuotaWindowTotal, Limit: 10}},
			PlanPersonal:   {Capabilities: personal, Quota: QuotaRule{Window: QuotaWindowMonthly, Limit: 50}},
			PlanPro:        {Capabilities: pro, Quota: QuotaRule{Window: QuotaWindowMonthly, Limit: 500}},
			PlanTeam:       {Capabilities: team, Quota: QuotaRule{Window: QuotaWindowUnlimited}},
			PlanEnterprise: {Capabilities: team, Quota: QuotaRule{Window: QuotaWindowUnlimited}},
		},
		Attention: DefaultAttentionPolicy(),
	}
}

// Capabilities is the single place plan-based gating is derived.
// Unknown plans resolve to the free plan.
func (c PolicyCatalog) Capabilities(plan Plan) CapabilitySet {
	policy, ok := c.Plans[plan]
	if !ok {
		policy = c.Plans[PlanFree]
	}
	set := make(CapabilitySet, len(policy.Capabilities))
	for _, capability := range policy.Capabilities {
		set[capability] = true
	}
	return set
}

func (c PolicyCatalog) Quota(plan Plan) QuotaRule {
	policy, ok := c.Plans[plan]
	if !ok {
		policy = c.Plans[PlanFree]
	}
	return policy.Quota
}

// PlanInfo is what the billing feed reports for a workspace or account.
type PlanInfo struct {
	Plan      Plan `json:"plan"`
	SeatLimit int  `json:"seat_limit"`
}
