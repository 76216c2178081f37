// Package policy loads plan capabilities, quotas and attention thresholds
// from a YAML file layered over the built-in catalog.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

type fileAttention struct {
	OverdueAfter *time.Duration `yaml:"overdue_after"`
	ClosingRatio *float64       `yaml:"closing_ratio"`
	NewWithin    *time.Duration `yaml:"new_within"`
}

type file struct {
	Plans     map[string]domain.PlanPolicy `yaml:"plans"`
	Attention fileAttention                `yaml:"attention"`
}

var knownCapabilities = map[domain.Capability]bool{
	domain.CapPassword:         true,
	domain.CapMaxAcknowledgers: true,
	domain.CapRequireIdentity:  true,
	domain.CapEmailDelivery:    true,
	domain.CapContactGroups:    true,
	domain.CapTagSchema:        true,
	domain.CapAnalytics:        true,
	domain.CapAnalyticsExport:  true,
	domain.CapEvidenceExport:   true,
	domain.CapSeats:            true,
}

// LoadFile returns the default catalog when path is empty.
func LoadFile(path string) (domain.PolicyCatalog, error) {
	if path == "" {
		return domain.DefaultPolicyCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.PolicyCatalog{}, fmt.Errorf("read policy file: %w", err)
	}
	catalog, err := Parse(raw)
	if err != nil {
		return domain.PolicyCatalog{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return catalog, nil
}

// Parse replaces whole plan entries that the document names and individual
// attention thresholds that it sets. Everything else keeps its default.
func Parse(raw []byte) (domain.PolicyCatalog, error) {
	catalog := domain.DefaultPolicyCatalog()

	var doc file
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return domain.PolicyCatalog{}, fmt.Errorf("decode yaml: %w", err)
	}

	for name, p := range doc.Plans {
		plan, ok := domain.ParsePlan(name)
		if !ok {
			return domain.PolicyCatalog{}, fmt.Errorf("unknown plan %q", name)
		}
		if err := validatePlan(plan, p); err != nil {
			return domain.PolicyCatalog{}, err
		}
		catalog.Plans[plan] = p
	}

	if v := doc.Attention.OverdueAfter; v != nil {
		catalog.Attention.OverdueAfter = *v
	}
	if v := doc.Attention.ClosingRatio; v != nil {
		catalog.Attention.ClosingRatio = *v
	}
	if v := doc.Attention.NewWithin; v != nil {
		catalog.Attention.NewWithin = *v
	}
	a := catalog.Attention
	if a.OverdueAfter <= 0 || a.NewWithin <= 0 {
		return domain.PolicyCatalog{}, fmt.Errorf("attention durations must be positive")
	}
	if a.ClosingRatio <= 0 || a.ClosingRatio > 1 {
		return domain.PolicyCatalog{}, fmt.Errorf("attention closing_ratio must be in (0, 1], got %v", a.ClosingRatio)
	}
	return catalog, nil
}

func validatePlan(plan domain.Plan, p domain.PlanPolicy) error {
	for _, c := range p.Capabilities {
		if !knownCapabilities[c] {
			return fmt.Errorf("plan %s: unknown capability %q", plan, c)
		}
	}
	switch p.Quota.Window {
	case domain.QuotaWindowTotal, domain.QuotaWindowMonthly:
		if p.Quota.Limit < 0 {
			return fmt.Errorf("plan %s: quota limit must not be negative", plan)
		}
	case domain.QuotaWindowUnlimited:
	default:
		return fmt.Errorf("plan %s: unknown quota window %q", plan, p.Quota.Window)
	}
	return nil
}
