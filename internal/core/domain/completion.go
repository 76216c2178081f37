package domain

import (
	"strings"
	"time"
)

type CompletionMetrics struct {
	MaxScrollPercent  float64 `json:"max_scroll_percent"`
	TimeOnPageSeconds float64 `json:"time_on_page_seconds"`
	ActiveSeconds     float64 `json:"active_seconds"`
}

func (m CompletionMetrics) Validate() error {
	const op = "validate completion metrics"
	switch {
	case m.MaxScrollPercent < 0 || m.MaxScrollPercent > 100:
		return Errorf(ErrValidation, op, "max_scroll_percent must be within 0..100, got %v", m.MaxScrollPercent)
	case m.TimeOnPageSeconds < 0:
		return Errorf(ErrValidation, op, "time_on_page_seconds must be >= 0, got %v", m.TimeOnPageSeconds)
	case m.ActiveSeconds < 0:
		return Errorf(ErrValidation, op, "active_seconds must be >= 0, got %v", m.ActiveSeconds)
	case m.ActiveSeconds > m.TimeOnPageSeconds:
		return Errorf(ErrValidation, op, "active_seconds %v exceeds time_on_page_seconds %v", m.ActiveSeconds, m.TimeOnPageSeconds)
	}
	return nil
}

type RecipientIdentity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (r RecipientIdentity) Complete() bool {
	return strings.TrimSpace(r.Name) != "" && ValidEmail(r.Email)
}

func (r RecipientIdentity) Empty() bool {
	return strings.TrimSpace(r.Name) == "" && strings.TrimSpace(r.Email) == ""
}

// Completion is one recorded recipient session against a specific version.
type Completion struct {
	ID                string            `json:"id"`
	DocumentID        string            `json:"document_id"`
	DocumentVersionID string            `json:"document_version_id"`
	RecipientID       *string           `json:"recipient_id"`
	Acknowledged      bool              `json:"acknowledged"`
	Metrics           CompletionMetrics `json:"metrics"`
	SubmittedAt       time.Time         `json:"submitted_at"`
	IP                *string           `json:"ip"`
	UserAgent         *string           `json:"user_agent"`
}

type DocumentState string

const (
	StatePending      DocumentState = "pending"
	StateAcknowledged DocumentState = "acknowledged"
	StateClosed       DocumentState = "closed"
)

type StatusSummary struct {
	Status               DocumentState `json:"status"`
	Acknowledged         bool          `json:"acknowledged"`
	Closed               bool          `json:"closed"`
	AcknowledgementCount int           `json:"acknowledgement_count"`
	LatestAcknowledgedAt *time.Time    `json:"latest_acknowledged_at"`
}

// DeriveStatus computes document status from the acknowledged completion
// count. Closed applies only when max_acknowledgers is set.
func DeriveStatus(rules DocumentRules, ackCount int, latest *time.Time) StatusSummary {
	summary := StatusSummary{
		Status:               StatePending,
		AcknowledgementCount: ackCount,
		LatestAcknowledgedAt: latest,
	}
	if ackCount > 0 {
		summary.Status = StateAcknowledged
		summary.Acknowledged = true
	}
	if rules.MaxAcknowledgers != nil && ackCount >= *rules.MaxAcknowledgers {
		summary.Status = StateClosed
		summary.Closed = true
	}
	return summary
}
