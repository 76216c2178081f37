package domain

import (
	"sort"
	"time"
)

type AttentionCategory string

const (
	AttentionNone    AttentionCategory = "none"
	AttentionOverdue AttentionCategory = "overdue"
	AttentionClosing AttentionCategory = "closing"
	AttentionNew     AttentionCategory = "new"
)

// AttentionPolicy holds the tunable thresholds for dashboard surfacing.
type AttentionPolicy struct {
	OverdueAfter time.Duration `yaml:"overdue_after"`
	ClosingRatio float64       `yaml:"closing_ratio"`
	NewWithin    time.Duration `yaml:"new_within"`
}

func DefaultAttentionPolicy() AttentionPolicy {
	return AttentionPolicy{
		OverdueAfter: 7 * 24 * time.Hour,
		ClosingRatio: 0.8,
		NewWithin:    48 * time.Hour,
	}
}

// DocumentStats is the per-document aggregate analytics works from.
type DocumentStats struct {
	DocumentID              string
	Title                   string
	Priority                Priority
	Labels                  []string
	CreatedAt               time.Time
	CurrentVersionCreatedAt time.Time
	MaxAcknowledgers        *int
	RecipientCount          int
	CompletionCount         int
	AcknowledgedCount       int
	FirstAcknowledgedAt     *time.Time
	LatestAcknowledgedAt    *time.Time
}

type AnalyticsScope struct {
	WorkspaceID string
}

type AnalyticsQuery struct {
	Scope    AnalyticsScope
	From     time.Time
	To       time.Time
	Location *time.Location
	// CompletionsSince narrows the averages population; nil means all-time.
	CompletionsSince *time.Time
}

type Totals struct {
	Sent                int      `json:"sent"`
	Acknowledged        int      `json:"acknowledged"`
	AcknowledgementRate *float64 `json:"acknowledgement_rate"`
	Outstanding         int      `json:"outstanding"`
}

// Averages are nil when the population is empty.
type Averages struct {
	Population        int      `json:"population"`
	MaxScrollPercent  *float64 `json:"max_scroll_percent"`
	TimeOnPageSeconds *float64 `json:"time_on_page_seconds"`
	ActiveSeconds     *float64 `json:"active_seconds"`
}

type SeriesPoint struct {
	Day          string `json:"day"`
	Sent         int    `json:"sent"`
	Acknowledged int    `json:"acknowledged"`
}

type BreakdownEntry struct {
	Key          string `json:"key"`
	Total        int    `json:"total"`
	Acknowledged int    `json:"acknowledged"`
}

type AttentionItem struct {
	DocumentID        string            `json:"document_id"`
	Title             string            `json:"title"`
	Category          AttentionCategory `json:"category"`
	AcknowledgedCount int               `json:"acknowledged_count"`
	Target            int               `json:"target"`
	PendingSince      time.Time         `json:"pending_since"`
}

type WorkspaceAnalytics struct {
	WorkspaceID string                    `json:"workspace_id"`
	From        string                    `json:"from"`
	To          string                    `json:"to"`
	Totals      Totals                    `json:"totals"`
	Averages    Averages                  `json:"averages"`
	Series      []SeriesPoint             `json:"series"`
	ByPriority  []BreakdownEntry          `json:"by_priority"`
	ByLabel     []BreakdownEntry          `json:"by_label"`
	Attention   []AttentionItem           `json:"attention"`
	Categories  map[AttentionCategory]int `json:"attention_counts"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// AttentionTarget is the acknowledgement count a document is working towards:
// max_acknowledgers when set, otherwise the number of intended recipients.
func (s DocumentStats) AttentionTarget() int {
	if s.MaxAcknowledgers != nil {
		return *s.MaxAcknowledgers
	}
	return s.RecipientCount
}

// ClassifyAttention places one document into a dashboard category at now.
// Closed documents never need attention.
func ClassifyAttention(stats DocumentStats, policy AttentionPolicy, now time.Time) AttentionCategory {
	target := stats.AttentionTarget()
	if stats.MaxAcknowledgers != nil && stats.AcknowledgedCount >= *stats.MaxAcknowledgers {
		return AttentionNone
	}
	pendingSince := stats.CurrentVersionCreatedAt
	if pendingSince.IsZero() {
		pendingSince = stats.CreatedAt
	}

	if stats.AcknowledgedCount == 0 {
		if policy.OverdueAfter > 0 && now.Sub(pendingSince) >= policy.OverdueAfter {
			return AttentionOverdue
		}
		if stats.CompletionCount == 0 && policy.NewWithin > 0 && now.Sub(stats.CreatedAt) < policy.NewWithin {
			return AttentionNew
		}
		return AttentionNone
	}
	if target > 0 && stats.AcknowledgedCount < target {
		ratio := float64(stats.AcknowledgedCount) / float64(target)
		if ratio >= policy.ClosingRatio {
			return AttentionClosing
		}
	}
	return AttentionNone
}

func attentionRank(c AttentionCategory) int {
	switch c {
	case AttentionOverdue:
		return 0
	case AttentionClosing:
		return 1
	case AttentionNew:
		return 2
	default:
		return 3
	}
}

// SortAttention orders items overdue first, then closing, then new, oldest
// pending first within a category.
func SortAttention(items []AttentionItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := attentionRank(items[i].Category), attentionRank(items[j].Category)
		if ri != rj {
			return ri < rj
		}
		if !items[i].PendingSince.Equal(items[j].PendingSince) {
			return items[i].PendingSince.Before(items[j].PendingSince)
		}
		return items[i].DocumentID < items[j].DocumentID
	})
}
