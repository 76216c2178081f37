package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

const (
	dayLayout         = "2006-01-02"
	maxAnalyticsDays  = 366
	defaultCacheTTL   = 30 * time.Second
	analyticsCacheKey = "analytics"
)

type AnalyticsOptions struct {
	CacheTTL time.Duration
}

type AnalyticsUseCase struct {
	access     accessPolicy
	workspaces ports.WorkspaceRepository
	reader     ports.AnalyticsReader
	cache      ports.AnalyticsCache
	renderer   ports.AnalyticsRenderer
	attention  domain.AttentionPolicy
	opts       AnalyticsOptions
	now        func() time.Time
}

func NewAnalyticsUseCase(
	workspaces ports.WorkspaceRepository,
	members ports.MemberRepository,
	billing ports.BillingFeed,
	reader ports.AnalyticsReader,
	cache ports.AnalyticsCache,
	renderer ports.AnalyticsRenderer,
	catalog domain.PolicyCatalog,
	opts AnalyticsOptions,
) *AnalyticsUseCase {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	return &AnalyticsUseCase{
		access:     newAccessPolicy(nil, members, billing, catalog),
		workspaces: workspaces,
		reader:     reader,
		cache:      cache,
		renderer:   renderer,
		attention:  catalog.Attention,
		opts:       opts,
		now:        time.Now,
	}
}

func (uc *AnalyticsUseCase) WorkspaceAnalytics(ctx context.Context, caller domain.Caller, query domain.AnalyticsQuery) (*domain.WorkspaceAnalytics, error) {
	if err := uc.authorize(ctx, caller, query, domain.CapAnalytics); err != nil {
		return nil, err
	}
	return uc.load(ctx, query)
}

func (uc *AnalyticsUseCase) WorkspaceWorkbook(ctx context.Context, caller domain.Caller, query domain.AnalyticsQuery) ([]byte, error) {
	if err := uc.authorize(ctx, caller, query, domain.CapAnalyticsExport); err != nil {
		return nil, err
	}
	if uc.renderer == nil {
		return nil, domain.Errorf(domain.ErrTemporary, "render analytics", "workbook renderer is not configured")
	}
	analytics, err := uc.load(ctx, query)
	if err != nil {
		return nil, err
	}
	out, err := uc.renderer.RenderWorkbook(analytics)
	if err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	return out, nil
}

// SweepAttention classifies the documents of every workspace at now.
func (uc *AnalyticsUseCase) SweepAttention(ctx context.Context, now time.Time) (map[domain.AttentionCategory]int, error) {
	ids, err := uc.workspaces.ListWorkspaceIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	counts := emptyCategoryCounts()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats, err := uc.reader.ListDocumentStats(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list document stats for %s: %w", id, err)
		}
		for _, s := range stats {
			category := domain.ClassifyAttention(s, uc.attention, now)
			counts[category]++
			if category == domain.AttentionOverdue {
				slog.Warn("document_overdue",
					"workspace_id", id,
					"document_id", s.DocumentID,
					"pending_since", s.CurrentVersionCreatedAt,
				)
			}
		}
	}
	slog.Info("attention_sweep_completed",
		"workspaces", len(ids),
		"overdue", counts[domain.AttentionOverdue],
		"closing", counts[domain.AttentionClosing],
		"new", counts[domain.AttentionNew],
	)
	return counts, nil
}

func (uc *AnalyticsUseCase) authorize(ctx context.Context, caller domain.Caller, query domain.AnalyticsQuery, capability domain.Capability) error {
	workspaceID := strings.TrimSpace(query.Scope.WorkspaceID)
	if workspaceID == "" {
		return domain.Errorf(domain.ErrValidation, "workspace analytics", "workspace id is required")
	}
	if _, err := uc.access.requireMember(ctx, caller, workspaceID); err != nil {
		return err
	}
	return uc.access.requireCapability(ctx, workspaceID, caller.AccountID, capability)
}

func (uc *AnalyticsUseCase) load(ctx context.Context, query domain.AnalyticsQuery) (*domain.WorkspaceAnalytics, error) {
	if err := validateAnalyticsQuery(query); err != nil {
		return nil, err
	}
	key := analyticsKey(query)
	if uc.cache != nil {
		var cached domain.WorkspaceAnalytics
		hit, err := uc.cache.Get(ctx, key, &cached)
		if err != nil {
			slog.Warn("analytics_cache_get_failed", "key", key, "error", err)
		} else if hit {
			return &cached, nil
		}
	}

	workspaceID := query.Scope.WorkspaceID
	stats, err := uc.reader.ListDocumentStats(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list document stats: %w", err)
	}
	metrics, err := uc.reader.ListCompletionMetrics(ctx, workspaceID, query.CompletionsSince)
	if err != nil {
		return nil, fmt.Errorf("list completion metrics: %w", err)
	}
	analytics := ComputeAnalytics(stats, metrics, query, uc.attention, uc.now())

	if uc.cache != nil {
		if err := uc.cache.Set(ctx, key, analytics, uc.opts.CacheTTL); err != nil {
			slog.Warn("analytics_cache_set_failed", "key", key, "error", err)
		}
	}
	return analytics, nil
}

func validateAnalyticsQuery(query domain.AnalyticsQuery) error {
	const op = "validate analytics query"
	if query.From.IsZero() || query.To.IsZero() {
		return domain.Errorf(domain.ErrValidation, op, "from and to are required")
	}
	if query.To.Before(query.From) {
		return domain.Errorf(domain.ErrValidation, op, "to must not be before from")
	}
	if days := len(dayRange(query.From, query.To, queryLocation(query))); days > maxAnalyticsDays {
		return domain.Errorf(domain.ErrValidation, op, "range of %d days exceeds %d", days, maxAnalyticsDays)
	}
	return nil
}

func analyticsKey(query domain.AnalyticsQuery) string {
	loc := queryLocation(query)
	since := "all"
	if query.CompletionsSince != nil {
		since = query.CompletionsSince.UTC().Format(time.RFC3339)
	}
	return strings.Join([]string{
		analyticsCacheKey,
		query.Scope.WorkspaceID,
		query.From.In(loc).Format(dayLayout),
		query.To.In(loc).Format(dayLayout),
		loc.String(),
		since,
	}, ":")
}

func queryLocation(query domain.AnalyticsQuery) *time.Location {
	if query.Location == nil {
		return time.UTC
	}
	return query.Location
}

// dayRange lists every calendar day in loc from from's day to to's day.
func dayRange(from, to time.Time, loc *time.Location) []string {
	from, to = from.In(loc), to.In(loc)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	last := to.Format(dayLayout)
	days := make([]string, 0)
	for {
		label := day.Format(dayLayout)
		if label > last || len(days) > maxAnalyticsDays {
			break
		}
		days = append(days, label)
		day = day.AddDate(0, 0, 1)
	}
	return days
}

func emptyCategoryCounts() map[domain.AttentionCategory]int {
	return map[domain.AttentionCategory]int{
		domain.AttentionNone:    0,
		domain.AttentionOverdue: 0,
		domain.AttentionClosing: 0,
		domain.AttentionNew:     0,
	}
}

// ComputeAnalytics builds the workspace rollup from per-document aggregates
// and the completion metrics population.
func ComputeAnalytics(
	stats []domain.DocumentStats,
	metrics []domain.CompletionMetrics,
	query domain.AnalyticsQuery,
	policy domain.AttentionPolicy,
	now time.Time,
) *domain.WorkspaceAnalytics {
	loc := queryLocation(query)
	days := dayRange(query.From, query.To, loc)
	fromDay, toDay := days[0], days[len(days)-1]
	inRange := func(t time.Time) (string, bool) {
		day := t.In(loc).Format(dayLayout)
		return day, day >= fromDay && day <= toDay
	}

	series := make([]domain.SeriesPoint, len(days))
	index := make(map[string]int, len(days))
	for i, day := range days {
		series[i] = domain.SeriesPoint{Day: day}
		index[day] = i
	}

	var totals domain.Totals
	priorities := map[domain.Priority]*domain.BreakdownEntry{
		domain.PriorityLow:    {Key: string(domain.PriorityLow)},
		domain.PriorityNormal: {Key: string(domain.PriorityNormal)},
		domain.PriorityHigh:   {Key: string(domain.PriorityHigh)},
	}
	labels := make(map[string]*domain.BreakdownEntry)
	attention := make([]domain.AttentionItem, 0)
	categories := emptyCategoryCounts()

	for _, s := range stats {
		if s.FirstAcknowledgedAt != nil {
			if day, ok := inRange(*s.FirstAcknowledgedAt); ok {
				series[index[day]].Acknowledged++
			}
		}

		category := domain.ClassifyAttention(s, policy, now)
		categories[category]++
		if category != domain.AttentionNone {
			pendingSince := s.CurrentVersionCreatedAt
			if pendingSince.IsZero() {
				pendingSince = s.CreatedAt
			}
			attention = append(attention, domain.AttentionItem{
				DocumentID:        s.DocumentID,
				Title:             s.Title,
				Category:          category,
				AcknowledgedCount: s.AcknowledgedCount,
				Target:            s.AttentionTarget(),
				PendingSince:      pendingSince.UTC(),
			})
		}

		day, ok := inRange(s.CreatedAt)
		if !ok {
			continue
		}
		acknowledged := s.AcknowledgedCount > 0
		series[index[day]].Sent++
		totals.Sent++
		if acknowledged {
			totals.Acknowledged++
		}

		entry, ok := priorities[s.Priority]
		if !ok {
			entry = priorities[domain.PriorityNormal]
		}
		entry.Total++
		if acknowledged {
			entry.Acknowledged++
		}
		for _, label := range s.Labels {
			bucket, ok := labels[label]
			if !ok {
				bucket = &domain.BreakdownEntry{Key: label}
				labels[label] = bucket
			}
			bucket.Total++
			if acknowledged {
				bucket.Acknowledged++
			}
		}
	}

	totals.Outstanding = totals.Sent - totals.Acknowledged
	if totals.Sent > 0 {
		rate := float64(totals.Acknowledged) / float64(totals.Sent) * 100
		totals.AcknowledgementRate = &rate
	}

	byPriority := []domain.BreakdownEntry{
		*priorities[domain.PriorityHigh],
		*priorities[domain.PriorityNormal],
		*priorities[domain.PriorityLow],
	}
	byLabel := make([]domain.BreakdownEntry, 0, len(labels))
	for _, entry := range labels {
		byLabel = append(byLabel, *entry)
	}
	sort.Slice(byLabel, func(i, j int) bool { return byLabel[i].Key < byLabel[j].Key })
	domain.SortAttention(attention)

	return &domain.WorkspaceAnalytics{
		WorkspaceID: query.Scope.WorkspaceID,
		From:        fromDay,
		To:          toDay,
		Totals:      totals,
		Averages:    averageMetrics(metrics),
		Series:      series,
		ByPriority:  byPriority,
		ByLabel:     byLabel,
		Attention:   attention,
		Categories:  categories,
		GeneratedAt: now.UTC(),
	}
}

// averageMetrics leaves every mean nil over an empty population.
func averageMetrics(metrics []domain.CompletionMetrics) domain.Averages {
	out := domain.Averages{Population: len(metrics)}
	if len(metrics) == 0 {
		return out
	}
	var scroll, onPage, active float64
	for _, m := range metrics {
		scroll += m.MaxScrollPercent
		onPage += m.TimeOnPageSeconds
		active += m.ActiveSeconds
	}
	n := float64(len(metrics))
	scroll, onPage, active = scroll/n, onPage/n, active/n
	out.MaxScrollPercent = &scroll
	out.TimeOnPageSeconds = &onPage
	out.ActiveSeconds = &active
	return out
}
