package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

// AnalyticsRepository serves the read-side aggregates for dashboards.
type AnalyticsRepository struct {
	db *sql.DB
}

func NewAnalyticsRepository(db *sql.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

func (r *AnalyticsRepository) ListDocumentStats(ctx context.Context, workspaceID string) ([]domain.DocumentStats, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT d.id, d.title, d.priority, d.labels, d.created_at, v.created_at, d.max_acknowledgers,
	(SELECT COUNT(*) FROM recipients r WHERE r.document_id = d.id),
	COALESCE(c.total, 0), COALESCE(c.acknowledged, 0), c.first_ack, c.latest_ack
FROM documents d
LEFT JOIN document_versions v ON v.id = d.current_version_id
LEFT JOIN (
	SELECT document_id,
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE acknowledged) AS acknowledged,
		MIN(submitted_at) FILTER (WHERE acknowledged) AS first_ack,
		MAX(submitted_at) FILTER (WHERE acknowledged) AS latest_ack
	FROM completions
	GROUP BY document_id
) c ON c.document_id = d.id
WHERE d.workspace_id = $1
ORDER BY d.created_at ASC, d.id ASC
`, workspaceID)
	if err != nil {
		return nil, mapError("list document stats", err)
	}
	defer rows.Close()

	out := make([]domain.DocumentStats, 0)
	for rows.Next() {
		var (
			s         domain.DocumentStats
			priority  string
			labelsRaw []byte
			versionAt sql.NullTime
			maxAck    sql.NullInt64
			firstAck  sql.NullTime
			latestAck sql.NullTime
		)
		err := rows.Scan(
			&s.DocumentID, &s.Title, &priority, &labelsRaw, &s.CreatedAt, &versionAt, &maxAck,
			&s.RecipientCount, &s.CompletionCount, &s.AcknowledgedCount, &firstAck, &latestAck,
		)
		if err != nil {
			return nil, fmt.Errorf("scan document stats: %w", err)
		}
		if err := json.Unmarshal(labelsRaw, &s.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal labels: %w", err)
		}
		s.Priority = domain.Priority(priority)
		s.CreatedAt = s.CreatedAt.UTC()
		if versionAt.Valid {
			s.CurrentVersionCreatedAt = versionAt.Time.UTC()
		}
		s.MaxAcknowledgers = intPtr(maxAck)
		s.FirstAcknowledgedAt = timePtr(firstAck)
		s.LatestAcknowledgedAt = timePtr(latestAck)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document stats: %w", err)
	}
	return out, nil
}

// ListCompletionMetrics returns every completion of the workspace, optionally
// only those submitted since the given instant.
func (r *AnalyticsRepository) ListCompletionMetrics(ctx context.Context, workspaceID string, since *time.Time) ([]domain.CompletionMetrics, error) {
	var sinceArg sql.NullTime
	if since != nil {
		sinceArg = sql.NullTime{Time: *since, Valid: true}
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT c.max_scroll_percent, c.time_on_page_seconds, c.active_seconds
FROM completions c
JOIN documents d ON d.id = c.document_id
WHERE d.workspace_id = $1 AND ($2::timestamptz IS NULL OR c.submitted_at >= $2)
ORDER BY c.submitted_at ASC, c.id ASC
`, workspaceID, sinceArg)
	if err != nil {
		return nil, mapError("list completion metrics", err)
	}
	defer rows.Close()

	out := make([]domain.CompletionMetrics, 0)
	for rows.Next() {
		var m domain.CompletionMetrics
		if err := rows.Scan(&m.MaxScrollPercent, &m.TimeOnPageSeconds, &m.ActiveSeconds); err != nil {
			return nil, fmt.Errorf("scan completion metrics: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completion metrics: %w", err)
	}
	return out, nil
}
