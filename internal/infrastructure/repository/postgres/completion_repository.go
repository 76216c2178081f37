package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

type CompletionRepository struct {
	db *sql.DB
}

func NewCompletionRepository(db *sql.DB) *CompletionRepository {
	return &CompletionRepository{db: db}
}

// InsertGuarded locks the document row so the acknowledgement count, the
// current version and the insert see the same state. Concurrent submitters
// queue on the lock, which keeps a document from collecting more than
// max_acknowledgers. An empty DocumentVersionID is filled with the version
// current under the lock; any other version fails with ErrConflict.
func (r *CompletionRepository) InsertGuarded(ctx context.Context, completion *domain.Completion, identity *domain.Recipient) error {
	const op = "insert completion"
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var (
			maxAck  sql.NullInt64
			current sql.NullString
		)
		err := tx.QueryRowContext(ctx, `SELECT max_acknowledgers, current_version_id FROM documents WHERE id = $1 FOR UPDATE`, completion.DocumentID).
			Scan(&maxAck, &current)
		if err != nil {
			return notFoundOr(err, "document %s", completion.DocumentID)
		}

		if maxAck.Valid {
			var acks int64
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM completions WHERE document_id = $1 AND acknowledged`, completion.DocumentID).
				Scan(&acks)
			if err != nil {
				return mapError(op, err)
			}
			if acks >= maxAck.Int64 {
				return domain.Errorf(domain.ErrDocumentClosed, op, "document %s reached %d acknowledgements", completion.DocumentID, maxAck.Int64)
			}
		}

		switch completion.DocumentVersionID {
		case "":
			completion.DocumentVersionID = current.String
		case current.String:
		default:
			return domain.Errorf(domain.ErrConflict, op, "version %s is no longer current for document %s", completion.DocumentVersionID, completion.DocumentID)
		}

		if identity != nil {
			identity.DocumentID = completion.DocumentID
			id, err := linkRecipient(ctx, tx, *identity)
			if err != nil {
				return err
			}
			completion.RecipientID = &id
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO completions (
	id, document_id, document_version_id, recipient_id, acknowledged,
	max_scroll_percent, time_on_page_seconds, active_seconds, submitted_at, ip, user_agent
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
			completion.ID, completion.DocumentID, completion.DocumentVersionID, nullString(completion.RecipientID),
			completion.Acknowledged, completion.Metrics.MaxScrollPercent, completion.Metrics.TimeOnPageSeconds,
			completion.Metrics.ActiveSeconds, completion.SubmittedAt, nullString(completion.IP), nullString(completion.UserAgent),
		)
		return mapError(op, err)
	})
}

func (r *CompletionRepository) ListByDocument(ctx context.Context, documentID string) ([]domain.Completion, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, document_version_id, recipient_id, acknowledged,
	max_scroll_percent, time_on_page_seconds, active_seconds, submitted_at, ip, user_agent
FROM completions
WHERE document_id = $1
ORDER BY submitted_at ASC, id ASC
`, documentID)
	if err != nil {
		return nil, mapError("list completions", err)
	}
	defer rows.Close()

	out := make([]domain.Completion, 0)
	for rows.Next() {
		var (
			c         domain.Completion
			recipient sql.NullString
			ip        sql.NullString
			userAgent sql.NullString
		)
		err := rows.Scan(
			&c.ID, &c.DocumentID, &c.DocumentVersionID, &recipient, &c.Acknowledged,
			&c.Metrics.MaxScrollPercent, &c.Metrics.TimeOnPageSeconds, &c.Metrics.ActiveSeconds,
			&c.SubmittedAt, &ip, &userAgent,
		)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		c.RecipientID = stringPtr(recipient)
		c.IP = stringPtr(ip)
		c.UserAgent = stringPtr(userAgent)
		c.SubmittedAt = c.SubmittedAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completions: %w", err)
	}
	return out, nil
}

func (r *CompletionRepository) AcknowledgementStats(ctx context.Context, documentID string) (int, *time.Time, error) {
	var (
		count  int
		latest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), MAX(submitted_at)
FROM completions
WHERE document_id = $1 AND acknowledged
`, documentID).Scan(&count, &latest)
	if err != nil {
		return 0, nil, mapError("acknowledgement stats", err)
	}
	return count, timePtr(latest), nil
}
