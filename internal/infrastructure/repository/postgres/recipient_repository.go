package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type RecipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// upsertRecipient is keyed by (document, normalized email). A blank name never
// overwrites a stored one. It returns the id of the stored row.
func upsertRecipient(ctx context.Context, q queryRower, recipient domain.Recipient) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `
INSERT INTO recipients (id, document_id, name, email, source, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (document_id, email) DO UPDATE
SET name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE recipients.name END,
	source = EXCLUDED.source
RETURNING id
`,
		recipient.ID, recipient.DocumentID, recipient.Name, domain.NormalizeEmail(recipient.Email),
		string(recipient.Source), recipient.CreatedAt,
	).Scan(&id)
	if err != nil {
		return "", mapError("upsert recipient", err)
	}
	return id, nil
}

// linkRecipient returns the id of the recipient stored under the identity's
// email, inserting it when missing. An existing row is left untouched so a
// submitted identity cannot rename or re-source a known recipient.
func linkRecipient(ctx context.Context, q queryRower, recipient domain.Recipient) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `
INSERT INTO recipients (id, document_id, name, email, source, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (document_id, email) DO UPDATE
SET email = recipients.email
RETURNING id
`,
		recipient.ID, recipient.DocumentID, recipient.Name, domain.NormalizeEmail(recipient.Email),
		string(recipient.Source), recipient.CreatedAt,
	).Scan(&id)
	if err != nil {
		return "", mapError("link recipient", err)
	}
	return id, nil
}

func (r *RecipientRepository) UpsertRecipients(ctx context.Context, documentID string, recipients []domain.Recipient) ([]domain.Recipient, error) {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, recipient := range recipients {
			recipient.DocumentID = documentID
			if _, err := upsertRecipient(ctx, tx, recipient); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.ListRecipients(ctx, documentID)
}

func (r *RecipientRepository) ListRecipients(ctx context.Context, documentID string) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, name, email, source, created_at
FROM recipients
WHERE document_id = $1
ORDER BY seq ASC
`, documentID)
	if err != nil {
		return nil, mapError("list recipients", err)
	}
	defer rows.Close()

	out := make([]domain.Recipient, 0)
	for rows.Next() {
		recipient, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *recipient)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return out, nil
}

func (r *RecipientRepository) GetRecipient(ctx context.Context, documentID, recipientID string) (*domain.Recipient, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, document_id, name, email, source, created_at
FROM recipients
WHERE document_id = $1 AND id = $2
`, documentID, recipientID)
	recipient, err := scanRecipient(row)
	if err != nil {
		return nil, notFoundOr(err, "recipient %s of document %s", recipientID, documentID)
	}
	return recipient, nil
}

func scanRecipient(row rowScanner) (*domain.Recipient, error) {
	var (
		recipient domain.Recipient
		source    string
	)
	if err := row.Scan(&recipient.ID, &recipient.DocumentID, &recipient.Name, &recipient.Email, &source, &recipient.CreatedAt); err != nil {
		return nil, err
	}
	recipient.Source = domain.RecipientSource(source)
	recipient.CreatedAt = recipient.CreatedAt.UTC()
	return &recipient, nil
}
