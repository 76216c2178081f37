package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

const documentColumns = `id, owner_account_id, workspace_id, title, public_id, current_version_id, tags, priority, labels,
	max_acknowledgers, require_recipient_identity, password_hash, created_at`

const versionColumns = `id, document_id, version_number, version_label, source_type, filename, content_type,
	content_hash, size_bytes, page_count, blob_handle, created_at`

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) CreateWithVersion(ctx context.Context, doc *domain.Document, version *domain.DocumentVersion, recipients []domain.Recipient) error {
	const op = "create document"
	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	labelsJSON, err := json.Marshal(doc.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO documents (
	id, owner_account_id, workspace_id, title, public_id, current_version_id, tags, priority, labels,
	max_acknowledgers, require_recipient_identity, password_hash, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
			doc.ID, doc.OwnerAccountID, emptyAsNull(doc.WorkspaceID), doc.Title, doc.PublicID, version.ID,
			tagsJSON, string(doc.Priority), labelsJSON, nullInt(doc.Rules.MaxAcknowledgers),
			doc.Rules.RequireRecipientIdentity, doc.PasswordHash, doc.CreatedAt,
		)
		if err != nil {
			return mapError(op, err)
		}
		if err := insertVersion(ctx, tx, version); err != nil {
			return err
		}
		for _, recipient := range recipients {
			if _, err := upsertRecipient(ctx, tx, recipient); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendVersion serializes writers on the document row. The next number is
// computed under the lock; the pointer only moves if nobody else moved it.
func (r *DocumentRepository) AppendVersion(ctx context.Context, version *domain.DocumentVersion, requestedNumber *int) error {
	const op = "append version"
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var expected sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT current_version_id FROM documents WHERE id = $1 FOR UPDATE`, version.DocumentID).
			Scan(&expected)
		if err != nil {
			return mapError(op, err)
		}

		var maxNumber int
		err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version_number), 0) FROM document_versions WHERE document_id = $1`, version.DocumentID).
			Scan(&maxNumber)
		if err != nil {
			return mapError(op, err)
		}

		next := maxNumber + 1
		if requestedNumber != nil {
			if *requestedNumber <= maxNumber {
				return domain.Errorf(domain.ErrConflict, op, "version %d is not above current maximum %d", *requestedNumber, maxNumber)
			}
			next = *requestedNumber
		}
		version.VersionNumber = next

		if err := insertVersion(ctx, tx, version); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
UPDATE documents
SET current_version_id = $2
WHERE id = $1 AND current_version_id IS NOT DISTINCT FROM $3
`, version.DocumentID, version.ID, expected)
		if err != nil {
			return mapError(op, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return domain.Errorf(domain.ErrConflict, op, "current version of %s moved concurrently", version.DocumentID)
		}
		return nil
	})
}

func insertVersion(ctx context.Context, tx *sql.Tx, v *domain.DocumentVersion) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO document_versions (
	id, document_id, version_number, version_label, source_type, filename, content_type,
	content_hash, size_bytes, page_count, blob_handle, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		v.ID, v.DocumentID, v.VersionNumber, v.VersionLabel, string(v.SourceType), v.Filename, v.ContentType,
		v.ContentHash, v.SizeBytes, v.PageCount, v.BlobHandle, v.CreatedAt,
	)
	return mapError("insert version", err)
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFoundOr(err, "document %s", id)
	}
	return doc, nil
}

func (r *DocumentRepository) GetByPublicID(ctx context.Context, publicID string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE public_id = $1`, publicID)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFoundOr(err, "public document %s", publicID)
	}
	return doc, nil
}

func (r *DocumentRepository) GetVersion(ctx context.Context, documentID, versionID string) (*domain.DocumentVersion, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+versionColumns+`
FROM document_versions
WHERE document_id = $1 AND id = $2
`, documentID, versionID)
	v, err := scanVersion(row)
	if err != nil {
		return nil, notFoundOr(err, "version %s of document %s", versionID, documentID)
	}
	return v, nil
}

func (r *DocumentRepository) GetCurrentVersion(ctx context.Context, documentID string) (*domain.DocumentVersion, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT v.id, v.document_id, v.version_number, v.version_label, v.source_type, v.filename, v.content_type,
	v.content_hash, v.size_bytes, v.page_count, v.blob_handle, v.created_at
FROM documents d
JOIN document_versions v ON v.id = d.current_version_id
WHERE d.id = $1
`, documentID)
	v, err := scanVersion(row)
	if err != nil {
		return nil, notFoundOr(err, "current version of document %s", documentID)
	}
	return v, nil
}

func (r *DocumentRepository) ListVersions(ctx context.Context, documentID string) ([]domain.DocumentVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+versionColumns+`
FROM document_versions
WHERE document_id = $1
ORDER BY version_number ASC
`, documentID)
	if err != nil {
		return nil, mapError("list versions", err)
	}
	defer rows.Close()

	out := make([]domain.DocumentVersion, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) CountPersonalCreatedSince(ctx context.Context, ownerAccountID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM documents
WHERE owner_account_id = $1 AND workspace_id IS NULL AND created_at >= $2
`, ownerAccountID, since).Scan(&count)
	if err != nil {
		return 0, mapError("count documents", err)
	}
	return count, nil
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc       domain.Document
		workspace sql.NullString
		current   sql.NullString
		tagsRaw   []byte
		labelsRaw []byte
		priority  string
		maxAck    sql.NullInt64
	)
	err := row.Scan(
		&doc.ID, &doc.OwnerAccountID, &workspace, &doc.Title, &doc.PublicID, &current, &tagsRaw, &priority,
		&labelsRaw, &maxAck, &doc.Rules.RequireRecipientIdentity, &doc.PasswordHash, &doc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.WorkspaceID = workspace.String
	doc.CurrentVersionID = current.String
	doc.Priority = domain.Priority(priority)
	doc.Rules.MaxAcknowledgers = intPtr(maxAck)
	doc.CreatedAt = doc.CreatedAt.UTC()
	if err := json.Unmarshal(tagsRaw, &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal(labelsRaw, &doc.Labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}
	if doc.Tags == nil {
		doc.Tags = map[string]string{}
	}
	if doc.Labels == nil {
		doc.Labels = []string{}
	}
	return &doc, nil
}

func scanVersion(row rowScanner) (*domain.DocumentVersion, error) {
	var (
		v          domain.DocumentVersion
		sourceType string
	)
	err := row.Scan(
		&v.ID, &v.DocumentID, &v.VersionNumber, &v.VersionLabel, &sourceType, &v.Filename, &v.ContentType,
		&v.ContentHash, &v.SizeBytes, &v.PageCount, &v.BlobHandle, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.SourceType = domain.SourceType(sourceType)
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}

// notFoundOr turns sql.ErrNoRows into a descriptive NotFound and maps
// everything else.
func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Errorf(domain.ErrNotFound, "lookup", format+" not found", args...)
	}
	return mapError("lookup", err)
}
