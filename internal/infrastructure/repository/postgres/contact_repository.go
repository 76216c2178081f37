package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

// ContactRepository is the Postgres-backed address book.
type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// ContactsByIDs returns the contacts of the workspace among ids. The pgx
// driver encodes ids as text[]. Order is unspecified; callers re-order by
// their selection.
func (r *ContactRepository) ContactsByIDs(ctx context.Context, workspaceID string, ids []string) ([]domain.Contact, error) {
	if len(ids) == 0 {
		return []domain.Contact{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, workspace_id, name, email
FROM contacts
WHERE workspace_id = $1 AND id = ANY($2)
`, workspaceID, ids)
	if err != nil {
		return nil, mapError("list contacts", err)
	}
	defer rows.Close()

	out := make([]domain.Contact, 0, len(ids))
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Email); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return out, nil
}

// GroupsByIDs loads groups with their members in one query. Members keep their
// stored position.
func (r *ContactRepository) GroupsByIDs(ctx context.Context, workspaceID string, ids []string) ([]domain.ContactGroup, error) {
	if len(ids) == 0 {
		return []domain.ContactGroup{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT g.id, g.workspace_id, g.name, c.id, c.name, c.email
FROM contact_groups g
LEFT JOIN contact_group_members m ON m.group_id = g.id
LEFT JOIN contacts c ON c.id = m.contact_id
WHERE g.workspace_id = $1 AND g.id = ANY($2)
ORDER BY g.id, m.position, c.id
`, workspaceID, ids)
	if err != nil {
		return nil, mapError("list contact groups", err)
	}
	defer rows.Close()

	out := make([]domain.ContactGroup, 0, len(ids))
	index := make(map[string]int, len(ids))
	for rows.Next() {
		var (
			group        domain.ContactGroup
			contactID    sql.NullString
			contactName  sql.NullString
			contactEmail sql.NullString
		)
		if err := rows.Scan(&group.ID, &group.WorkspaceID, &group.Name, &contactID, &contactName, &contactEmail); err != nil {
			return nil, fmt.Errorf("scan contact group: %w", err)
		}
		pos, ok := index[group.ID]
		if !ok {
			group.Members = []domain.GroupMember{}
			out = append(out, group)
			pos = len(out) - 1
			index[group.ID] = pos
		}
		if contactID.Valid {
			out[pos].Members = append(out[pos].Members, domain.GroupMember{
				ContactID: contactID.String,
				Name:      contactName.String,
				Email:     contactEmail.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact groups: %w", err)
	}
	return out, nil
}
