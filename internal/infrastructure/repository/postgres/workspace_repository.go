package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

// WorkspaceRepository covers workspaces and their membership rows.
type WorkspaceRepository struct {
	db *sql.DB
}

func NewWorkspaceRepository(db *sql.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

func (r *WorkspaceRepository) GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error) {
	var (
		ws        domain.Workspace
		plan      string
		schemaRaw []byte
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, name, slug, plan, seat_limit, mandatory_identity, mandatory_bulk_email, tag_schema, created_at
FROM workspaces
WHERE id = $1
`, id).Scan(
		&ws.ID, &ws.Name, &ws.Slug, &plan, &ws.SeatLimit, &ws.Policy.MandatoryIdentity,
		&ws.Policy.MandatoryBulkEmail, &schemaRaw, &ws.CreatedAt,
	)
	if err != nil {
		return nil, notFoundOr(err, "workspace %s", id)
	}
	ws.Plan = domain.Plan(plan)
	ws.CreatedAt = ws.CreatedAt.UTC()
	if err := json.Unmarshal(schemaRaw, &ws.TagSchema); err != nil {
		return nil, fmt.Errorf("unmarshal tag schema: %w", err)
	}
	return &ws, nil
}

func (r *WorkspaceRepository) ListWorkspaceIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM workspaces ORDER BY id`)
	if err != nil {
		return nil, mapError("list workspaces", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workspace id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return out, nil
}

func (r *WorkspaceRepository) GetMember(ctx context.Context, workspaceID, userID string) (*domain.Member, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT workspace_id, user_id, role, license_active, joined_at
FROM workspace_members
WHERE workspace_id = $1 AND user_id = $2
`, workspaceID, userID)
	member, err := scanMember(row)
	if err != nil {
		return nil, notFoundOr(err, "member %s of workspace %s", userID, workspaceID)
	}
	return member, nil
}

func (r *WorkspaceRepository) ListMembers(ctx context.Context, workspaceID string) ([]domain.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT workspace_id, user_id, role, license_active, joined_at
FROM workspace_members
WHERE workspace_id = $1
ORDER BY user_id
`, workspaceID)
	if err != nil {
		return nil, mapError("list members", err)
	}
	defer rows.Close()

	out := make([]domain.Member, 0)
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, *member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

func (r *WorkspaceRepository) CountActiveLicenses(ctx context.Context, workspaceID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM workspace_members WHERE workspace_id = $1 AND license_active
`, workspaceID).Scan(&count)
	if err != nil {
		return 0, mapError("count licenses", err)
	}
	return count, nil
}

// AssignLicense locks the workspace row so two admins cannot both take the
// last seat. Assigning to an already licensed member is a no-op.
func (r *WorkspaceRepository) AssignLicense(ctx context.Context, workspaceID, userID string, seatLimit int) error {
	const op = "assign license"
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM workspaces WHERE id = $1 FOR UPDATE`, workspaceID).Scan(&locked)
		if err != nil {
			return notFoundOr(err, "workspace %s", workspaceID)
		}

		var active bool
		err = tx.QueryRowContext(ctx, `
SELECT license_active FROM workspace_members WHERE workspace_id = $1 AND user_id = $2
`, workspaceID, userID).Scan(&active)
		if err != nil {
			return notFoundOr(err, "member %s of workspace %s", userID, workspaceID)
		}
		if active {
			return nil
		}

		var used int
		err = tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM workspace_members WHERE workspace_id = $1 AND license_active
`, workspaceID).Scan(&used)
		if err != nil {
			return mapError(op, err)
		}
		if used >= seatLimit {
			return domain.Errorf(domain.ErrSeatLimitExceeded, op, "%d of %d seats used", used, seatLimit)
		}

		_, err = tx.ExecContext(ctx, `
UPDATE workspace_members SET license_active = TRUE WHERE workspace_id = $1 AND user_id = $2
`, workspaceID, userID)
		return mapError(op, err)
	})
}

func (r *WorkspaceRepository) RevokeLicense(ctx context.Context, workspaceID, userID string) error {
	return r.updateMember(ctx, "revoke license", `
UPDATE workspace_members SET license_active = FALSE WHERE workspace_id = $1 AND user_id = $2
`, workspaceID, userID)
}

func (r *WorkspaceRepository) UpdateRole(ctx context.Context, workspaceID, userID string, role domain.Role) error {
	return r.updateMember(ctx, "update role", `
UPDATE workspace_members SET role = $3 WHERE workspace_id = $1 AND user_id = $2
`, workspaceID, userID, string(role))
}

func (r *WorkspaceRepository) updateMember(ctx context.Context, op, query string, workspaceID, userID string, extra ...any) error {
	args := append([]any{workspaceID, userID}, extra...)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Errorf(domain.ErrNotFound, op, "member %s of workspace %s not found", userID, workspaceID)
	}
	return nil
}

func scanMember(row rowScanner) (*domain.Member, error) {
	var (
		member domain.Member
		role   string
	)
	if err := row.Scan(&member.WorkspaceID, &member.UserID, &role, &member.LicenseActive, &member.JoinedAt); err != nil {
		return nil, err
	}
	member.Role = domain.Role(role)
	member.JoinedAt = member.JoinedAt.UTC()
	return &member, nil
}
