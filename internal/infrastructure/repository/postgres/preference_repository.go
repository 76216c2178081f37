package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

type PreferenceRepository struct {
	db *sql.DB
}

func NewPreferenceRepository(db *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// GetPreference defaults to ask when nothing is stored.
func (r *PreferenceRepository) GetPreference(ctx context.Context, documentID, accountID string) (domain.NotifyPreference, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `
SELECT preference FROM notification_preferences WHERE document_id = $1 AND account_id = $2
`, documentID, accountID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotifyAsk, nil
	}
	if err != nil {
		return "", mapError("get preference", err)
	}
	return domain.NotifyPreference(raw), nil
}

func (r *PreferenceRepository) SetPreference(ctx context.Context, documentID, accountID string, pref domain.NotifyPreference) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notification_preferences (document_id, account_id, preference, updated_at)
VALUES ($1,$2,$3,now())
ON CONFLICT (document_id, account_id) DO UPDATE
SET preference = EXCLUDED.preference, updated_at = now()
`, documentID, accountID, string(pref))
	return mapError("set preference", err)
}
