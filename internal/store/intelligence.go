package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// InsertIntelligenceLog appends one entry. ID and CreatedAt are assigned here.
func (s *Store) InsertIntelligenceLog(ctx context.Context, e *models.IntelligenceLogEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("intelligence entry is nil")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Priority < models.PriorityUrgent || e.Priority > models.PriorityLow {
		e.Priority = models.PriorityNormal
	}
	details := e.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	b, err := json.Marshal(details)
	if err != nil {
		return err
	}
	actions := e.RecommendedActions
	if actions == nil {
		actions = []string{}
	}
	e.CreatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO public.intelligence_logs
		  (id, user_id, strategy_id, type, platform, summary, details, priority, recommended_actions, expires_at, created_at)
		VALUES
		  ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11)
	`, e.ID, e.UserID, e.StrategyID, e.Type, e.Platform, e.Summary, string(b), e.Priority, pq.Array(actions), e.ExpiresAt, e.CreatedAt)
	return err
}

// ListIntelligenceForUser returns unexpired entries addressed to the user plus global ones,
// most urgent first.
func (s *Store) ListIntelligenceForUser(ctx context.Context, userID string, limit int) ([]models.IntelligenceLogEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, strategy_id, type, platform, summary, details, priority,
		       COALESCE(recommended_actions, ARRAY[]::text[]), expires_at, created_at
		  FROM public.intelligence_logs
		 WHERE (user_id = $1 OR user_id IS NULL)
		   AND (expires_at IS NULL OR expires_at > NOW())
		 ORDER BY priority ASC, created_at DESC
		 LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.IntelligenceLogEntry, 0)
	for rows.Next() {
		var (
			e          models.IntelligenceLogEntry
			uid, sid   sql.NullString
			detailsRaw []byte
			expiresAt  sql.NullTime
		)
		if err := rows.Scan(&e.ID, &uid, &sid, &e.Type, &e.Platform, &e.Summary, &detailsRaw, &e.Priority,
			pq.Array(&e.RecommendedActions), &expiresAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		if uid.Valid {
			v := uid.String
			e.UserID = &v
		}
		if sid.Valid {
			v := sid.String
			e.StrategyID = &v
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			e.ExpiresAt = &t
		}
		e.Details = map[string]interface{}{}
		if len(detailsRaw) > 0 {
			_ = json.Unmarshal(detailsRaw, &e.Details)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteExpiredIntelligence removes entries whose expiry passed before now.
func (s *Store) DeleteExpiredIntelligence(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM public.intelligence_logs
		 WHERE expires_at IS NOT NULL
		   AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
