package store

import (
	"context"
	"fmt"

	"github.com/PortNumber53/adroom/backend/internal/models"
)

// GetProfile returns the user's profile row as a JSON object, or nil when the user has none.
func (s *Store) GetProfile(ctx context.Context, userID string) (map[string]interface{}, error) {
	return s.queryJSONRow(ctx, `SELECT row_to_json(p) FROM public.profiles p WHERE p.id = $1`, userID)
}

// GetContextRecord loads one product/service/brand row. A missing row yields (nil, nil).
func (s *Store) GetContextRecord(ctx context.Context, contextType, id string) (map[string]interface{}, error) {
	table, err := ContextTable(contextType)
	if err != nil {
		return nil, err
	}
	// table comes from the fixed contextTables map, never from the caller.
	q := fmt.Sprintf(`SELECT row_to_json(c) FROM public.%s c WHERE c.id = $1`, table)
	return s.queryJSONRow(ctx, q, id)
}

// RecentStrategies returns the user's newest strategy summaries, newest first.
func (s *Store) RecentStrategies(ctx context.Context, userID string, limit int) ([]models.StrategySummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, goal, status, roas, created_at
		  FROM public.strategies
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.StrategySummary, 0, limit)
	for rows.Next() {
		var sum models.StrategySummary
		if err := rows.Scan(&sum.ID, &sum.Type, &sum.Goal, &sum.Status, &sum.ROAS, &sum.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PlatformStatus returns every row of the global platform status table, unfiltered.
func (s *Store) PlatformStatus(ctx context.Context) ([]map[string]interface{}, error) {
	return s.queryJSONRows(ctx, `SELECT row_to_json(s) FROM public.platform_status s`)
}

// GlobalTrends returns up to limit trend rows, filtered by category when one is given.
func (s *Store) GlobalTrends(ctx context.Context, category string, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 10
	}
	if category != "" {
		return s.queryJSONRows(ctx, `
			SELECT row_to_json(t) FROM public.global_trends t
			 WHERE t.category = $1
			 ORDER BY t.created_at DESC
			 LIMIT $2
		`, category, limit)
	}
	return s.queryJSONRows(ctx, `
		SELECT row_to_json(t) FROM public.global_trends t
		 ORDER BY t.created_at DESC
		 LIMIT $1
	`, limit)
}
