package store

import (
	"context"
	"fmt"
	"time"
)

// ConsumeRequests implements basic daily quota tracking per ad platform.
// It returns ok=false when the daily max would be exceeded; dailyMax <= 0 means unlimited.
func (s *Store) ConsumeRequests(ctx context.Context, platform string, add int64, dailyMax int64) (ok bool, used int64, err error) {
	if add <= 0 {
		return true, 0, nil
	}
	if err := s.ready(); err != nil {
		return false, 0, err
	}
	day := time.Now().UTC().Format("2006-01-02")
	id := fmt.Sprintf("%s:%s", platform, day)
	var newUsed int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO public.ad_platform_usage (id, platform, day, requests_used, last_updated_at)
		VALUES ($1, $2, $3::date, $4, NOW())
		ON CONFLICT (platform, day) DO UPDATE SET
		  requests_used = public.ad_platform_usage.requests_used + EXCLUDED.requests_used,
		  last_updated_at = NOW()
		RETURNING requests_used
	`, id, platform, day, add).Scan(&newUsed); err != nil {
		return false, 0, err
	}
	if dailyMax > 0 && newUsed > dailyMax {
		return false, newUsed, nil
	}
	return true, newUsed, nil
}
