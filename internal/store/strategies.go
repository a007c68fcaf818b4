package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/PortNumber53/adroom/backend/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const strategyColumns = `id, user_id, type, goal, duration_days, budget_daily, budget_total, total_spend,
	roas, target_roas, clicks, impressions, status, campaign_id,
	COALESCE(platforms, ARRAY[]::text[]), plan, content_calendar, optimization_log,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStrategy(sc rowScanner) (*models.StrategyRecord, error) {
	var (
		rec        models.StrategyRecord
		targetROAS sql.NullFloat64
		campaignID sql.NullString
		plan       []byte
		calendar   []byte
		optLog     []byte
	)
	if err := sc.Scan(
		&rec.ID, &rec.UserID, &rec.Type, &rec.Goal, &rec.DurationDays,
		&rec.BudgetDaily, &rec.BudgetTotal, &rec.TotalSpend,
		&rec.ROAS, &targetROAS, &rec.Clicks, &rec.Impressions, &rec.Status, &campaignID,
		pq.Array(&rec.Platforms), &plan, &calendar, &optLog,
		&rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if targetROAS.Valid {
		rec.TargetROAS = targetROAS.Float64
	}
	rec.CampaignID = strings.TrimSpace(campaignID.String)
	if len(plan) > 0 && string(plan) != "null" {
		rec.Plan = json.RawMessage(plan)
	}
	// A malformed JSON column resets to empty so one bad row never hides the rest of a listing.
	rec.ContentCalendar = []models.CalendarEntry{}
	if len(calendar) > 0 && string(calendar) != "null" {
		if err := json.Unmarshal(calendar, &rec.ContentCalendar); err != nil {
			log.Printf("[Store] bad content_calendar strategyId=%s err=%v", rec.ID, err)
			rec.ContentCalendar = []models.CalendarEntry{}
		}
	}
	rec.OptimizationLog = []models.OptimizationLogEntry{}
	if len(optLog) > 0 && string(optLog) != "null" {
		if err := json.Unmarshal(optLog, &rec.OptimizationLog); err != nil {
			log.Printf("[Store] bad optimization_log strategyId=%s err=%v", rec.ID, err)
			rec.OptimizationLog = []models.OptimizationLogEntry{}
		}
	}
	if rec.ContentCalendar == nil {
		rec.ContentCalendar = []models.CalendarEntry{}
	}
	if rec.OptimizationLog == nil {
		rec.OptimizationLog = []models.OptimizationLogEntry{}
	}
	if rec.Platforms == nil {
		rec.Platforms = []string{}
	}
	return &rec, nil
}

func (s *Store) queryStrategies(ctx context.Context, query string, args ...any) ([]*models.StrategyRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.StrategyRecord, 0)
	for rows.Next() {
		rec, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateStrategy persists an approved plan. Missing ids and statuses are filled in.
func (s *Store) CreateStrategy(ctx context.Context, rec *models.StrategyRecord) (*models.StrategyRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("strategy is nil")
	}
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		id = uuid.NewString()
	}
	status := rec.Status
	if status == "" {
		status = models.StrategyStatusActive
	}
	calendar := rec.ContentCalendar
	if calendar == nil {
		calendar = []models.CalendarEntry{}
	}
	calJSON, err := json.Marshal(calendar)
	if err != nil {
		return nil, err
	}
	var plan interface{}
	if len(rec.Plan) > 0 {
		plan = string(rec.Plan)
	}
	var targetROAS interface{}
	if rec.TargetROAS > 0 {
		targetROAS = rec.TargetROAS
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO public.strategies
		  (id, user_id, type, goal, duration_days, budget_daily, budget_total, target_roas,
		   status, campaign_id, platforms, plan, content_calendar, optimization_log, created_at, updated_at)
		VALUES
		  ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10,''), $11, $12::jsonb, $13::jsonb, '[]'::jsonb, NOW(), NOW())
		RETURNING `+strategyColumns,
		id, rec.UserID, rec.Type, rec.Goal, rec.DurationDays, rec.BudgetDaily, rec.BudgetTotal, targetROAS,
		status, rec.CampaignID, pq.Array(rec.Platforms), plan, string(calJSON))
	return scanStrategy(row)
}

func (s *Store) ListStrategiesForUser(ctx context.Context, userID string) ([]*models.StrategyRecord, error) {
	return s.queryStrategies(ctx, `SELECT `+strategyColumns+` FROM public.strategies WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ActiveStrategies returns every active strategy in whatever order Postgres yields them.
func (s *Store) ActiveStrategies(ctx context.Context) ([]*models.StrategyRecord, error) {
	return s.queryStrategies(ctx, `SELECT `+strategyColumns+` FROM public.strategies WHERE status = 'active'`)
}

func (s *Store) ActivePaidStrategies(ctx context.Context) ([]*models.StrategyRecord, error) {
	return s.queryStrategies(ctx, `SELECT `+strategyColumns+` FROM public.strategies WHERE status = 'active' AND type = 'paid'`)
}

// UpdateStrategyOptimization writes the outcome of one optimization pass for a strategy.
func (s *Store) UpdateStrategyOptimization(ctx context.Context, id, status string, budgetDaily float64, log []models.OptimizationLogEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	if log == nil {
		log = []models.OptimizationLogEntry{}
	}
	b, err := json.Marshal(log)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE public.strategies
		   SET status = $2,
		       budget_daily = $3,
		       optimization_log = $4::jsonb,
		       updated_at = NOW()
		 WHERE id = $1
	`, id, status, budgetDaily, string(b))
	return err
}

// UpdateStrategyPerformance stores freshly synced spend and engagement counters.
func (s *Store) UpdateStrategyPerformance(ctx context.Context, id string, totalSpend, roas float64, clicks, impressions int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.strategies
		   SET total_spend = $2,
		       roas = $3,
		       clicks = $4,
		       impressions = $5,
		       updated_at = NOW()
		 WHERE id = $1
	`, id, totalSpend, roas, clicks, impressions)
	return err
}

func (s *Store) UpdateStrategyCalendar(ctx context.Context, id string, calendar []models.CalendarEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	if calendar == nil {
		calendar = []models.CalendarEntry{}
	}
	b, err := json.Marshal(calendar)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE public.strategies
		   SET content_calendar = $2::jsonb,
		       updated_at = NOW()
		 WHERE id = $1
	`, id, string(b))
	return err
}

func (s *Store) SetStrategyStatus(ctx context.Context, id, status string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE public.strategies SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}
