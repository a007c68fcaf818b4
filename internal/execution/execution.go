// Package execution keeps stored strategy state in step with the ad platform:
// it syncs spend/ROAS, enforces the total budget, and publishes due calendar posts.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/adplatform"
	"github.com/PortNumber53/adroom/backend/internal/models"
)

const IntelligenceTypeBudgetExhausted = "budget_exhausted"

type Store interface {
	ActiveStrategies(ctx context.Context) ([]*models.StrategyRecord, error)
	ActivePaidStrategies(ctx context.Context) ([]*models.StrategyRecord, error)
	GetAdPlatformConfig(ctx context.Context, userID string) (*models.AdPlatformConfig, error)
	UpdateStrategyPerformance(ctx context.Context, id string, totalSpend, roas float64, clicks, impressions int64) error
	UpdateStrategyCalendar(ctx context.Context, id string, calendar []models.CalendarEntry) error
	SetStrategyStatus(ctx context.Context, id, status string) error
	InsertIntelligenceLog(ctx context.Context, e *models.IntelligenceLogEntry) error
}

type AdPlatform interface {
	GetInsights(ctx context.Context, token, campaignID string) (adplatform.Insights, error)
	UpdateCampaign(ctx context.Context, token, campaignID string, upd adplatform.CampaignUpdate) error
	PostContent(ctx context.Context, token, pageID, message, imageURL string) (string, error)
}

type Notifier interface {
	NotifyIntelligence(userID string, entry models.IntelligenceLogEntry)
}

type Pipeline struct {
	Store    Store
	Ads      AdPlatform
	Notifier Notifier
	Logger   *log.Logger
	Now      func() time.Time
}

func New(s Store, ads AdPlatform, notifier Notifier, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{Store: s, Ads: ads, Notifier: notifier, Logger: logger, Now: time.Now}
}

type SyncResult struct {
	Synced  int `json:"synced"`
	Paused  int `json:"paused"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type PublishResult struct {
	Posted  int `json:"posted"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (p *Pipeline) logger() *log.Logger {
	if p.Logger == nil {
		return log.Default()
	}
	return p.Logger
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

func (p *Pipeline) ready() error {
	if p == nil || p.Store == nil || p.Ads == nil {
		return errors.New("execution pipeline is not configured")
	}
	return nil
}

// ComputeROAS returns purchaseValue/spend, or 0 when nothing was spent.
func ComputeROAS(purchaseValue, spend float64) float64 {
	if spend <= 0 {
		return 0
	}
	return purchaseValue / spend
}

// BudgetExhausted reports whether an active strategy has reached its total budget.
func BudgetExhausted(rec *models.StrategyRecord) bool {
	return rec != nil && rec.BudgetTotal > 0 && rec.TotalSpend >= rec.BudgetTotal
}

// SyncPerformance refreshes spend, ROAS and counters for every active paid strategy, then
// pauses any strategy whose spend reached its total budget.
func (p *Pipeline) SyncPerformance(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	if err := p.ready(); err != nil {
		return res, err
	}
	strategies, err := p.Store.ActivePaidStrategies(ctx)
	if err != nil {
		return res, fmt.Errorf("list active paid strategies: %w", err)
	}
	for _, rec := range strategies {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if rec.CampaignID == "" {
			res.Skipped++
			continue
		}
		cfg, err := p.Store.GetAdPlatformConfig(ctx, rec.UserID)
		if err != nil {
			res.Failed++
			p.logger().Printf("[Execution] config read failed strategyId=%s userId=%s err=%v", rec.ID, rec.UserID, err)
			continue
		}
		if cfg == nil {
			res.Skipped++
			continue
		}

		ins, err := p.Ads.GetInsights(ctx, cfg.AccessToken, rec.CampaignID)
		if err != nil {
			res.Failed++
			p.logger().Printf("[Execution] insights failed strategyId=%s campaignId=%s err=%v", rec.ID, rec.CampaignID, err)
			continue
		}
		rec.TotalSpend = ins.Spend
		rec.ROAS = ComputeROAS(ins.PurchaseValue(), ins.Spend)
		rec.Clicks = ins.Clicks
		rec.Impressions = ins.Impressions
		if err := p.Store.UpdateStrategyPerformance(ctx, rec.ID, rec.TotalSpend, rec.ROAS, rec.Clicks, rec.Impressions); err != nil {
			res.Failed++
			p.logger().Printf("[Execution] performance write failed strategyId=%s err=%v", rec.ID, err)
			continue
		}
		res.Synced++
		p.logger().Printf("[Execution] synced strategyId=%s spend=%.2f roas=%.4f clicks=%d impressions=%d",
			rec.ID, rec.TotalSpend, rec.ROAS, rec.Clicks, rec.Impressions)

		if BudgetExhausted(rec) {
			if err := p.enforceBudget(ctx, cfg, rec); err != nil {
				res.Failed++
				p.logger().Printf("[Execution] budget guard failed strategyId=%s err=%v", rec.ID, err)
				continue
			}
			res.Paused++
		}
	}
	return res, nil
}

func (p *Pipeline) enforceBudget(ctx context.Context, cfg *models.AdPlatformConfig, rec *models.StrategyRecord) error {
	status := adplatform.CampaignStatusPaused
	apiErr := p.Ads.UpdateCampaign(ctx, cfg.AccessToken, rec.CampaignID, adplatform.CampaignUpdate{Status: &status})
	if apiErr != nil {
		p.logger().Printf("[Execution] platform pause failed strategyId=%s err=%v", rec.ID, apiErr)
	}
	if err := p.Store.SetStrategyStatus(ctx, rec.ID, models.StrategyStatusPaused); err != nil {
		return err
	}
	rec.Status = models.StrategyStatusPaused

	userID := rec.UserID
	strategyID := rec.ID
	details := map[string]interface{}{
		"strategy_id":  rec.ID,
		"total_spend":  rec.TotalSpend,
		"budget_total": rec.BudgetTotal,
	}
	if apiErr != nil {
		details["api_error"] = adplatform.ErrorMessage(apiErr)
	}
	entry := &models.IntelligenceLogEntry{
		UserID:             &userID,
		StrategyID:         &strategyID,
		Type:               IntelligenceTypeBudgetExhausted,
		Platform:           "facebook",
		Summary:            fmt.Sprintf("Budget exhausted: spent %.2f of %.2f, strategy paused", rec.TotalSpend, rec.BudgetTotal),
		Details:            details,
		Priority:           models.PriorityUrgent,
		RecommendedActions: []string{"Top up the total budget to resume", "Review results before starting a new strategy"},
	}
	if err := p.Store.InsertIntelligenceLog(ctx, entry); err != nil {
		p.logger().Printf("[Execution] budget alert insert failed strategyId=%s err=%v", rec.ID, err)
		return nil
	}
	if p.Notifier != nil {
		p.Notifier.NotifyIntelligence(userID, *entry)
	}
	return nil
}

// PublishDueContent posts every unposted calendar entry whose time has come. The calendar is
// written back once per strategy; entries whose post failed stay unposted.
func (p *Pipeline) PublishDueContent(ctx context.Context) (PublishResult, error) {
	var res PublishResult
	if err := p.ready(); err != nil {
		return res, err
	}
	strategies, err := p.Store.ActiveStrategies(ctx)
	if err != nil {
		return res, fmt.Errorf("list active strategies: %w", err)
	}
	now := p.now()
	for _, rec := range strategies {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		due := dueEntries(rec.ContentCalendar, now)
		if len(due) == 0 {
			continue
		}
		cfg, err := p.Store.GetAdPlatformConfig(ctx, rec.UserID)
		if err != nil {
			p.logger().Printf("[Execution] config read failed strategyId=%s userId=%s err=%v", rec.ID, rec.UserID, err)
			res.Failed += len(due)
			continue
		}
		if cfg == nil || cfg.PageID == "" {
			res.Skipped += len(due)
			continue
		}

		changed := false
		for _, i := range due {
			entry := &rec.ContentCalendar[i]
			if entry.Platform != "" && !strings.EqualFold(entry.Platform, "facebook") {
				res.Skipped++
				continue
			}
			postID, err := p.Ads.PostContent(ctx, cfg.AccessToken, cfg.PageID, entry.Message, entry.ImageURL)
			if err != nil {
				res.Failed++
				p.logger().Printf("[Execution] post failed strategyId=%s entryId=%s err=%v", rec.ID, entry.ID, err)
				continue
			}
			postedAt := now
			entry.Posted = true
			entry.PostedAt = &postedAt
			entry.PlatformPostID = postID
			changed = true
			res.Posted++
			p.logger().Printf("[Execution] posted strategyId=%s entryId=%s postId=%s", rec.ID, entry.ID, postID)
		}
		if !changed {
			continue
		}
		if err := p.Store.UpdateStrategyCalendar(ctx, rec.ID, rec.ContentCalendar); err != nil {
			p.logger().Printf("[Execution] calendar write failed strategyId=%s err=%v", rec.ID, err)
		}
	}
	return res, nil
}

func dueEntries(calendar []models.CalendarEntry, now time.Time) []int {
	var out []int
	for i, e := range calendar {
		if e.Posted || e.ScheduledFor.IsZero() || e.ScheduledFor.After(now) {
			continue
		}
		if strings.TrimSpace(e.Message) == "" && strings.TrimSpace(e.ImageURL) == "" {
			continue
		}
		out = append(out, i)
	}
	return out
}
