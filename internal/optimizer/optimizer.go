// Package optimizer runs the ROAS tier ladder over active paid strategies.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/adplatform"
	"github.com/PortNumber53/adroom/backend/internal/metrics"
	"github.com/PortNumber53/adroom/backend/internal/models"
)

type Action string

const (
	ActionNone           Action = ""
	ActionPauseAndAlert  Action = "PAUSE_AND_ALERT"
	ActionPauseAdSet     Action = "PAUSE_AD_SET"
	ActionSwapCreative   Action = "SWAP_CREATIVE"
	ActionRefineAudience Action = "REFINE_AUDIENCE"
	ActionLowerBid       Action = "LOWER_BID"
	ActionScaleUp        Action = "SCALE_UP"
)

const (
	DefaultTargetROAS = 2.0
	MaxLogEntries     = 50

	IntelligenceTypePerformanceCritical = "performance_critical"
)

var errNoAdConfig = errors.New("no ad platform config")

// ladder is checked from most to least severe; first strict match wins.
var ladder = []struct {
	below  float64
	action Action
}{
	{0.1, ActionPauseAndAlert},
	{0.2, ActionPauseAdSet},
	{0.4, ActionSwapCreative},
	{0.6, ActionRefineAudience},
	{0.8, ActionLowerBid},
}

const scaleUpAtOrAbove = 1.2

// Classify maps a performance ratio to its tier action.
func Classify(ratio float64) Action {
	for _, tier := range ladder {
		if ratio < tier.below {
			return tier.action
		}
	}
	if ratio >= scaleUpAtOrAbove {
		return ActionScaleUp
	}
	return ActionNone
}

// AppendLog appends e and drops the oldest entries beyond MaxLogEntries.
func AppendLog(entries []models.OptimizationLogEntry, e models.OptimizationLogEntry) []models.OptimizationLogEntry {
	out := make([]models.OptimizationLogEntry, 0, len(entries)+1)
	out = append(out, entries...)
	out = append(out, e)
	if over := len(out) - MaxLogEntries; over > 0 {
		out = out[over:]
	}
	return out
}

type Store interface {
	ActivePaidStrategies(ctx context.Context) ([]*models.StrategyRecord, error)
	GetAdPlatformConfig(ctx context.Context, userID string) (*models.AdPlatformConfig, error)
	UpdateStrategyOptimization(ctx context.Context, id, status string, budgetDaily float64, log []models.OptimizationLogEntry) error
	InsertIntelligenceLog(ctx context.Context, e *models.IntelligenceLogEntry) error
}

type AdPlatform interface {
	UpdateCampaign(ctx context.Context, token, campaignID string, upd adplatform.CampaignUpdate) error
}

// Notifier receives intelligence entries created by a sweep (the realtime hub implements it).
type Notifier interface {
	NotifyIntelligence(userID string, entry models.IntelligenceLogEntry)
}

type Optimizer struct {
	Store    Store
	Ads      AdPlatform
	Notifier Notifier
	Logger   *log.Logger
	Now      func() time.Time
}

func New(s Store, ads AdPlatform, notifier Notifier, logger *log.Logger) *Optimizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Optimizer{Store: s, Ads: ads, Notifier: notifier, Logger: logger, Now: time.Now}
}

type Result struct {
	Evaluated int `json:"evaluated"`
	Skipped   int `json:"skipped"`
	Actions   int `json:"actions"`
	Failed    int `json:"failed"`
}

// Decision is the outcome of evaluating one strategy.
type Decision struct {
	Action Action
	Entry  models.OptimizationLogEntry
}

func (o *Optimizer) logger() *log.Logger {
	if o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

func (o *Optimizer) now() time.Time {
	if o.Now == nil {
		return time.Now().UTC()
	}
	return o.Now().UTC()
}

// RunOnce evaluates every active paid strategy in store order. Per-strategy failures are logged
// and counted; only the initial listing error is returned.
func (o *Optimizer) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	if o == nil || o.Store == nil {
		return res, errors.New("optimizer is not configured")
	}
	strategies, err := o.Store.ActivePaidStrategies(ctx)
	if err != nil {
		return res, fmt.Errorf("list active paid strategies: %w", err)
	}
	for _, rec := range strategies {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Evaluated++
		d, err := o.Evaluate(ctx, rec)
		switch {
		case err != nil:
			res.Failed++
			o.logger().Printf("[Optimizer] strategy failed strategyId=%s err=%v", rec.ID, err)
		case d == nil:
			res.Skipped++
		default:
			res.Actions++
		}
	}
	o.logger().Printf("[Optimizer] pass done evaluated=%d actions=%d skipped=%d failed=%d", res.Evaluated, res.Actions, res.Skipped, res.Failed)
	return res, nil
}

// Evaluate classifies one strategy and applies the tier action. A nil decision means no action.
func (o *Optimizer) Evaluate(ctx context.Context, rec *models.StrategyRecord) (*Decision, error) {
	if rec == nil || rec.ROAS == 0 {
		return nil, nil
	}
	target := rec.TargetROAS
	if target <= 0 {
		target = DefaultTargetROAS
	}
	ratio := rec.ROAS / target
	action := Classify(ratio)
	if action == ActionNone {
		return nil, nil
	}

	cfg, err := o.Store.GetAdPlatformConfig(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("load ad platform config userId=%s: %w", rec.UserID, err)
	}
	// Without a config only PAUSE_AND_ALERT proceeds: its status change and alert are store-side.
	if cfg == nil && action != ActionPauseAndAlert {
		o.logger().Printf("[Optimizer] no ad platform config, skipping strategyId=%s userId=%s", rec.ID, rec.UserID)
		return nil, nil
	}

	before := models.PerformanceMetrics{
		ROAS:             rec.ROAS,
		TargetROAS:       target,
		PerformanceRatio: ratio,
		DailyBudget:      rec.BudgetDaily,
		Status:           rec.Status,
	}
	after := before
	reason := describe(action, ratio)

	var apiErr error
	switch action {
	case ActionPauseAndAlert:
		apiErr = o.pause(ctx, cfg, rec)
		after.Status = models.StrategyStatusPaused
	case ActionPauseAdSet:
		apiErr = o.pause(ctx, cfg, rec)
	case ActionLowerBid:
		after.DailyBudget = math.Floor(rec.BudgetDaily * 0.9)
		apiErr = o.pushBudget(ctx, cfg, rec, after.DailyBudget)
	case ActionScaleUp:
		after.DailyBudget = math.Floor(rec.BudgetDaily * 1.2)
		apiErr = o.pushBudget(ctx, cfg, rec, after.DailyBudget)
	}
	if apiErr != nil {
		reason += fmt.Sprintf(" (API Error: %s)", adplatform.ErrorMessage(apiErr))
	}

	entry := models.OptimizationLogEntry{
		Timestamp:     o.now(),
		Action:        string(action),
		Reason:        reason,
		MetricsBefore: before,
		MetricsAfter:  after,
	}
	rec.OptimizationLog = AppendLog(rec.OptimizationLog, entry)
	rec.Status = after.Status
	rec.BudgetDaily = after.DailyBudget
	metrics.IncOptimizationAction(string(action))
	o.logger().Printf("[Optimizer] action strategyId=%s action=%s ratio=%.4f budget=%.0f->%.0f apiErr=%v",
		rec.ID, action, ratio, before.DailyBudget, after.DailyBudget, apiErr)

	if err := o.Store.UpdateStrategyOptimization(ctx, rec.ID, rec.Status, rec.BudgetDaily, rec.OptimizationLog); err != nil {
		return nil, fmt.Errorf("write optimization strategyId=%s: %w", rec.ID, err)
	}

	if action == ActionPauseAndAlert {
		o.alert(ctx, rec, ratio, reason)
	}
	return &Decision{Action: action, Entry: entry}, nil
}

func (o *Optimizer) pause(ctx context.Context, cfg *models.AdPlatformConfig, rec *models.StrategyRecord) error {
	if cfg == nil {
		return errNoAdConfig
	}
	if rec.CampaignID == "" {
		return errors.New("strategy has no campaign id")
	}
	if o.Ads == nil {
		return errors.New("ad platform client is not configured")
	}
	status := adplatform.CampaignStatusPaused
	return o.Ads.UpdateCampaign(ctx, cfg.AccessToken, rec.CampaignID, adplatform.CampaignUpdate{Status: &status})
}

func (o *Optimizer) pushBudget(ctx context.Context, cfg *models.AdPlatformConfig, rec *models.StrategyRecord, budget float64) error {
	if rec.CampaignID == "" {
		return errors.New("strategy has no campaign id")
	}
	if o.Ads == nil {
		return errors.New("ad platform client is not configured")
	}
	b := adplatform.MinorUnits(budget)
	return o.Ads.UpdateCampaign(ctx, cfg.AccessToken, rec.CampaignID, adplatform.CampaignUpdate{DailyBudget: &b})
}

// alert writes the priority-1 entry for a paused strategy. Failures are logged, not returned:
// the strategy is already paused at this point.
func (o *Optimizer) alert(ctx context.Context, rec *models.StrategyRecord, ratio float64, reason string) {
	userID := rec.UserID
	strategyID := rec.ID
	entry := &models.IntelligenceLogEntry{
		UserID:     &userID,
		StrategyID: &strategyID,
		Type:       IntelligenceTypePerformanceCritical,
		Platform:   "facebook",
		Summary:    fmt.Sprintf("Campaign paused: ROAS %.2f is %.0f%% of target", rec.ROAS, ratio*100),
		Details: map[string]interface{}{
			"strategy_id":       rec.ID,
			"roas":              rec.ROAS,
			"performance_ratio": ratio,
			"reason":            reason,
		},
		Priority:           models.PriorityUrgent,
		RecommendedActions: []string{"Review targeting and creative before resuming", "Consider a new strategy for this goal"},
	}
	if err := o.Store.InsertIntelligenceLog(ctx, entry); err != nil {
		o.logger().Printf("[Optimizer] alert insert failed strategyId=%s err=%v", rec.ID, err)
		return
	}
	if o.Notifier != nil {
		o.Notifier.NotifyIntelligence(userID, *entry)
	}
}

func describe(action Action, ratio float64) string {
	pct := ratio * 100
	switch action {
	case ActionPauseAndAlert:
		return fmt.Sprintf("Performance at %.1f%% of target ROAS; campaign paused and owner alerted", pct)
	case ActionPauseAdSet:
		return fmt.Sprintf("Performance at %.1f%% of target ROAS; ad set paused", pct)
	case ActionSwapCreative:
		return fmt.Sprintf("Performance at %.1f%% of target ROAS; creative refresh recommended", pct)
	case ActionRefineAudience:
		return fmt.Sprintf("Performance at %.1f%% of target ROAS; audience refinement recommended", pct)
	case ActionLowerBid:
		return fmt.Sprintf("Performance at %.1f%% of target ROAS; daily budget reduced by 10%%", pct)
	case ActionScaleUp:
		return fmt.Sprintf("Performance at %.1f%% of target ROAS; daily budget increased by 20%%", pct)
	}
	return ""
}
