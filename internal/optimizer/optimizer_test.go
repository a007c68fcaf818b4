package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/adplatform"
	"github.com/PortNumber53/adroom/backend/internal/models"
)

type optimizationWrite struct {
	id     string
	status string
	budget float64
	log    []models.OptimizationLogEntry
}

type fakeStore struct {
	strategies   []*models.StrategyRecord
	configs      map[string]*models.AdPlatformConfig
	listErr      error
	writeErr     error
	writes       []optimizationWrite
	intelligence []models.IntelligenceLogEntry
}

func (f *fakeStore) ActivePaidStrategies(ctx context.Context) ([]*models.StrategyRecord, error) {
	return f.strategies, f.listErr
}

func (f *fakeStore) GetAdPlatformConfig(ctx context.Context, userID string) (*models.AdPlatformConfig, error) {
	return f.configs[userID], nil
}

func (f *fakeStore) UpdateStrategyOptimization(ctx context.Context, id, status string, budgetDaily float64, log []models.OptimizationLogEntry) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, optimizationWrite{id: id, status: status, budget: budgetDaily, log: log})
	return nil
}

func (f *fakeStore) InsertIntelligenceLog(ctx context.Context, e *models.IntelligenceLogEntry) error {
	f.intelligence = append(f.intelligence, *e)
	return nil
}

type campaignCall struct {
	token      string
	campaignID string
	upd        adplatform.CampaignUpdate
}

type fakeAds struct {
	err   error
	calls []campaignCall
}

func (f *fakeAds) UpdateCampaign(ctx context.Context, token, campaignID string, upd adplatform.CampaignUpdate) error {
	f.calls = append(f.calls, campaignCall{token: token, campaignID: campaignID, upd: upd})
	return f.err
}

type fakeNotifier struct {
	users []string
}

func (f *fakeNotifier) NotifyIntelligence(userID string, entry models.IntelligenceLogEntry) {
	f.users = append(f.users, userID)
}

func paidStrategy(id string, roas, target, budget float64) *models.StrategyRecord {
	return &models.StrategyRecord{
		ID:          id,
		UserID:      "u1",
		Type:        models.StrategyTypePaid,
		Status:      models.StrategyStatusActive,
		ROAS:        roas,
		TargetROAS:  target,
		BudgetDaily: budget,
		CampaignID:  "cmp_" + id,
	}
}

func newTestOptimizer(s *fakeStore, ads *fakeAds) *Optimizer {
	if s.configs == nil {
		s.configs = map[string]*models.AdPlatformConfig{
			"u1": {UserID: "u1", AccessToken: "tok", AdAccountID: "act_1", PageID: "page_1"},
		}
	}
	o := New(s, ads, nil, nil)
	o.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return o
}

func TestClassify_Ladder(t *testing.T) {
	cases := []struct {
		ratio float64
		want  Action
	}{
		{0, ActionPauseAndAlert},
		{0.075, ActionPauseAndAlert},
		{0.0999, ActionPauseAndAlert},
		{0.1, ActionPauseAdSet},
		{0.1999, ActionPauseAdSet},
		{0.2, ActionSwapCreative},
		{0.3999, ActionSwapCreative},
		{0.4, ActionRefineAudience},
		{0.5999, ActionRefineAudience},
		{0.6, ActionLowerBid},
		{0.7999, ActionLowerBid},
		{0.8, ActionNone},
		{0.9, ActionNone},
		{1.0, ActionNone},
		{1.19, ActionNone},
		{1.2, ActionScaleUp},
		{1.5, ActionScaleUp},
		{10, ActionScaleUp},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v", tc.ratio), func(t *testing.T) {
			if got := Classify(tc.ratio); got != tc.want {
				t.Fatalf("Classify(%v)=%q want %q", tc.ratio, got, tc.want)
			}
		})
	}
}

func TestAppendLog_CapsAtFiftyFIFO(t *testing.T) {
	var entries []models.OptimizationLogEntry
	for i := 0; i < 75; i++ {
		entries = AppendLog(entries, models.OptimizationLogEntry{Reason: fmt.Sprintf("r%d", i)})
		if len(entries) > MaxLogEntries {
			t.Fatalf("log grew past cap: %d", len(entries))
		}
	}
	if len(entries) != MaxLogEntries {
		t.Fatalf("len=%d", len(entries))
	}
	if entries[0].Reason != "r25" || entries[len(entries)-1].Reason != "r74" {
		t.Fatalf("unexpected window: first=%s last=%s", entries[0].Reason, entries[len(entries)-1].Reason)
	}
}

func TestAppendLog_DoesNotAliasInput(t *testing.T) {
	in := make([]models.OptimizationLogEntry, 1, 4)
	out := AppendLog(in, models.OptimizationLogEntry{Reason: "new"})
	out[0].Reason = "changed"
	if in[0].Reason == "changed" {
		t.Fatalf("AppendLog should copy the input slice")
	}
}

func TestRunOnce_ScaleUpFloorsBudgetAndPushesIt(t *testing.T) {
	s := &fakeStore{strategies: []*models.StrategyRecord{paidStrategy("s1", 3.0, 2.0, 1000)}}
	ads := &fakeAds{}
	res, err := newTestOptimizer(s, ads).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Actions != 1 || len(s.writes) != 1 {
		t.Fatalf("unexpected result %+v writes=%d", res, len(s.writes))
	}
	w := s.writes[0]
	if w.budget != 1200 || w.status != models.StrategyStatusActive {
		t.Fatalf("unexpected write: %+v", w)
	}
	if len(ads.calls) != 1 || ads.calls[0].upd.DailyBudget == nil || *ads.calls[0].upd.DailyBudget != 120000 {
		t.Fatalf("unexpected platform calls: %+v", ads.calls)
	}
	if ads.calls[0].token != "tok" || ads.calls[0].campaignID != "cmp_s1" {
		t.Fatalf("unexpected call target: %+v", ads.calls[0])
	}
	e := w.log[0]
	if e.Action != string(ActionScaleUp) || e.MetricsBefore.DailyBudget != 1000 || e.MetricsAfter.DailyBudget != 1200 {
		t.Fatalf("unexpected log entry: %+v", e)
	}
	if e.MetricsBefore.PerformanceRatio != 1.5 {
		t.Fatalf("ratio=%v", e.MetricsBefore.PerformanceRatio)
	}
}

func TestRunOnce_ScaleUpFloorProperty(t *testing.T) {
	for _, budget := range []float64{1, 7, 33, 999, 1001, 12345} {
		s := &fakeStore{strategies: []*models.StrategyRecord{paidStrategy("s", 5, 2, budget)}}
		if _, err := newTestOptimizer(s, &fakeAds{}).RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if got, want := s.writes[0].budget, math.Floor(budget*1.2); got != want {
			t.Fatalf("budget %v: got %v want %v", budget, got, want)
		}
	}
}

func TestRunOnce_LowerBidReducesByTenPercent(t *testing.T) {
	s := &fakeStore{strategies: []*models.StrategyRecord{paidStrategy("s1", 1.4, 2.0, 1005)}}
	ads := &fakeAds{}
	if _, err := newTestOptimizer(s, ads).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if s.writes[0].budget != 904 {
		t.Fatalf("budget=%v", s.writes[0].budget)
	}
	if *ads.calls[0].upd.DailyBudget != 90400 {
		t.Fatalf("pushed=%v", *ads.calls[0].upd.DailyBudget)
	}
}

func TestRunOnce_PauseAndAlert(t *testing.T) {
	s := &fakeStore{strategies: []*models.StrategyRecord{paidStrategy("s1", 0.15, 2.0, 500)}}
	ads := &fakeAds{}
	n := &fakeNotifier{}
	o := newTestOptimizer(s, ads)
	o.Notifier = n
	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if s.writes[0].status != models.StrategyStatusPaused {
		t.Fatalf("status=%s", s.writes[0].status)
	}
	if len(ads.calls) != 1 || ads.calls[0].upd.Status == nil || *ads.calls[0].upd.Status != adplatform.CampaignStatusPaused {
		t.Fatalf("expected a pause call, got %+v", ads.calls)
	}
	if len(s.intelligence) != 1 {
		t.Fatalf("expected one intelligence entry, got %d", len(s.intelligence))
	}
	e := s.intelligence[0]
	if e.Type != IntelligenceTypePerformanceCritical || e.Priority != models.PriorityUrgent || e.StrategyID == nil || *e.StrategyID != "s1" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if len(n.users) != 1 || n.users[0] != "u1" {
		t.Fatalf("expected notifier call, got %v", n.users)
	}
}

func TestRunOnce_PauseAndAlertStillAlertsOnAPIError(t *testing.T) {
	s := &fakeStore{strategies: []*models.StrategyRecord{paidStrategy("s1", 0.01, 0, 500)}}
	ads := &fakeAds{err: &adplatform.APIError{StatusCode: 400, Message: "Invalid OAuth access token."}}
	if _, err := newTestOptimizer(s, ads).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if s.writes[0].status != models.StrategyStatusPaused || len(s.intelligence) != 1 {
		t.Fatalf("expected paused + one alert, got %+v / %d", s.writes[0], len(s.intelligence))
	}
	if !strings.HasSuffix(s.writes[0].log[0].Reason, " (API Error: Invalid OAuth access token.)") {
		t.Fatalf("reason=%q", s.writes[0].log[0].Reason)
	}
}

func TestRunOnce_LogOnlyTiers(t *testing.T) {
	for _, tc := range []struct {
		roas float64
		want Action
	}{
		{0.6, ActionSwapCreative},
		{1.0, ActionRefineAudience},
	} {
		s := &fakeStore{strategies: []*models.StrategyRecord{paidStrategy("s1", tc.roas, 2.0, 100)}}
		ads := &fakeAds{}
		if _, err := newTestOptimizer(s, ads).RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if len(ads.calls) != 0 {
			t.Fatalf("%s should not call the platform", tc.want)
		}
		w := s.writes[0]
		if w.log[0].Action != string(tc.want) || w.budget != 100 || w.status != models.StrategyStatusActive {
			t.Fatalf("unexpected write for %s: %+v", tc.want, w)
		}
	}
}

func TestRunOnce_PauseAdSetKeepsStatus(t *testing.T) {
	s := &fakeStore{strategies: []*models.StrategyRecord{paidStrategy("s1", 0.3, 2.0, 100)}}
	ads := &fakeAds{}
	if _, err := newTestOptimizer(s, ads).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(ads.calls) != 1 || s.writes[0].status != models.StrategyStatusActive || len(s.intelligence) != 0 {
		t.Fatalf("unexpected: calls=%d write=%+v alerts=%d", len(ads.calls), s.writes[0], len(s.intelligence))
	}
}

func TestRunOnce_ZeroROASSkipsWithoutMutation(t *testing.T) {
	for _, target := range []float64{0, 0.5, 2, 100} {
		s := &fakeStore{strategies: []*models.StrategyRecord{paidStrategy("s1", 0, target, 100)}}
		ads := &fakeAds{}
		res, err := newTestOptimizer(s, ads).RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if res.Actions != 0 || res.Skipped != 1 || len(s.writes) != 0 || len(ads.calls) != 0 || len(s.intelligence) != 0 {
			t.Fatalf("target %v: expected no mutation, got %+v writes=%d", target, res, len(s.writes))
		}
	}
}

func TestRunOnce_NoActionBand(t *testing.T) {
	for _, roas := range []float64{1.6, 2.0, 2.38} {
		s := &fakeStore{strategies: []*models.StrategyRecord{paidStrategy("s1", roas, 2.0, 100)}}
		if _, err := newTestOptimizer(s, &fakeAds{}).RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if len(s.writes) != 0 {
			t.Fatalf("roas %v should not act, got %+v", roas, s.writes)
		}
	}
}

func TestRunOnce_MissingConfigSkips(t *testing.T) {
	s := &fakeStore{
		strategies: []*models.StrategyRecord{paidStrategy("s1", 3.0, 2.0, 100)},
		configs:    map[string]*models.AdPlatformConfig{},
	}
	res, err := newTestOptimizer(s, &fakeAds{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Skipped != 1 || len(s.writes) != 0 {
		t.Fatalf("expected skip, got %+v", res)
	}
}

func TestRunOnce_MissingConfigStillPausesAndAlertsCritical(t *testing.T) {
	s := &fakeStore{
		strategies: []*models.StrategyRecord{paidStrategy("s1", 0.15, 2.0, 500)},
		configs:    map[string]*models.AdPlatformConfig{},
	}
	ads := &fakeAds{}
	res, err := newTestOptimizer(s, ads).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Actions != 1 || len(s.writes) != 1 || s.writes[0].status != models.StrategyStatusPaused {
		t.Fatalf("expected paused write, got %+v writes=%+v", res, s.writes)
	}
	if len(ads.calls) != 0 {
		t.Fatalf("no platform call without a config: %+v", ads.calls)
	}
	if !strings.Contains(s.writes[0].log[0].Reason, "(API Error: no ad platform config)") {
		t.Fatalf("reason=%q", s.writes[0].log[0].Reason)
	}
	if len(s.intelligence) != 1 || s.intelligence[0].Priority != 1 || s.intelligence[0].Type != IntelligenceTypePerformanceCritical {
		t.Fatalf("expected one priority-1 alert, got %+v", s.intelligence)
	}
}

func TestRunOnce_ErrorsDoNotAbortRemainingStrategies(t *testing.T) {
	s := &fakeStore{strategies: []*models.StrategyRecord{
		paidStrategy("s1", 3.0, 2.0, 100),
		paidStrategy("s2", 3.0, 2.0, 200),
	}}
	ads := &fakeAds{err: errors.New("dial tcp: timeout")}
	res, err := newTestOptimizer(s, ads).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Actions != 2 || len(s.writes) != 2 {
		t.Fatalf("expected both strategies handled, got %+v", res)
	}
	for _, w := range s.writes {
		if !strings.Contains(w.log[0].Reason, "(API Error: dial tcp: timeout)") {
			t.Fatalf("reason=%q", w.log[0].Reason)
		}
	}
}

func TestRunOnce_WriteFailureCountedAndContinues(t *testing.T) {
	s := &fakeStore{
		strategies: []*models.StrategyRecord{paidStrategy("s1", 3.0, 2.0, 100)},
		writeErr:   errors.New("conn reset"),
	}
	res, err := newTestOptimizer(s, &fakeAds{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Failed != 1 || res.Actions != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunOnce_ListErrorPropagates(t *testing.T) {
	s := &fakeStore{listErr: errors.New("db down")}
	if _, err := newTestOptimizer(s, &fakeAds{}).RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunOnce_ExistingLogStaysCapped(t *testing.T) {
	rec := paidStrategy("s1", 3.0, 2.0, 100)
	for i := 0; i < MaxLogEntries; i++ {
		rec.OptimizationLog = append(rec.OptimizationLog, models.OptimizationLogEntry{Reason: fmt.Sprintf("old%d", i)})
	}
	s := &fakeStore{strategies: []*models.StrategyRecord{rec}}
	if _, err := newTestOptimizer(s, &fakeAds{}).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	log := s.writes[0].log
	if len(log) != MaxLogEntries || log[0].Reason != "old1" || log[MaxLogEntries-1].Action != string(ActionScaleUp) {
		t.Fatalf("unexpected log window: len=%d first=%s", len(log), log[0].Reason)
	}
}
