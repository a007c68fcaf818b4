package models

import (
	"encoding/json"
	"time"
)

const (
	StrategyTypeOrganic = "organic"
	StrategyTypePaid    = "paid"

	StrategyStatusActive    = "active"
	StrategyStatusPaused    = "paused"
	StrategyStatusCompleted = "completed"

	LeadStatusContacted    = "contacted"
	LeadStatusFollowUpSent = "follow_up_sent"

	InteractionKindComment = "comment"
	InteractionKindMessage = "message"
)

// Intelligence priorities: 1=urgent .. 3=low.
const (
	PriorityUrgent = 1
	PriorityNormal = 2
	PriorityLow    = 3
)

type StrategyRecord struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"userId"`
	Type            string                 `json:"type"`
	Goal            string                 `json:"goal"`
	DurationDays    int                    `json:"durationDays"`
	// Budgets and spend are in the ad account currency's major units.
	BudgetDaily     float64                `json:"budgetDaily"`
	BudgetTotal     float64                `json:"budgetTotal"`
	TotalSpend      float64                `json:"totalSpend"`
	ROAS            float64                `json:"roas"`
	TargetROAS      float64                `json:"targetRoas"`
	Clicks          int64                  `json:"clicks"`
	Impressions     int64                  `json:"impressions"`
	Status          string                 `json:"status"`
	CampaignID      string                 `json:"campaignId,omitempty"`
	Platforms       []string               `json:"platforms"`
	Plan            json.RawMessage        `json:"plan,omitempty"`
	ContentCalendar []CalendarEntry        `json:"contentCalendar"`
	OptimizationLog []OptimizationLogEntry `json:"optimizationLog"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// StrategySummary is the slimmed-down history row fed into prompts.
type StrategySummary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Goal      string    `json:"goal"`
	Status    string    `json:"status"`
	ROAS      float64   `json:"roas"`
	CreatedAt time.Time `json:"createdAt"`
}

type CalendarEntry struct {
	ID             string     `json:"id"`
	Platform       string     `json:"platform"`
	Message        string     `json:"message"`
	ImageURL       string     `json:"imageUrl,omitempty"`
	ScheduledFor   time.Time  `json:"scheduledFor"`
	Posted         bool       `json:"posted"`
	PostedAt       *time.Time `json:"postedAt,omitempty"`
	PlatformPostID string     `json:"platformPostId,omitempty"`
}

type PerformanceMetrics struct {
	ROAS             float64 `json:"roas"`
	TargetROAS       float64 `json:"targetRoas"`
	PerformanceRatio float64 `json:"performanceRatio"`
	DailyBudget      float64 `json:"dailyBudget"`
	Status           string  `json:"status"`
}

type OptimizationLogEntry struct {
	Timestamp     time.Time          `json:"timestamp"`
	Action        string             `json:"action"`
	Reason        string             `json:"reason"`
	MetricsBefore PerformanceMetrics `json:"metrics_before"`
	MetricsAfter  PerformanceMetrics `json:"metrics_after"`
}

type IntelligenceLogEntry struct {
	ID                 string                 `json:"id"`
	UserID             *string                `json:"userId,omitempty"`
	StrategyID         *string                `json:"strategyId,omitempty"`
	Type               string                 `json:"type"`
	Platform           string                 `json:"platform"`
	Summary            string                 `json:"summary"`
	Details            map[string]interface{} `json:"details"`
	Priority           int                    `json:"priority"`
	RecommendedActions []string               `json:"recommendedActions"`
	ExpiresAt          *time.Time             `json:"expiresAt,omitempty"`
	CreatedAt          time.Time              `json:"createdAt"`
}

type Interaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Platform     string    `json:"platform"`
	Kind         string    `json:"kind"`
	ExternalID   string    `json:"externalId"`
	SenderID     string    `json:"senderId,omitempty"`
	Content      string    `json:"content"`
	IsLiked      bool      `json:"isLiked"`
	IsReplied    bool      `json:"isReplied"`
	ReplyContent *string   `json:"replyContent,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Lead struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Name             string    `json:"name"`
	ExternalSenderID string    `json:"externalSenderId"`
	Status           string    `json:"status"`
	LastInteraction  time.Time `json:"lastInteraction"`
}

type AdPlatformConfig struct {
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken"`
	AdAccountID string `json:"adAccountId"`
	PageID      string `json:"pageId"`
}

// ContextBundle is the aggregated read result assembled before generating a strategy.
// Degraded names the fields whose read failed (as opposed to simply having no rows).
type ContextBundle struct {
	User           map[string]interface{}   `json:"user"`
	Context        map[string]interface{}   `json:"context"`
	ContextType    string                   `json:"contextType,omitempty"`
	History        []StrategySummary        `json:"history"`
	PlatformStatus []map[string]interface{} `json:"platformStatus"`
	GlobalTrends   []map[string]interface{} `json:"globalTrends"`
	Degraded       map[string]string        `json:"degraded,omitempty"`
}

type StrategyBranch struct {
	Platforms            []string        `json:"platforms"`
	ContentPlan          json.RawMessage `json:"content_plan"`
	ExpectedOutcomes     json.RawMessage `json:"expected_outcomes"`
	BudgetRecommendation *float64        `json:"budget_recommendation,omitempty"`
}

type StrategyDecision struct {
	FreeStrategy StrategyBranch         `json:"free_strategy"`
	PaidStrategy StrategyBranch         `json:"paid_strategy"`
	Comparison   map[string]interface{} `json:"comparison"`
}

type RiskAssessment struct {
	Compliant bool     `json:"compliant"`
	RiskLevel string   `json:"risk_level"`
	Issues    []string `json:"issues"`
}
