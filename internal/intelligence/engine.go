// Package intelligence turns platform status and global trends into time-boxed signals.
package intelligence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PortNumber53/adroom/backend/internal/models"
	"github.com/PortNumber53/adroom/backend/internal/textgen"
)

const (
	DefaultTTL    = 48 * time.Hour
	MaxTTL        = 30 * 24 * time.Hour
	maxSignals    = 20
	trendsToScan  = 25
	summaryMaxLen = 500
)

type Store interface {
	PlatformStatus(ctx context.Context) ([]map[string]interface{}, error)
	GlobalTrends(ctx context.Context, category string, limit int) ([]map[string]interface{}, error)
	InsertIntelligenceLog(ctx context.Context, e *models.IntelligenceLogEntry) error
}

type Completer interface {
	Complete(ctx context.Context, systemPrompt, contextPayload string) (string, error)
}

// Notifier receives every stored signal; global signals carry an empty user id.
type Notifier interface {
	NotifyIntelligence(userID string, entry models.IntelligenceLogEntry)
}

type Engine struct {
	Store    Store
	Text     Completer
	Notifier Notifier
	Logger   *log.Logger
	Now      func() time.Time
}

func NewEngine(s Store, text Completer, notifier Notifier, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{Store: s, Text: text, Notifier: notifier, Logger: logger, Now: time.Now}
}

type Signal struct {
	Type               string                 `json:"type"`
	Platform           string                 `json:"platform"`
	Summary            string                 `json:"summary"`
	Details            map[string]interface{} `json:"details"`
	Priority           int                    `json:"priority"`
	RecommendedActions []string               `json:"recommended_actions"`
	TTLHours           float64                `json:"ttl_hours"`
}

type GatherResult struct {
	Signals int `json:"signals"`
	Stored  int `json:"stored"`
	Failed  int `json:"failed"`
}

const systemPrompt = `You are a social advertising analyst watching Facebook and Instagram.
From the platform status and trend data, report notable signals: algorithm shifts, emerging trends,
policy or account risks, and budget-relevant events.
Reply with one JSON object: {"signals":[{"type": string, "platform": string, "summary": string,
"details": object, "priority": 1|2|3, "recommended_actions": [string], "ttl_hours": number}]}.
Priority 1 is urgent, 3 is low. Return {"signals":[]} when nothing stands out.`

// ParseSignals decodes a model reply. Signals without a summary are dropped.
func ParseSignals(raw string) ([]Signal, error) {
	var env struct {
		Signals []Signal `json:"signals"`
	}
	if err := json.Unmarshal([]byte(textgen.ExtractJSON(raw)), &env); err != nil {
		return nil, fmt.Errorf("intelligence reply is not valid JSON: %w", err)
	}
	out := make([]Signal, 0, len(env.Signals))
	for _, s := range env.Signals {
		if strings.TrimSpace(s.Summary) == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxSignals {
			break
		}
	}
	return out, nil
}

func clampPriority(p int) int {
	switch {
	case p < models.PriorityUrgent:
		return models.PriorityUrgent
	case p > models.PriorityLow:
		return models.PriorityLow
	}
	return p
}

// Gather runs one intelligence pass and stores each signal as a global entry.
func (e *Engine) Gather(ctx context.Context) (GatherResult, error) {
	var res GatherResult
	if e == nil || e.Store == nil || e.Text == nil {
		return res, errors.New("intelligence engine is not configured")
	}
	status, err := e.Store.PlatformStatus(ctx)
	if err != nil {
		return res, fmt.Errorf("read platform status: %w", err)
	}
	trends, err := e.Store.GlobalTrends(ctx, "", trendsToScan)
	if err != nil {
		return res, fmt.Errorf("read global trends: %w", err)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"platform_status": nonNil(status),
		"global_trends":   nonNil(trends),
		"observed_at":     e.now().Format(time.RFC3339),
	})
	if err != nil {
		return res, err
	}
	raw, err := e.Text.Complete(ctx, systemPrompt, string(payload))
	if err != nil {
		return res, err
	}
	signals, err := ParseSignals(raw)
	if err != nil {
		return res, err
	}
	res.Signals = len(signals)

	now := e.now()
	for _, s := range signals {
		entry := toEntry(s, now)
		if err := e.Store.InsertIntelligenceLog(ctx, entry); err != nil {
			res.Failed++
			e.logger().Printf("[Intelligence] insert failed type=%s err=%v", entry.Type, err)
			continue
		}
		res.Stored++
		if e.Notifier != nil {
			e.Notifier.NotifyIntelligence("", *entry)
		}
	}
	e.logger().Printf("[Intelligence] gather done signals=%d stored=%d failed=%d", res.Signals, res.Stored, res.Failed)
	return res, nil
}

func toEntry(s Signal, now time.Time) *models.IntelligenceLogEntry {
	ttl := DefaultTTL
	switch {
	case s.TTLHours > MaxTTL.Hours():
		ttl = MaxTTL
	case s.TTLHours > 0:
		ttl = time.Duration(s.TTLHours * float64(time.Hour))
	}
	expires := now.Add(ttl)
	typ := strings.TrimSpace(s.Type)
	if typ == "" {
		typ = "trend"
	}
	platform := strings.ToLower(strings.TrimSpace(s.Platform))
	if platform == "" {
		platform = "facebook"
	}
	details := s.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	actions := s.RecommendedActions
	if actions == nil {
		actions = []string{}
	}
	summary := strings.TrimSpace(s.Summary)
	if len(summary) > summaryMaxLen {
		n := summaryMaxLen
		for n > 0 && !utf8.RuneStart(summary[n]) {
			n--
		}
		summary = summary[:n]
	}
	return &models.IntelligenceLogEntry{
		Type:               typ,
		Platform:           platform,
		Summary:            summary,
		Details:            details,
		Priority:           clampPriority(s.Priority),
		RecommendedActions: actions,
		ExpiresAt:          &expires,
	}
}

func (e *Engine) logger() *log.Logger {
	if e.Logger == nil {
		return log.Default()
	}
	return e.Logger
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func nonNil(rows []map[string]interface{}) []map[string]interface{} {
	if rows == nil {
		return []map[string]interface{}{}
	}
	return rows
}
