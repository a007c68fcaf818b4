package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/PortNumber53/adroom/backend/internal/models"
	"github.com/PortNumber53/adroom/backend/internal/textgen"
)

// Completer is the generative text dependency (textgen.Client satisfies it).
type Completer interface {
	Complete(ctx context.Context, systemPrompt, contextPayload string) (string, error)
}

// GenerationError means the model reply could not be used. There is no retry.
type GenerationError struct {
	Op     string
	Reason string
	Raw    string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

type Generator struct {
	Text   Completer
	Logger *log.Logger
}

func NewGenerator(text Completer, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{Text: text, Logger: logger}
}

const strategySystemPrompt = `You are AdRoom, a senior digital marketing strategist.
Reply with a single JSON object and nothing else. It must have exactly these top-level keys:
"free_strategy": {"platforms": [string], "content_plan": any, "expected_outcomes": any},
"paid_strategy": {"platforms": [string], "content_plan": any, "expected_outcomes": any, "budget_recommendation": number},
"comparison": object.`

const riskSystemPrompt = `You are an advertising policy reviewer.
Reply with a single JSON object: {"compliant": boolean, "risk_level": "low"|"medium"|"high", "issues": [string]}.`

// BuildStrategyPrompt serializes the context bundle, goal and duration into one instruction.
func BuildStrategyPrompt(bundle *models.ContextBundle, goal string, durationDays int) (string, error) {
	if bundle == nil {
		bundle = &models.ContextBundle{}
	}
	section := func(label string, v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("serialize %s: %w", label, err)
		}
		return label + ":\n" + string(b) + "\n\n", nil
	}
	var sb strings.Builder
	for _, part := range []struct {
		label string
		v     any
	}{
		{"USER PROFILE", nonNilMap(bundle.User)},
		{"STRATEGY HISTORY", bundle.History},
		{"PRODUCT/SERVICE", nonNilMap(bundle.Context)},
		{"PLATFORM STATUS", bundle.PlatformStatus},
		{"GLOBAL TRENDS", bundle.GlobalTrends},
	} {
		s, err := section(part.label, part.v)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	fmt.Fprintf(&sb, "GOAL: %s\n", strings.TrimSpace(goal))
	fmt.Fprintf(&sb, "DURATION: %d days\n\n", durationDays)
	sb.WriteString("Produce one organic (free) strategy and one paid strategy for this goal and duration, and compare them.")
	return sb.String(), nil
}

type strategyReply struct {
	FreeStrategy *models.StrategyBranch `json:"free_strategy"`
	PaidStrategy *models.StrategyBranch `json:"paid_strategy"`
	Comparison   map[string]interface{} `json:"comparison"`
}

// GenerateStrategy calls the text client once and parses the two-branch reply strictly.
func (g *Generator) GenerateStrategy(ctx context.Context, bundle *models.ContextBundle, goal string, durationDays int) (*models.StrategyDecision, error) {
	if g == nil || g.Text == nil {
		return nil, errors.New("strategy generator is not configured")
	}
	if strings.TrimSpace(goal) == "" {
		return nil, errors.New("goal is required")
	}
	if durationDays <= 0 {
		return nil, errors.New("durationDays must be positive")
	}
	prompt, err := BuildStrategyPrompt(bundle, goal, durationDays)
	if err != nil {
		return nil, err
	}
	raw, err := g.Text.Complete(ctx, strategySystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var reply strategyReply
	if err := json.Unmarshal([]byte(textgen.ExtractJSON(raw)), &reply); err != nil {
		g.logger().Printf("[Decision] strategy reply not JSON err=%v", err)
		return nil, &GenerationError{Op: "generate_strategy", Reason: "reply is not valid JSON", Raw: raw, Err: err}
	}
	switch {
	case reply.FreeStrategy == nil:
		return nil, &GenerationError{Op: "generate_strategy", Reason: "missing free_strategy", Raw: raw}
	case reply.PaidStrategy == nil:
		return nil, &GenerationError{Op: "generate_strategy", Reason: "missing paid_strategy", Raw: raw}
	case reply.PaidStrategy.BudgetRecommendation == nil:
		return nil, &GenerationError{Op: "generate_strategy", Reason: "paid_strategy.budget_recommendation is required", Raw: raw}
	}
	out := &models.StrategyDecision{
		FreeStrategy: *reply.FreeStrategy,
		PaidStrategy: *reply.PaidStrategy,
		Comparison:   reply.Comparison,
	}
	if out.Comparison == nil {
		out.Comparison = map[string]interface{}{}
	}
	if out.FreeStrategy.Platforms == nil {
		out.FreeStrategy.Platforms = []string{}
	}
	if out.PaidStrategy.Platforms == nil {
		out.PaidStrategy.Platforms = []string{}
	}
	return out, nil
}

// EvaluateRisk runs one classification prompt over content destined for platform.
func (g *Generator) EvaluateRisk(ctx context.Context, content, platform string) (*models.RiskAssessment, error) {
	if g == nil || g.Text == nil {
		return nil, errors.New("strategy generator is not configured")
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("content is required")
	}
	payload, _ := json.Marshal(map[string]string{"platform": platform, "content": content})
	raw, err := g.Text.Complete(ctx, riskSystemPrompt, string(payload))
	if err != nil {
		return nil, err
	}
	var out struct {
		Compliant *bool    `json:"compliant"`
		RiskLevel string   `json:"risk_level"`
		Issues    []string `json:"issues"`
	}
	if err := json.Unmarshal([]byte(textgen.ExtractJSON(raw)), &out); err != nil {
		return nil, &GenerationError{Op: "evaluate_risk", Reason: "reply is not valid JSON", Raw: raw, Err: err}
	}
	if out.Compliant == nil {
		return nil, &GenerationError{Op: "evaluate_risk", Reason: "missing compliant", Raw: raw}
	}
	if out.Issues == nil {
		out.Issues = []string{}
	}
	return &models.RiskAssessment{Compliant: *out.Compliant, RiskLevel: out.RiskLevel, Issues: out.Issues}, nil
}

func (g *Generator) logger() *log.Logger {
	if g.Logger == nil {
		return log.Default()
	}
	return g.Logger
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
