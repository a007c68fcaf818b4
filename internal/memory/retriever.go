package memory

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/PortNumber53/adroom/backend/internal/models"
	"github.com/PortNumber53/adroom/backend/internal/store"
)

const (
	historyLimit = 5
	trendsLimit  = 10
)

// Reader is the slice of the store the retriever needs.
type Reader interface {
	GetProfile(ctx context.Context, userID string) (map[string]interface{}, error)
	GetContextRecord(ctx context.Context, contextType, id string) (map[string]interface{}, error)
	RecentStrategies(ctx context.Context, userID string, limit int) ([]models.StrategySummary, error)
	PlatformStatus(ctx context.Context) ([]map[string]interface{}, error)
	GlobalTrends(ctx context.Context, category string, limit int) ([]map[string]interface{}, error)
}

type Retriever struct {
	Store  Reader
	Logger *log.Logger
}

func NewRetriever(s Reader, logger *log.Logger) *Retriever {
	if logger == nil {
		logger = log.Default()
	}
	return &Retriever{Store: s, Logger: logger}
}

// GetContext assembles the bundle from five independent reads. Missing rows become empty
// values; failed reads also become empty values but are recorded under Degraded.
func (r *Retriever) GetContext(ctx context.Context, userID, contextID, contextType string) (*models.ContextBundle, error) {
	contextType = strings.TrimSpace(contextType)
	if contextType == "" {
		contextType = "product"
	}
	if _, err := store.ContextTable(contextType); err != nil {
		return nil, err
	}
	if r == nil || r.Store == nil {
		return nil, fmt.Errorf("memory retriever is not configured")
	}
	l := r.Logger
	if l == nil {
		l = log.Default()
	}

	b := &models.ContextBundle{
		User:           map[string]interface{}{},
		Context:        map[string]interface{}{},
		ContextType:    contextType,
		History:        []models.StrategySummary{},
		PlatformStatus: []map[string]interface{}{},
		GlobalTrends:   []map[string]interface{}{},
		Degraded:       map[string]string{},
	}
	degrade := func(field string, err error) {
		b.Degraded[field] = err.Error()
		l.Printf("[Memory] read degraded userId=%s field=%s err=%v", userID, field, err)
	}

	if profile, err := r.Store.GetProfile(ctx, userID); err != nil {
		degrade("user", err)
	} else if profile != nil {
		b.User = profile
	}

	if id := strings.TrimSpace(contextID); id != "" {
		if rec, err := r.Store.GetContextRecord(ctx, contextType, id); err != nil {
			degrade("context", err)
		} else if rec != nil {
			b.Context = rec
		}
	}

	if history, err := r.Store.RecentStrategies(ctx, userID, historyLimit); err != nil {
		degrade("history", err)
	} else if history != nil {
		b.History = history
	}

	if status, err := r.Store.PlatformStatus(ctx); err != nil {
		degrade("platform_status", err)
	} else if status != nil {
		b.PlatformStatus = status
	}

	category, _ := b.Context["category"].(string)
	if trends, err := r.Store.GlobalTrends(ctx, strings.TrimSpace(category), trendsLimit); err != nil {
		degrade("global_trends", err)
	} else if trends != nil {
		b.GlobalTrends = trends
	}

	return b, nil
}
