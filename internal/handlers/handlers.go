package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/PortNumber53/adroom/backend/internal/decision"
	"github.com/PortNumber53/adroom/backend/internal/memory"
	"github.com/PortNumber53/adroom/backend/internal/models"
	"github.com/PortNumber53/adroom/backend/internal/store"
	"github.com/google/uuid"
)

// Sweep runs one background pass on demand and returns its result summary.
type Sweep func(ctx context.Context) (any, error)

type Options struct {
	Generator   *decision.Generator
	VerifyToken string
	AppSecret   string
}

type Handler struct {
	db          *sql.DB
	store       *store.Store
	memory      *memory.Retriever
	decisions   *decision.Generator
	sweeps      map[string]Sweep
	verifyToken string
	appSecret   string
	rt          *realtimeHub
}

func New(db *sql.DB, opts Options) *Handler {
	s := store.New(db)
	return &Handler{
		db:          db,
		store:       s,
		memory:      memory.NewRetriever(s, nil),
		decisions:   opts.Generator,
		sweeps:      map[string]Sweep{},
		verifyToken: strings.TrimSpace(opts.VerifyToken),
		appSecret:   strings.TrimSpace(opts.AppSecret),
		rt:          newRealtimeHub(),
	}
}

// Store is shared with the background components so all of them use one pool.
func (h *Handler) Store() *store.Store {
	return h.store
}

// RegisterSweep exposes fn under POST /internal/sweeps/{name}.
func (h *Handler) RegisterSweep(name string, fn Sweep) {
	if h.sweeps == nil {
		h.sweeps = map[string]Sweep{}
	}
	h.sweeps[name] = fn
}

// SweepNames lists the registered sweeps in name order.
func (h *Handler) SweepNames() []string {
	out := make([]string, 0, len(h.sweeps))
	for name := range h.sweeps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GetContext returns the aggregated memory bundle a strategy would be generated from.
func (h *Handler) GetContext(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	q := r.URL.Query()
	bundle, err := h.memory.GetContext(r.Context(), userID, q.Get("contextId"), q.Get("contextType"))
	if err != nil {
		if errors.Is(err, store.ErrUnknownContextType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

type generateStrategyRequest struct {
	Goal         string `json:"goal"`
	DurationDays int    `json:"durationDays"`
	ContextID    string `json:"contextId"`
	ContextType  string `json:"contextType"`
}

func (h *Handler) GenerateStrategy(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	var req generateStrategyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Goal) == "" || req.DurationDays <= 0 {
		writeError(w, http.StatusBadRequest, "goal and a positive durationDays are required")
		return
	}
	if h.decisions == nil {
		writeError(w, http.StatusServiceUnavailable, "text generation is not configured")
		return
	}

	bundle, err := h.memory.GetContext(r.Context(), userID, req.ContextID, req.ContextType)
	if err != nil {
		if errors.Is(err, store.ErrUnknownContextType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(bundle.Degraded) > 0 {
		log.Printf("[Strategy] generating with degraded context userId=%s degraded=%v", userID, bundle.Degraded)
	}

	out, err := h.decisions.GenerateStrategy(r.Context(), bundle, req.Goal, req.DurationDays)
	if err != nil {
		log.Printf("[Strategy] generate failed userId=%s err=%v", userID, err)
		status := http.StatusInternalServerError
		if decision.IsGenerationError(err) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type createStrategyRequest struct {
	Type            string                 `json:"type"`
	Goal            string                 `json:"goal"`
	DurationDays    int                    `json:"durationDays"`
	BudgetDaily     float64                `json:"budgetDaily"`
	BudgetTotal     float64                `json:"budgetTotal"`
	TargetROAS      float64                `json:"targetRoas"`
	CampaignID      string                 `json:"campaignId"`
	Platforms       []string               `json:"platforms"`
	Plan            json.RawMessage        `json:"plan"`
	ContentCalendar []models.CalendarEntry `json:"contentCalendar"`
}

func (req createStrategyRequest) validate() string {
	switch req.Type {
	case models.StrategyTypeOrganic, models.StrategyTypePaid:
	default:
		return "type must be organic or paid"
	}
	if strings.TrimSpace(req.Goal) == "" {
		return "goal is required"
	}
	if req.DurationDays <= 0 {
		return "durationDays must be positive"
	}
	if req.BudgetDaily < 0 || req.BudgetTotal < 0 || req.TargetROAS < 0 {
		return "budgets and targetRoas must not be negative"
	}
	if req.Type == models.StrategyTypePaid && req.BudgetDaily <= 0 {
		return "paid strategies need a positive budgetDaily"
	}
	return ""
}

// CreateStrategy persists the plan the user approved.
func (h *Handler) CreateStrategy(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	var req createStrategyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	rec := &models.StrategyRecord{
		UserID:          userID,
		Type:            req.Type,
		Goal:            strings.TrimSpace(req.Goal),
		DurationDays:    req.DurationDays,
		BudgetDaily:     req.BudgetDaily,
		BudgetTotal:     req.BudgetTotal,
		TargetROAS:      req.TargetROAS,
		CampaignID:      strings.TrimSpace(req.CampaignID),
		Platforms:       req.Platforms,
		ContentCalendar: req.ContentCalendar,
	}
	if rec.Platforms == nil {
		rec.Platforms = []string{"facebook"}
	}
	if len(req.Plan) > 0 && string(req.Plan) != "null" {
		rec.Plan = req.Plan
	}
	for i := range rec.ContentCalendar {
		if rec.ContentCalendar[i].ID == "" {
			rec.ContentCalendar[i].ID = uuid.NewString()
		}
		rec.ContentCalendar[i].Posted = false
		rec.ContentCalendar[i].PostedAt = nil
		rec.ContentCalendar[i].PlatformPostID = ""
	}

	saved, err := h.store.CreateStrategy(r.Context(), rec)
	if err != nil {
		log.Printf("[Strategy] create failed userId=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("[Strategy] created strategyId=%s userId=%s type=%s", saved.ID, userID, saved.Type)
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	list, err := h.store.ListStrategiesForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*models.StrategyRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

type riskRequest struct {
	Content  string `json:"content"`
	Platform string `json:"platform"`
}

func (h *Handler) EvaluateRisk(w http.ResponseWriter, r *http.Request) {
	var req riskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if strings.TrimSpace(req.Platform) == "" {
		req.Platform = "facebook"
	}
	if h.decisions == nil {
		writeError(w, http.StatusServiceUnavailable, "text generation is not configured")
		return
	}
	out, err := h.decisions.EvaluateRisk(r.Context(), req.Content, req.Platform)
	if err != nil {
		status := http.StatusInternalServerError
		if decision.IsGenerationError(err) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ListIntelligence(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	entries, err := h.store.ListIntelligenceForUser(r.Context(), userID, queryInt(r, "limit", 50, 200))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type adConfigRequest struct {
	AccessToken string `json:"accessToken"`
	AdAccountID string `json:"adAccountId"`
	PageID      string `json:"pageId"`
}

// UpsertAdConfig stores the user's Facebook credentials. The token is never echoed back.
func (h *Handler) UpsertAdConfig(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	var req adConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cfg := models.AdPlatformConfig{
		UserID:      userID,
		AccessToken: strings.TrimSpace(req.AccessToken),
		AdAccountID: strings.TrimSpace(req.AdAccountID),
		PageID:      strings.TrimSpace(req.PageID),
	}
	if cfg.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "accessToken is required")
		return
	}
	if err := h.store.UpsertAdPlatformConfig(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"userId":      userID,
		"adAccountId": cfg.AdAccountID,
		"pageId":      cfg.PageID,
	})
}
