package adplatform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	DefaultGraphURL = "https://graph.facebook.com/v18.0"
	platformName    = "facebook"
)

// Client wraps the Facebook Graph API. Every call carries the caller's access token.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Limiter *rate.Limiter
	Usage   UsageCounter
	Limits  RateLimitConfig
	Logger  *log.Logger
}

func NewClient(baseURL string, limits RateLimitConfig, usage UsageCounter, logger *log.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultGraphURL
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 20 * time.Second},
		Limiter: limits.Limiter(),
		Usage:   usage,
		Limits:  limits,
		Logger:  logger,
	}
}

// Insights amounts are in the account currency's major units, as Graph reports them.
type Insights struct {
	Spend        float64
	Impressions  int64
	Clicks       int64
	ActionValues []ActionValue
}

type ActionValue struct {
	ActionType string
	Value      float64
}

// PurchaseValue sums the purchase-type action values.
func (i Insights) PurchaseValue() float64 {
	total := 0.0
	for _, av := range i.ActionValues {
		switch av.ActionType {
		case "purchase", "omni_purchase", "offsite_conversion.fb_pixel_purchase":
			total += av.Value
		}
	}
	return total
}

// MinorUnits converts a major-unit amount (as stored on strategies and reported as insights
// spend) into the minor units Graph expects for budgets.
// TODO: read the ad account currency offset so zero-decimal currencies are not scaled by 100.
func MinorUnits(major float64) int64 {
	return int64(math.Round(major * 100))
}

// CampaignUpdate fields left nil are not sent. DailyBudget is in the account's minor currency units.
type CampaignUpdate struct {
	Status      *string
	DailyBudget *int64
}

const (
	CampaignStatusPaused = "PAUSED"
	CampaignStatusActive = "ACTIVE"
)

type PagePost struct {
	ID          string
	Message     string
	CreatedTime time.Time
}

func (c *Client) logger() *log.Logger {
	if c.Logger == nil {
		return log.Default()
	}
	return c.Logger
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return &http.Client{Timeout: 20 * time.Second}
	}
	return c.HTTP
}

func (c *Client) baseURL() string {
	if c.BaseURL == "" {
		return DefaultGraphURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

// do performs one Graph call. GET sends params in the query string, everything else form-encoded.
func (c *Client) do(ctx context.Context, operation, method, path, token string, params url.Values, out any) (err error) {
	defer func() { metrics.ObserveAdPlatformCall(operation, err) }()

	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("facebook %s: access token is required", operation)
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if c.Usage != nil {
		ok, used, err := c.Usage.ConsumeRequests(ctx, platformName, 1, c.Limits.DailyRequestsMax)
		if err != nil {
			c.logger().Printf("[AdPlatform] quota accounting failed op=%s err=%v", operation, err)
		} else if !ok {
			c.logger().Printf("[AdPlatform] daily quota exceeded op=%s used=%d max=%d", operation, used, c.Limits.DailyRequestsMax)
			return ErrQuotaExceeded
		}
	}

	endpoint := c.baseURL() + path
	var body io.Reader
	if params == nil {
		params = url.Values{}
	}
	if method == http.MethodGet {
		if enc := params.Encode(); enc != "" {
			endpoint += "?" + enc
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	res, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("facebook %s: %w", operation, err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{Operation: operation, StatusCode: res.StatusCode, Message: extractGraphErrorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("facebook %s: decode response: %w", operation, err)
	}
	return nil
}

type insightsResp struct {
	Data []struct {
		Spend        string `json:"spend"`
		Impressions  string `json:"impressions"`
		Clicks       string `json:"clicks"`
		ActionValues []struct {
			ActionType string `json:"action_type"`
			Value      string `json:"value"`
		} `json:"action_values"`
	} `json:"data"`
}

// GetInsights returns lifetime insights for a campaign. No data rows means zero insights.
func (c *Client) GetInsights(ctx context.Context, token, campaignID string) (Insights, error) {
	q := url.Values{}
	q.Set("fields", "spend,impressions,clicks,action_values")
	q.Set("date_preset", "maximum")
	var parsed insightsResp
	if err := c.do(ctx, "insights", http.MethodGet, "/"+url.PathEscape(campaignID)+"/insights", token, q, &parsed); err != nil {
		return Insights{}, err
	}
	out := Insights{ActionValues: []ActionValue{}}
	for _, row := range parsed.Data {
		out.Spend += parseFloat(row.Spend)
		out.Impressions += parseInt(row.Impressions)
		out.Clicks += parseInt(row.Clicks)
		for _, av := range row.ActionValues {
			out.ActionValues = append(out.ActionValues, ActionValue{ActionType: av.ActionType, Value: parseFloat(av.Value)})
		}
	}
	return out, nil
}

// UpdateCampaign changes status and/or daily budget.
func (c *Client) UpdateCampaign(ctx context.Context, token, campaignID string, upd CampaignUpdate) error {
	form := url.Values{}
	if upd.Status != nil {
		form.Set("status", *upd.Status)
	}
	if upd.DailyBudget != nil {
		form.Set("daily_budget", strconv.FormatInt(*upd.DailyBudget, 10))
	}
	if len(form) == 0 {
		return nil
	}
	var parsed struct {
		Success bool `json:"success"`
	}
	return c.do(ctx, "update_campaign", http.MethodPost, "/"+url.PathEscape(campaignID), token, form, &parsed)
}

// PostContent publishes to a page feed, or as a photo when imageURL is set.
func (c *Client) PostContent(ctx context.Context, token, pageID, message, imageURL string) (string, error) {
	form := url.Values{}
	path := "/" + url.PathEscape(pageID) + "/feed"
	if strings.TrimSpace(imageURL) != "" {
		path = "/" + url.PathEscape(pageID) + "/photos"
		form.Set("url", imageURL)
		if message != "" {
			form.Set("caption", message)
		}
	} else {
		form.Set("message", message)
	}
	var parsed struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := c.do(ctx, "post_content", http.MethodPost, path, token, form, &parsed); err != nil {
		return "", err
	}
	if parsed.PostID != "" {
		return parsed.PostID, nil
	}
	return parsed.ID, nil
}

// LatestPagePost returns nil when the page has no posts.
func (c *Client) LatestPagePost(ctx context.Context, token, pageID string) (*PagePost, error) {
	q := url.Values{}
	q.Set("fields", "id,message,created_time")
	q.Set("limit", "1")
	var parsed struct {
		Data []struct {
			ID          string `json:"id"`
			Message     string `json:"message"`
			CreatedTime string `json:"created_time"`
		} `json:"data"`
	}
	if err := c.do(ctx, "latest_post", http.MethodGet, "/"+url.PathEscape(pageID)+"/posts", token, q, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 {
		return nil, nil
	}
	p := parsed.Data[0]
	created, err := parseGraphTime(p.CreatedTime)
	if err != nil {
		return nil, fmt.Errorf("facebook latest_post: bad created_time %q: %w", p.CreatedTime, err)
	}
	return &PagePost{ID: p.ID, Message: p.Message, CreatedTime: created}, nil
}

func (c *Client) LikeObject(ctx context.Context, token, objectID string) error {
	return c.do(ctx, "like", http.MethodPost, "/"+url.PathEscape(objectID)+"/likes", token, nil, nil)
}

// ReplyToComment returns the new comment id.
func (c *Client) ReplyToComment(ctx context.Context, token, commentID, message string) (string, error) {
	form := url.Values{}
	form.Set("message", message)
	var parsed struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "reply", http.MethodPost, "/"+url.PathEscape(commentID)+"/comments", token, form, &parsed); err != nil {
		return "", err
	}
	return parsed.ID, nil
}

// SendMessage sends a Messenger text from the page to recipientID.
func (c *Client) SendMessage(ctx context.Context, token, pageID, recipientID, text string) error {
	recipient, _ := json.Marshal(map[string]string{"id": recipientID})
	message, _ := json.Marshal(map[string]string{"text": text})
	form := url.Values{}
	form.Set("recipient", string(recipient))
	form.Set("message", string(message))
	form.Set("messaging_type", "MESSAGE_TAG")
	form.Set("tag", "ACCOUNT_UPDATE")
	return c.do(ctx, "send_message", http.MethodPost, "/"+url.PathEscape(pageID)+"/messages", token, form, nil)
}

func parseGraphTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02T15:04:05-0700", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time layout")
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return int64(parseFloat(s))
	}
	return n
}
