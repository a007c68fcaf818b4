package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/adplatform"
	"github.com/PortNumber53/adroom/backend/internal/models"
	"github.com/PortNumber53/adroom/backend/internal/textgen"
)

const (
	dailyPostWindow       = 24 * time.Hour
	leadFollowUpAge       = 24 * time.Hour
	leadFollowUpBatch     = 10
	interactionBatch      = 25
	LeadFollowUpMessage   = "Hi! Just following up on your earlier message. Is there anything else we can help you with?"
	dailyPostSystemPrompt = `You write one organic Facebook page post for a small business.
Keep it under 80 words, friendly, with at most two hashtags and a clear call to action.
Reply with a JSON object: {"message": string}.`
	replySystemPrompt = `You reply on behalf of a business to a customer's Facebook comment or message.
Be brief, warm and helpful. Never promise discounts or make medical, legal or financial claims.
Reply with a JSON object: {"reply": string}.`
)

type AutonomousStore interface {
	ActiveStrategies(ctx context.Context) ([]*models.StrategyRecord, error)
	GetAdPlatformConfig(ctx context.Context, userID string) (*models.AdPlatformConfig, error)
	LeadsDueForFollowUp(ctx context.Context, userID string, cutoff time.Time, limit int) ([]models.Lead, error)
	MarkLeadFollowUpSent(ctx context.Context, id string) (bool, error)
	DeferLeadFollowUp(ctx context.Context, id string) error
	ListPendingInteractions(ctx context.Context, userID string, limit int) ([]models.Interaction, error)
	ClaimLike(ctx context.Context, id string) (bool, error)
	ReleaseLike(ctx context.Context, id string) error
	ClaimReply(ctx context.Context, id string) (bool, error)
	ReleaseReply(ctx context.Context, id string) error
	SetReplyContent(ctx context.Context, id, reply string) error
}

type SocialPlatform interface {
	LatestPagePost(ctx context.Context, token, pageID string) (*adplatform.PagePost, error)
	PostContent(ctx context.Context, token, pageID, message, imageURL string) (string, error)
	SendMessage(ctx context.Context, token, pageID, recipientID, text string) error
	LikeObject(ctx context.Context, token, objectID string) error
	ReplyToComment(ctx context.Context, token, commentID, message string) (string, error)
}

type Completer interface {
	Complete(ctx context.Context, systemPrompt, contextPayload string) (string, error)
}

// AutonomousWorker posts daily content, follows up leads and engages with interactions
// for every user that owns an active strategy.
type AutonomousWorker struct {
	Store  AutonomousStore
	Social SocialPlatform
	Text   Completer
	Logger *log.Logger
	Now    func() time.Time
}

func NewAutonomousWorker(s AutonomousStore, social SocialPlatform, text Completer, logger *log.Logger) *AutonomousWorker {
	if logger == nil {
		logger = log.Default()
	}
	return &AutonomousWorker{Store: s, Social: social, Text: text, Logger: logger, Now: time.Now}
}

type AutonomousResult struct {
	Users            int `json:"users"`
	SkippedUsers     int `json:"skippedUsers"`
	Posts            int `json:"posts"`
	FollowUps        int `json:"followUps"`
	FollowUpFailures int `json:"followUpFailures"`
	Likes            int `json:"likes"`
	Replies          int `json:"replies"`
	Failed           int `json:"failed"`
}

func (w *AutonomousWorker) logger() *log.Logger {
	if w.Logger == nil {
		return log.Default()
	}
	return w.Logger
}

func (w *AutonomousWorker) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now().UTC()
}

// RunOnce performs one sequential sweep. Only the initial strategy listing error is returned.
func (w *AutonomousWorker) RunOnce(ctx context.Context) (AutonomousResult, error) {
	var res AutonomousResult
	if w == nil || w.Store == nil || w.Social == nil {
		return res, errors.New("autonomous worker is not configured")
	}
	strategies, err := w.Store.ActiveStrategies(ctx)
	if err != nil {
		return res, fmt.Errorf("list active strategies: %w", err)
	}

	goals := map[string][]string{}
	users := make([]string, 0)
	for _, s := range strategies {
		if _, seen := goals[s.UserID]; !seen {
			users = append(users, s.UserID)
			goals[s.UserID] = []string{}
		}
		if g := strings.TrimSpace(s.Goal); g != "" {
			goals[s.UserID] = append(goals[s.UserID], g)
		}
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		cfg, err := w.Store.GetAdPlatformConfig(ctx, userID)
		if err != nil {
			res.Failed++
			w.logger().Printf("[AutonomousWorker] config read failed userId=%s err=%v", userID, err)
			continue
		}
		if cfg == nil || cfg.PageID == "" {
			res.SkippedUsers++
			continue
		}
		res.Users++

		if posted, err := w.dailyPost(ctx, cfg, goals[userID]); err != nil {
			res.Failed++
			w.logger().Printf("[AutonomousWorker] daily post failed userId=%s err=%v", userID, err)
		} else if posted {
			res.Posts++
		}
		w.followUpLeads(ctx, cfg, &res)
		w.engage(ctx, cfg, &res)
	}
	w.logger().Printf("[AutonomousWorker] sweep done users=%d posts=%d followUps=%d likes=%d replies=%d failed=%d",
		res.Users, res.Posts, res.FollowUps, res.Likes, res.Replies, res.Failed)
	return res, nil
}

func (w *AutonomousWorker) dailyPost(ctx context.Context, cfg *models.AdPlatformConfig, goals []string) (bool, error) {
	latest, err := w.Social.LatestPagePost(ctx, cfg.AccessToken, cfg.PageID)
	if err != nil {
		return false, err
	}
	if latest != nil && w.now().Sub(latest.CreatedTime) < dailyPostWindow {
		return false, nil
	}
	if w.Text == nil {
		return false, errors.New("text client is not configured")
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"goals": goals,
		"date":  w.now().Format("2006-01-02"),
	})
	raw, err := w.Text.Complete(ctx, dailyPostSystemPrompt, string(payload))
	if err != nil {
		return false, err
	}
	var out struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(textgen.ExtractJSON(raw)), &out); err != nil {
		return false, fmt.Errorf("daily post reply is not valid JSON: %w", err)
	}
	msg := strings.TrimSpace(out.Message)
	if msg == "" {
		return false, errors.New("daily post reply has no message")
	}
	postID, err := w.Social.PostContent(ctx, cfg.AccessToken, cfg.PageID, msg, "")
	if err != nil {
		return false, err
	}
	w.logger().Printf("[AutonomousWorker] daily post published userId=%s postId=%s", cfg.UserID, postID)
	return true, nil
}

// followUpLeads only marks a lead follow_up_sent after the send succeeds. A failed lead stays
// contacted but is deferred to the back of the queue so it cannot starve newer leads.
func (w *AutonomousWorker) followUpLeads(ctx context.Context, cfg *models.AdPlatformConfig, res *AutonomousResult) {
	leads, err := w.Store.LeadsDueForFollowUp(ctx, cfg.UserID, w.now().Add(-leadFollowUpAge), leadFollowUpBatch)
	if err != nil {
		res.Failed++
		w.logger().Printf("[AutonomousWorker] leads read failed userId=%s err=%v", cfg.UserID, err)
		return
	}
	for _, lead := range leads {
		if strings.TrimSpace(lead.ExternalSenderID) == "" {
			continue
		}
		if err := w.Social.SendMessage(ctx, cfg.AccessToken, cfg.PageID, lead.ExternalSenderID, LeadFollowUpMessage); err != nil {
			res.FollowUpFailures++
			w.logger().Printf("[AutonomousWorker] follow-up send failed leadId=%s err=%v", lead.ID, err)
			if derr := w.Store.DeferLeadFollowUp(ctx, lead.ID); derr != nil {
				w.logger().Printf("[AutonomousWorker] follow-up defer failed leadId=%s err=%v", lead.ID, derr)
			}
			continue
		}
		if _, err := w.Store.MarkLeadFollowUpSent(ctx, lead.ID); err != nil {
			res.Failed++
			w.logger().Printf("[AutonomousWorker] follow-up mark failed leadId=%s err=%v", lead.ID, err)
			continue
		}
		res.FollowUps++
	}
}

func (w *AutonomousWorker) engage(ctx context.Context, cfg *models.AdPlatformConfig, res *AutonomousResult) {
	pending, err := w.Store.ListPendingInteractions(ctx, cfg.UserID, interactionBatch)
	if err != nil {
		res.Failed++
		w.logger().Printf("[AutonomousWorker] interactions read failed userId=%s err=%v", cfg.UserID, err)
		return
	}
	for _, in := range pending {
		if in.Kind == models.InteractionKindComment && !in.IsLiked {
			liked, err := w.like(ctx, cfg, in)
			if err != nil {
				res.Failed++
				w.logger().Printf("[AutonomousWorker] like failed interactionId=%s err=%v", in.ID, err)
			} else if liked {
				res.Likes++
			}
		}
		if !in.IsReplied {
			replied, err := w.reply(ctx, cfg, in)
			if err != nil {
				res.Failed++
				w.logger().Printf("[AutonomousWorker] reply failed interactionId=%s err=%v", in.ID, err)
			} else if replied {
				res.Replies++
			}
		}
	}
}

// like claims the flag first; losing the claim means another sweep already handled it.
func (w *AutonomousWorker) like(ctx context.Context, cfg *models.AdPlatformConfig, in models.Interaction) (bool, error) {
	claimed, err := w.Store.ClaimLike(ctx, in.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	if err := w.Social.LikeObject(ctx, cfg.AccessToken, in.ExternalID); err != nil {
		if rerr := w.Store.ReleaseLike(ctx, in.ID); rerr != nil {
			w.logger().Printf("[AutonomousWorker] like release failed interactionId=%s err=%v", in.ID, rerr)
		}
		return false, err
	}
	return true, nil
}

func (w *AutonomousWorker) reply(ctx context.Context, cfg *models.AdPlatformConfig, in models.Interaction) (bool, error) {
	if w.Text == nil {
		return false, errors.New("text client is not configured")
	}
	if in.Kind == models.InteractionKindMessage && strings.TrimSpace(in.SenderID) == "" {
		return false, nil
	}
	claimed, err := w.Store.ClaimReply(ctx, in.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	release := func(cause error) (bool, error) {
		if rerr := w.Store.ReleaseReply(ctx, in.ID); rerr != nil {
			w.logger().Printf("[AutonomousWorker] reply release failed interactionId=%s err=%v", in.ID, rerr)
		}
		return false, cause
	}

	payload, _ := json.Marshal(map[string]string{"kind": in.Kind, "content": in.Content})
	raw, err := w.Text.Complete(ctx, replySystemPrompt, string(payload))
	if err != nil {
		return release(err)
	}
	var out struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal([]byte(textgen.ExtractJSON(raw)), &out); err != nil {
		return release(fmt.Errorf("reply is not valid JSON: %w", err))
	}
	text := strings.TrimSpace(out.Reply)
	if text == "" {
		return release(errors.New("reply is empty"))
	}

	switch in.Kind {
	case models.InteractionKindMessage:
		err = w.Social.SendMessage(ctx, cfg.AccessToken, cfg.PageID, in.SenderID, text)
	default:
		_, err = w.Social.ReplyToComment(ctx, cfg.AccessToken, in.ExternalID, text)
	}
	if err != nil {
		return release(err)
	}
	if err := w.Store.SetReplyContent(ctx, in.ID, text); err != nil {
		w.logger().Printf("[AutonomousWorker] reply content write failed interactionId=%s err=%v", in.ID, err)
	}
	return true, nil
}
