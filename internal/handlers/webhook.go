package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/models"
)

const signatureHeader = "X-Hub-Signature-256"

// FacebookWebhookVerify answers the subscription handshake with hub.challenge.
func (h *Handler) FacebookWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		log.Printf("[Webhook] verify rejected mode=%q tokenSet=%v", q.Get("hub.mode"), h.verifyToken != "")
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string `json:"id"`
	Time    int64  `json:"time"`
	Changes []struct {
		Field string `json:"field"`
		Value struct {
			Item      string `json:"item"`
			Verb      string `json:"verb"`
			CommentID string `json:"comment_id"`
			PostID    string `json:"post_id"`
			Message   string `json:"message"`
			From      struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"from"`
		} `json:"value"`
	} `json:"changes"`
	Messaging []struct {
		Sender struct {
			ID string `json:"id"`
		} `json:"sender"`
		Timestamp int64 `json:"timestamp"`
		Message   *struct {
			MID    string `json:"mid"`
			Text   string `json:"text"`
			IsEcho bool   `json:"is_echo"`
		} `json:"message"`
	} `json:"messaging"`
}

type webhookResult struct {
	OK      bool `json:"ok"`
	Stored  int  `json:"stored"`
	Ignored int  `json:"ignored"`
	Failed  int  `json:"failed"`
	Leads   int  `json:"leads"`
}

// FacebookWebhook turns page feed comments and Messenger messages into interactions.
// Message senders are also upserted as leads. Unknown pages are ignored; Facebook
// gets a 200 unless the payload is unreadable or the signature is wrong.
func (h *Handler) FacebookWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if h.appSecret != "" && !validSignature(h.appSecret, r.Header.Get(signatureHeader), body) {
		log.Printf("[Webhook] bad signature remote=%s", r.RemoteAddr)
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res := webhookResult{OK: true}
	if payload.Object != "page" {
		writeJSON(w, http.StatusOK, res)
		return
	}
	ctx := r.Context()
	for _, entry := range payload.Entry {
		pageID := strings.TrimSpace(entry.ID)
		userID, err := h.store.UserIDForPage(ctx, pageID)
		if err != nil {
			res.Failed++
			log.Printf("[Webhook] page lookup failed pageId=%s err=%v", pageID, err)
			continue
		}
		if userID == "" {
			res.Ignored += len(entry.Changes) + len(entry.Messaging)
			continue
		}

		for _, ch := range entry.Changes {
			v := ch.Value
			if ch.Field != "feed" || v.Item != "comment" || v.Verb != "add" || v.CommentID == "" || v.From.ID == pageID {
				res.Ignored++
				continue
			}
			h.storeInteraction(r, &res, &models.Interaction{
				UserID:     userID,
				Kind:       models.InteractionKindComment,
				ExternalID: v.CommentID,
				SenderID:   v.From.ID,
				Content:    v.Message,
			})
		}

		for _, m := range entry.Messaging {
			if m.Message == nil || m.Message.IsEcho || m.Message.MID == "" || m.Sender.ID == "" || m.Sender.ID == pageID {
				res.Ignored++
				continue
			}
			h.storeInteraction(r, &res, &models.Interaction{
				UserID:     userID,
				Kind:       models.InteractionKindMessage,
				ExternalID: m.Message.MID,
				SenderID:   m.Sender.ID,
				Content:    m.Message.Text,
			})
			at := time.Now().UTC()
			if m.Timestamp > 0 {
				at = time.UnixMilli(m.Timestamp).UTC()
			}
			if err := h.store.UpsertLeadFromMessage(ctx, userID, m.Sender.ID, "", at); err != nil {
				res.Failed++
				log.Printf("[Webhook] lead upsert failed userId=%s senderId=%s err=%v", userID, m.Sender.ID, err)
				continue
			}
			res.Leads++
		}
	}
	log.Printf("[Webhook] processed entries=%d stored=%d ignored=%d failed=%d", len(payload.Entry), res.Stored, res.Ignored, res.Failed)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) storeInteraction(r *http.Request, res *webhookResult, in *models.Interaction) {
	in.Content = truncate(in.Content, 4000)
	inserted, err := h.store.InsertInteraction(r.Context(), in)
	switch {
	case err != nil:
		res.Failed++
		log.Printf("[Webhook] interaction insert failed kind=%s externalId=%s err=%v", in.Kind, in.ExternalID, err)
	case inserted:
		res.Stored++
	default:
		res.Ignored++
	}
}

// validSignature checks "sha256=<hex hmac of body>".
func validSignature(secret, header string, body []byte) bool {
	sig := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if sig == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
