package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/models"
	"github.com/google/uuid"
)

// InsertInteraction records an inbound comment/message. Redelivered webhooks are ignored
// (inserted=false) via the unique external_id.
func (s *Store) InsertInteraction(ctx context.Context, in *models.Interaction) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if in == nil || strings.TrimSpace(in.ExternalID) == "" {
		return false, fmt.Errorf("interaction external id is required")
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Platform == "" {
		in.Platform = "facebook"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO public.interactions
		  (id, user_id, platform, kind, external_id, sender_id, content, is_liked, is_replied, created_at, updated_at)
		VALUES
		  ($1, $2, $3, $4, $5, NULLIF($6,''), $7, FALSE, FALSE, NOW(), NOW())
		ON CONFLICT (external_id) DO NOTHING
	`, in.ID, in.UserID, in.Platform, in.Kind, in.ExternalID, in.SenderID, in.Content)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListPendingInteractions returns the user's interactions that still need a reply, or a like
// for comments, least recently touched first. Released claims bump updated_at, so items
// that keep failing rotate behind newer ones.
func (s *Store) ListPendingInteractions(ctx context.Context, userID string, limit int) ([]models.Interaction, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, platform, kind, external_id, sender_id, content, is_liked, is_replied, reply_content, created_at
		  FROM public.interactions
		 WHERE user_id = $1
		   AND (is_replied = FALSE OR (kind = 'comment' AND is_liked = FALSE))
		   AND NOT (kind = 'message' AND COALESCE(sender_id, '') = '')
		 ORDER BY updated_at ASC, created_at ASC
		 LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Interaction, 0)
	for rows.Next() {
		var (
			in     models.Interaction
			sender sql.NullString
			reply  sql.NullString
		)
		if err := rows.Scan(&in.ID, &in.UserID, &in.Platform, &in.Kind, &in.ExternalID, &sender, &in.Content,
			&in.IsLiked, &in.IsReplied, &reply, &in.CreatedAt); err != nil {
			return nil, err
		}
		in.SenderID = sender.String
		if reply.Valid {
			v := reply.String
			in.ReplyContent = &v
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimLike flips is_liked from false to true. It reports false when another sweep got there first.
func (s *Store) ClaimLike(ctx context.Context, id string) (bool, error) {
	return s.compareAndSwapFlag(ctx, "is_liked", id, false, true)
}

// ReleaseLike undoes a claim whose platform call failed so a later sweep can retry.
func (s *Store) ReleaseLike(ctx context.Context, id string) error {
	_, err := s.compareAndSwapFlag(ctx, "is_liked", id, true, false)
	return err
}

func (s *Store) ClaimReply(ctx context.Context, id string) (bool, error) {
	return s.compareAndSwapFlag(ctx, "is_replied", id, false, true)
}

func (s *Store) ReleaseReply(ctx context.Context, id string) error {
	_, err := s.compareAndSwapFlag(ctx, "is_replied", id, true, false)
	return err
}

func (s *Store) compareAndSwapFlag(ctx context.Context, column, id string, from, to bool) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	switch column {
	case "is_liked", "is_replied":
	default:
		return false, fmt.Errorf("unsupported flag column %q", column)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE public.interactions
		   SET `+column+` = $3,
		       updated_at = NOW()
		 WHERE id = $1
		   AND `+column+` = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) SetReplyContent(ctx context.Context, id, reply string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.interactions
		   SET reply_content = $2,
		       updated_at = NOW()
		 WHERE id = $1
	`, id, truncate(reply, 4000))
	return err
}

// UpsertLeadFromMessage makes sure a messaging sender exists as a lead and bumps its last interaction.
func (s *Store) UpsertLeadFromMessage(ctx context.Context, userID, senderID, name string, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public.leads (id, user_id, name, external_sender_id, status, last_interaction, created_at)
		VALUES ($1, $2, NULLIF($3,''), $4, 'contacted', $5, NOW())
		ON CONFLICT (user_id, external_sender_id) DO UPDATE SET
		  last_interaction = EXCLUDED.last_interaction,
		  name = COALESCE(EXCLUDED.name, public.leads.name)
	`, uuid.NewString(), userID, name, senderID, at)
	return err
}
