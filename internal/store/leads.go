package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/models"
)

// LeadsDueForFollowUp selects contacted leads whose last interaction is older than cutoff, stalest first.
func (s *Store) LeadsDueForFollowUp(ctx context.Context, userID string, cutoff time.Time, limit int) ([]models.Lead, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, external_sender_id, status, last_interaction
		  FROM public.leads
		 WHERE user_id = $1
		   AND status = 'contacted'
		   AND last_interaction < $2
		 ORDER BY last_interaction ASC
		 LIMIT $3
	`, userID, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Lead, 0, limit)
	for rows.Next() {
		var (
			l    models.Lead
			name sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.UserID, &name, &l.ExternalSenderID, &l.Status, &l.LastInteraction); err != nil {
			return nil, err
		}
		l.Name = name.String
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkLeadFollowUpSent only transitions leads that are still in the contacted state.
func (s *Store) MarkLeadFollowUpSent(ctx context.Context, id string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE public.leads
		   SET status = 'follow_up_sent',
		       last_interaction = NOW()
		 WHERE id = $1
		   AND status = 'contacted'
	`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// DeferLeadFollowUp pushes a contacted lead to the back of the follow-up queue after a failed send.
func (s *Store) DeferLeadFollowUp(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.leads
		   SET last_interaction = NOW()
		 WHERE id = $1
		   AND status = 'contacted'
	`, id)
	return err
}
