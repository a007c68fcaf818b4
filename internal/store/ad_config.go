package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/PortNumber53/adroom/backend/internal/models"
)

// GetAdPlatformConfig returns nil (without error) when the user has no usable token.
func (s *Store) GetAdPlatformConfig(ctx context.Context, userID string) (*models.AdPlatformConfig, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var (
		cfg       models.AdPlatformConfig
		accountID sql.NullString
		pageID    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, access_token, ad_account_id, page_id
		  FROM public.ad_platform_configs
		 WHERE user_id = $1
	`, userID).Scan(&cfg.UserID, &cfg.AccessToken, &accountID, &pageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, nil
	}
	cfg.AdAccountID = strings.TrimSpace(accountID.String)
	cfg.PageID = strings.TrimSpace(pageID.String)
	return &cfg, nil
}

func (s *Store) UpsertAdPlatformConfig(ctx context.Context, cfg models.AdPlatformConfig) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public.ad_platform_configs (user_id, access_token, ad_account_id, page_id, updated_at)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
		  access_token = EXCLUDED.access_token,
		  ad_account_id = EXCLUDED.ad_account_id,
		  page_id = EXCLUDED.page_id,
		  updated_at = NOW()
	`, cfg.UserID, cfg.AccessToken, cfg.AdAccountID, cfg.PageID)
	return err
}

// UserIDForPage resolves which user owns a Facebook page. Unknown pages yield "".
func (s *Store) UserIDForPage(ctx context.Context, pageID string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM public.ad_platform_configs WHERE page_id = $1 LIMIT 1`, pageID).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return userID, err
}
