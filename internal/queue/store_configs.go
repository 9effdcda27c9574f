package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ConfigForLoadItem returns the load config that covers the given load item.
// A load item without a config yields nil.
func (s *Store) ConfigForLoadItem(ctx context.Context, loadItemID int64) (*LoadConfig, error) {
	ctx = ensureContext(ctx)
	var (
		cfg          LoadConfig
		voiceOverRaw string
		quality      sql.NullString
		subtitleLang sql.NullString
		subtitleCode sql.NullString
		favs         sql.NullString
		createdRaw   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.voice_over_json, c.quality, c.subtitle_lang, c.subtitle_code, c.favs, c.created_at
         FROM load_configs c JOIN load_config_items ci ON ci.config_id = c.id
         WHERE ci.load_item_id = ?`,
		loadItemID,
	).Scan(&cfg.ID, &voiceOverRaw, &quality, &subtitleLang, &subtitleCode, &favs, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config for load item: %w", err)
	}
	if err := json.Unmarshal([]byte(voiceOverRaw), &cfg.VoiceOver); err != nil {
		return nil, fmt.Errorf("decode voice over: %w", err)
	}
	cfg.Quality = Quality(quality.String)
	cfg.Favs = favs.String
	if subtitleLang.Valid {
		cfg.Subtitle = &Subtitle{Lang: subtitleLang.String, Code: subtitleCode.String}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		cfg.CreatedAt = created
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT load_item_id FROM load_config_items WHERE config_id = ? ORDER BY position`, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("config load items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		cfg.LoadItemIDs = append(cfg.LoadItemIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
