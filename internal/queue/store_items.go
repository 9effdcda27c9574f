package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateDownload stores the records of one trigger in a single transaction:
// the load items, their shared config, the movie's url details (created on
// first use, otherwise extended with the config timestamp) and the pending
// queue group. It returns the new load item ids in creation order.
func (s *Store) CreateDownload(ctx context.Context, download NewDownload) ([]int64, error) {
	if len(download.Items) == 0 {
		return nil, errors.New("create download: no load items")
	}
	now := time.Now().UTC()
	createdAt := download.Config.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	var ids []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids = ids[:0]
		for _, item := range download.Items {
			id, err := insertLoadItem(ctx, tx, item, now)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		voiceOver, err := json.Marshal(download.Config.VoiceOver)
		if err != nil {
			return fmt.Errorf("encode voice over: %w", err)
		}
		var subtitleLang, subtitleCode any
		if sub := download.Config.Subtitle; sub != nil {
			subtitleLang, subtitleCode = sub.Lang, sub.Code
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO load_configs (voice_over_json, quality, subtitle_lang, subtitle_code, favs, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			string(voiceOver), nullableString(string(download.Config.Quality)),
			subtitleLang, subtitleCode, nullableString(download.Config.Favs), formatTime(createdAt),
		)
		if err != nil {
			return fmt.Errorf("insert load config: %w", err)
		}
		configID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("load config id: %w", err)
		}
		for pos, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO load_config_items (config_id, load_item_id, position) VALUES (?, ?, ?)`,
				configID, id, pos,
			); err != nil {
				return fmt.Errorf("link load config: %w", err)
			}
		}

		if err := upsertURLDetails(ctx, tx, download.Details, createdAt.UnixMilli()); err != nil {
			return err
		}

		group, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO queue_groups (load_item_ids_json, is_batch) VALUES (?, ?)`,
			string(group), boolToInt(len(ids) > 1),
		); err != nil {
			return fmt.Errorf("enqueue group: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create download: %w", err)
	}
	return ids, nil
}

func insertLoadItem(ctx context.Context, tx *sql.Tx, item LoadItem, now time.Time) (int64, error) {
	var seasonID, seasonTitle, episodeID, episodeTitle any
	if item.Season != nil {
		seasonID, seasonTitle = item.Season.ID, item.Season.Title
	}
	if item.Episode != nil {
		episodeID, episodeTitle = item.Episode.ID, item.Episode.Title
	}
	qualities, err := nullableJSON(item.AvailableQualities)
	if err != nil {
		return 0, err
	}
	subtitles, err := nullableJSON(item.AvailableSubtitles)
	if err != nil {
		return 0, err
	}
	status := item.Status
	if status == "" {
		status = StatusCandidate
	}
	content := item.Content
	if content == "" {
		content = ContentBoth
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO load_items (site_type, movie_id, season_id, season_title, episode_id, episode_title,
             content, status, available_qualities_json, available_subtitles_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.SiteType, item.MovieID, seasonID, seasonTitle, episodeID, episodeTitle,
		content, status, qualities, subtitles, formatTime(now), formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("insert load item: %w", err)
	}
	return res.LastInsertId()
}

func upsertURLDetails(ctx context.Context, tx *sql.Tx, details UrlDetails, registryStamp int64) error {
	var registryRaw string
	err := tx.QueryRowContext(ctx, `SELECT load_registry_json FROM url_details WHERE movie_id = ?`, details.MovieID).Scan(&registryRaw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		registry, err := json.Marshal(append(append([]int64(nil), details.LoadRegistry...), registryStamp))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO url_details (movie_id, site_url, title_localized, title_original, load_registry_json)
             VALUES (?, ?, ?, ?, ?)`,
			details.MovieID, details.SiteURL, details.Title.Localized, nullableString(details.Title.Original), string(registry),
		); err != nil {
			return fmt.Errorf("insert url details: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read url details: %w", err)
	}

	var registry []int64
	if err := json.Unmarshal([]byte(registryRaw), &registry); err != nil {
		return fmt.Errorf("decode load registry: %w", err)
	}
	updated, err := json.Marshal(append(registry, registryStamp))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE url_details SET load_registry_json = ? WHERE movie_id = ?`, string(updated), details.MovieID); err != nil {
		return fmt.Errorf("update load registry: %w", err)
	}
	return nil
}

// GetLoadItem fetches a load item by identifier. A missing item yields nil.
func (s *Store) GetLoadItem(ctx context.Context, id int64) (*LoadItem, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+loadItemColumns+` FROM load_items WHERE id = ?`, id)
	item, err := scanLoadItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get load item: %w", err)
	}
	return item, nil
}

// ListByMovie returns every load item of a movie in id order.
func (s *Store) ListByMovie(ctx context.Context, movieID int64) ([]*LoadItem, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+loadItemColumns+` FROM load_items WHERE movie_id = ? ORDER BY id`, movieID)
	if err != nil {
		return nil, fmt.Errorf("list by movie: %w", err)
	}
	return collectLoadItems(rows)
}

// List returns load items filtered by status, or all items when no statuses are given.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*LoadItem, error) {
	query := `SELECT ` + loadItemColumns + ` FROM load_items`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list load items: %w", err)
	}
	return collectLoadItems(rows)
}

// UpdateLoadItemStatus sets the status of a load item.
func (s *Store) UpdateLoadItemStatus(ctx context.Context, id int64, status Status) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE load_items SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("update load item status: %w", err)
	}
	return requireAffected(res, ErrLoadItemNotFound, id)
}

// SetAvailability records the qualities and subtitle languages the site
// reported for a load item.
func (s *Store) SetAvailability(ctx context.Context, id int64, qualities []Quality, subtitles []string) error {
	qualitiesRaw, err := nullableJSON(qualities)
	if err != nil {
		return err
	}
	subtitlesRaw, err := nullableJSON(subtitles)
	if err != nil {
		return err
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE load_items SET available_qualities_json = ?, available_subtitles_json = ?, updated_at = ? WHERE id = ?`,
		qualitiesRaw, subtitlesRaw, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	return requireAffected(res, ErrLoadItemNotFound, id)
}

// URLDetails returns the stored details of a movie. A missing movie yields nil.
func (s *Store) URLDetails(ctx context.Context, movieID int64) (*UrlDetails, error) {
	var (
		details     UrlDetails
		original    sql.NullString
		registryRaw string
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT movie_id, site_url, title_localized, title_original, load_registry_json FROM url_details WHERE movie_id = ?`,
		movieID,
	).Scan(&details.MovieID, &details.SiteURL, &details.Title.Localized, &original, &registryRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get url details: %w", err)
	}
	details.Title.Original = original.String
	if err := json.Unmarshal([]byte(registryRaw), &details.LoadRegistry); err != nil {
		return nil, fmt.Errorf("decode load registry: %w", err)
	}
	return &details, nil
}

func requireAffected(res sql.Result, notFound error, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", notFound, id)
	}
	return nil
}
