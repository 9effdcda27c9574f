package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const loadItemColumns = "id, site_type, movie_id, season_id, season_title, episode_id, episode_title, content, status, available_qualities_json, available_subtitles_json, created_at, updated_at"

func scanLoadItem(scanner rowScanner) (*LoadItem, error) {
	var (
		item         LoadItem
		siteType     string
		seasonID     sql.NullString
		seasonTitle  sql.NullString
		episodeID    sql.NullString
		episodeTitle sql.NullString
		content      string
		statusStr    string
		qualities    sql.NullString
		subtitles    sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&item.ID,
		&siteType,
		&item.MovieID,
		&seasonID,
		&seasonTitle,
		&episodeID,
		&episodeTitle,
		&content,
		&statusStr,
		&qualities,
		&subtitles,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item.SiteType = SiteType(siteType)
	item.Content = Content(content)
	item.Status = Status(statusStr)
	if seasonID.Valid {
		item.Season = &Season{ID: seasonID.String, Title: seasonTitle.String}
	}
	if episodeID.Valid {
		item.Episode = &Episode{ID: episodeID.String, Title: episodeTitle.String}
	}
	if qualities.Valid {
		if err := json.Unmarshal([]byte(qualities.String), &item.AvailableQualities); err != nil {
			return nil, err
		}
	}
	if subtitles.Valid {
		if err := json.Unmarshal([]byte(subtitles.String), &item.AvailableSubtitles); err != nil {
			return nil, err
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return &item, nil
}

const fileItemColumns = "id, file_type, load_item_id, dependent_file_item_id, download_id, file_name, url, save_as, retry_attempts, status, created_at"

func scanFileItem(scanner rowScanner) (*FileItem, error) {
	var (
		file       FileItem
		fileType   string
		dependent  sql.NullInt64
		downloadID sql.NullInt64
		url        sql.NullString
		saveAs     int
		statusStr  string
		createdRaw sql.NullString
	)
	if err := scanner.Scan(
		&file.ID,
		&fileType,
		&file.RelatedLoadItemID,
		&dependent,
		&downloadID,
		&file.FileName,
		&url,
		&saveAs,
		&file.RetryAttempts,
		&statusStr,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	file.FileType = FileType(fileType)
	file.Status = Status(statusStr)
	file.URL = url.String
	file.SaveAs = saveAs != 0
	if dependent.Valid {
		file.DependentFileItemID = &dependent.Int64
	}
	if downloadID.Valid {
		file.DownloadID = &downloadID.Int64
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		file.CreatedAt = created
	}
	return &file, nil
}

func collectFileItems(rows *sql.Rows) ([]*FileItem, error) {
	defer rows.Close()
	var files []*FileItem
	for rows.Next() {
		file, err := scanFileItem(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func collectLoadItems(rows *sql.Rows) ([]*LoadItem, error) {
	defer rows.Close()
	var items []*LoadItem
	for rows.Next() {
		item, err := scanLoadItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

// nullableJSON stores nil slices as NULL so "not yet resolved" survives a
// round trip distinct from "resolved to nothing".
func nullableJSON[T any](value []T) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		value = time.Now()
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
