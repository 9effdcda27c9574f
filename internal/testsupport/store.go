package testsupport

import (
	"context"
	"testing"

	"grabber/internal/config"
	"grabber/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewMovie creates a single-item film download for tests and returns its load item id.
func NewMovie(t testing.TB, store *queue.Store, movieID int64, quality queue.Quality) int64 {
	t.Helper()

	ids, err := store.CreateDownload(context.Background(), queue.NewDownload{
		Details: queue.UrlDetails{
			MovieID: movieID,
			SiteURL: "https://hdrezka.test/films/action/42-film.html",
			Title:   queue.FilmTitle{Localized: "Фильм", Original: "Film"},
		},
		Config: queue.LoadConfig{
			VoiceOver: queue.VoiceOver{ID: "56", Title: "Дубляж"},
			Quality:   quality,
			Favs:      "favs-token",
		},
		Items: []queue.LoadItem{{SiteType: queue.SiteHDrezka, MovieID: movieID, Content: queue.ContentBoth}},
	})
	if err != nil {
		t.Fatalf("store.CreateDownload: %v", err)
	}
	return ids[0]
}
