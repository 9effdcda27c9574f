package siteloader

import (
	"strings"

	"golang.org/x/net/html"

	"grabber/internal/queue"
)

// ParseSeasons reads the season tabs and episode lists the site returns as
// HTML fragments. Seasons keep document order; episodes attach to the season
// named by data-season_id, creating it when the tab list omitted it.
func ParseSeasons(seasonsHTML, episodesHTML string) (Seasons, error) {
	var seasons Seasons
	index := make(map[string]int)

	if strings.TrimSpace(seasonsHTML) != "" {
		doc, err := html.Parse(strings.NewReader(seasonsHTML))
		if err != nil {
			return nil, err
		}
		for _, li := range findElements(doc, "li") {
			id := getAttr(li, "data-tab_id")
			if id == "" {
				continue
			}
			if _, seen := index[id]; seen {
				continue
			}
			index[id] = len(seasons)
			seasons = append(seasons, SeasonEntry{ID: id, Title: getTextContent(li)})
		}
	}

	if strings.TrimSpace(episodesHTML) != "" {
		doc, err := html.Parse(strings.NewReader(episodesHTML))
		if err != nil {
			return nil, err
		}
		for _, li := range findElements(doc, "li") {
			seasonID := getAttr(li, "data-season_id")
			episodeID := getAttr(li, "data-episode_id")
			if seasonID == "" || episodeID == "" {
				continue
			}
			pos, ok := index[seasonID]
			if !ok {
				pos = len(seasons)
				index[seasonID] = pos
				seasons = append(seasons, SeasonEntry{ID: seasonID})
			}
			seasons[pos].Episodes = append(seasons[pos].Episodes, queue.Episode{
				ID:    episodeID,
				Title: getTextContent(li),
			})
		}
	}
	return seasons, nil
}

func findElements(doc *html.Node, tag string) []*html.Node {
	var elements []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			elements = append(elements, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return elements
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func getTextContent(n *html.Node) string {
	var text strings.Builder
	var extractText func(*html.Node)
	extractText = func(node *html.Node) {
		if node.Type == html.TextNode {
			text.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			extractText(c)
		}
	}
	extractText(n)
	return strings.TrimSpace(text.String())
}
