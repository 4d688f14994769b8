package models

import "time"

type NewsItem struct {
	ID          int64     `json:"id"`
	Headline    string    `json:"headline"`
	Summary     string    `json:"summary,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	Image       string    `json:"image,omitempty"`
	Category    string    `json:"category,omitempty"`
	Related     string    `json:"related,omitempty"`
	PublishedAt time.Time `json:"datetime"`
}
