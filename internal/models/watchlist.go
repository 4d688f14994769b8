package models

import "time"

// WatchedSymbol is one persisted (user, symbol) record. Removal sets
// Deleted instead of dropping the row.
type WatchedSymbol struct {
	UserID    string       `json:"userId"`
	Symbol    string       `json:"symbol"`
	Deleted   bool         `json:"deleted"`
	Quote     *QuoteFields `json:"quote,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
