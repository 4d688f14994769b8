package watchlist

import "errors"

var (
	ErrAlreadyWatched   = errors.New("symbol already in watchlist")
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrLastSymbol       = errors.New("watchlist must keep at least one symbol")
	ErrWatchlistFull    = errors.New("watchlist is full")
	ErrNotWatched       = errors.New("symbol not in watchlist")
	ErrClosed           = errors.New("watchlist controller closed")
	ErrReconciling      = errors.New("watchlist is loading for the signed-in user")
)

// Banner texts shown to the user.
const (
	msgAlreadyWatched = "This stock is already in your watchlist"
	msgInvalidSymbol  = "Invalid stock symbol or API error. Please try again."
	msgLastSymbol     = "You must keep at least one stock in your watchlist"
	msgWatchlistFull  = "Your watchlist is full. Remove a stock before adding another."
	msgRefreshFailed  = "Failed to fetch market data. Please try again later."
	msgReconciling    = "Your watchlist is still loading. Please try again."
)

var errSuperseded = errors.New("cycle superseded")
