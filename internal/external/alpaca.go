package external

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/kjannette/stockwatch-backend/internal/models"
)

// alpacaAPI is the slice of *marketdata.Client the quote client needs.
type alpacaAPI interface {
	GetSnapshot(symbol string, req marketdata.GetSnapshotRequest) (*marketdata.Snapshot, error)
	GetNews(req marketdata.GetNewsRequest) ([]marketdata.News, error)
}

// AlpacaClient serves quotes from Alpaca snapshots: the latest trade is the
// current price, the daily bar gives high/low and the previous daily bar
// gives the previous close.
type AlpacaClient struct {
	api       alpacaAPI
	newsLimit int
}

func NewAlpacaClient(apiKey, apiSecret, dataURL string, newsLimit int) *AlpacaClient {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return newAlpacaClient(marketdata.NewClient(opts), newsLimit)
}

func newAlpacaClient(api alpacaAPI, newsLimit int) *AlpacaClient {
	if newsLimit <= 0 {
		newsLimit = 6
	}
	return &AlpacaClient{api: api, newsLimit: newsLimit}
}

func (c *AlpacaClient) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := c.api.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
	if err != nil {
		return nil, fmt.Errorf("alpaca snapshot %s: %w", symbol, err)
	}

	q := &models.Quote{Symbol: symbol, FetchedAt: time.Now().UTC()}
	if snap == nil {
		return q, nil
	}
	if snap.LatestTrade != nil {
		q.Current = snap.LatestTrade.Price
		q.FetchedAt = snap.LatestTrade.Timestamp.UTC()
	}
	if snap.DailyBar != nil {
		q.High = snap.DailyBar.High
		q.Low = snap.DailyBar.Low
	}
	if snap.PrevDailyBar != nil {
		q.PreviousClose = snap.PrevDailyBar.Close
	}
	return q, nil
}

func (c *AlpacaClient) FetchNews(ctx context.Context) ([]models.NewsItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	news, err := c.api.GetNews(marketdata.GetNewsRequest{
		TotalLimit: c.newsLimit,
		Sort:       marketdata.SortDesc,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca news: %w", err)
	}

	items := make([]models.NewsItem, 0, len(news))
	for _, n := range news {
		item := models.NewsItem{
			ID:          int64(n.ID),
			Headline:    n.Headline,
			Summary:     n.Summary,
			Source:      n.Author,
			URL:         n.URL,
			Category:    "general",
			Related:     strings.Join(n.Symbols, ","),
			PublishedAt: n.CreatedAt.UTC(),
		}
		if len(n.Images) > 0 {
			item.Image = n.Images[0].URL
		}
		items = append(items, item)
	}
	return items, nil
}
