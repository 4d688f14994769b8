package external

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjannette/stockwatch-backend/internal/httputil"
	"github.com/kjannette/stockwatch-backend/internal/models"
)

const finnhubURL = "https://finnhub.io/api/v1"

// FinnhubClient fetches quotes and general market news from Finnhub's REST
// API. Each call is a single attempt; the refresh loop's next tick is the
// retry.
type FinnhubClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func NewFinnhubClient(apiKey, baseURL string) *FinnhubClient {
	if baseURL == "" {
		baseURL = finnhubURL
	}
	return &FinnhubClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      httputil.NoRetry,
	}
}

type finnhubQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	PercentChange float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

func (c *FinnhubClient) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", c.apiKey)

	var data finnhubQuote
	if err := httputil.GetJSON(ctx, c.httpClient, c.retry, c.baseURL+"/quote?"+q.Encode(), &data); err != nil {
		return nil, fmt.Errorf("finnhub quote %s: %w", symbol, err)
	}

	fetched := time.Now().UTC()
	if data.Timestamp > 0 {
		fetched = time.Unix(data.Timestamp, 0).UTC()
	}
	return &models.Quote{
		Symbol:        symbol,
		Current:       data.Current,
		PreviousClose: data.PreviousClose,
		High:          data.High,
		Low:           data.Low,
		FetchedAt:     fetched,
	}, nil
}

type finnhubNews struct {
	ID       int64  `json:"id"`
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	Image    string `json:"image"`
	Datetime int64  `json:"datetime"`
	Category string `json:"category"`
	Related  string `json:"related"`
}

// FetchNews returns general market news, newest first as Finnhub orders it.
func (c *FinnhubClient) FetchNews(ctx context.Context) ([]models.NewsItem, error) {
	q := url.Values{}
	q.Set("category", "general")
	q.Set("token", c.apiKey)

	var data []finnhubNews
	if err := httputil.GetJSON(ctx, c.httpClient, c.retry, c.baseURL+"/news?"+q.Encode(), &data); err != nil {
		return nil, fmt.Errorf("finnhub news: %w", err)
	}

	items := make([]models.NewsItem, 0, len(data))
	for _, n := range data {
		items = append(items, models.NewsItem{
			ID:          n.ID,
			Headline:    n.Headline,
			Summary:     n.Summary,
			Source:      n.Source,
			URL:         n.URL,
			Image:       n.Image,
			Category:    n.Category,
			Related:     n.Related,
			PublishedAt: time.Unix(n.Datetime, 0).UTC(),
		})
	}
	return items, nil
}
