package watchlist

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kjannette/stockwatch-backend/internal/models"
)

var defaultSymbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN"}

// fakeClient serves canned quotes. Unknown symbols get an all-zero quote
// the way the real provider answers.
type fakeClient struct {
	mu         sync.Mutex
	prices     map[string]float64
	quoteErr   map[string]error
	news       []models.NewsItem
	newsErr    error
	newsGate   chan struct{} // when set, the next FetchNews waits on it
	quoteCalls map[string]int
	newsCalls  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		prices: map[string]float64{
			"AAPL": 190, "GOOGL": 140, "MSFT": 410, "AMZN": 180,
			"TSLA": 250, "NFLX": 600, "NVDA": 900, "BADSYM": 1,
		},
		quoteErr:   map[string]error{},
		quoteCalls: map[string]int{},
		news:       makeNews(10),
	}
}

func makeNews(n int) []models.NewsItem {
	out := make([]models.NewsItem, n)
	for i := range out {
		out[i] = models.NewsItem{ID: int64(i + 1), Headline: fmt.Sprintf("headline %d", i+1)}
	}
	return out
}

func (f *fakeClient) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls[symbol]++
	if err := f.quoteErr[symbol]; err != nil {
		return nil, err
	}
	p := f.prices[symbol]
	return &models.Quote{Symbol: symbol, Current: p, PreviousClose: p - 1, High: p, Low: p}, nil
}

func (f *fakeClient) FetchNews(ctx context.Context) ([]models.NewsItem, error) {
	f.mu.Lock()
	f.newsCalls++
	gate := f.newsGate
	f.newsGate = nil
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newsErr != nil {
		return nil, f.newsErr
	}
	return slices.Clone(f.news), nil
}

func (f *fakeClient) set(fn func(f *fakeClient)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeClient) newsCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newsCalls
}

// fakeStore records writes and keeps lists in step with them, so a delete
// tombstones the symbol until it is upserted again. A gate for a user makes
// ListSymbols for that user wait until it is closed.
type fakeStore struct {
	mu          sync.Mutex
	lists       map[string][]string
	listErr     error
	writeErr    error
	deleteDelay time.Duration
	gates       map[string]chan struct{}
	waiting     chan string // receives the user id before a gated listing blocks
	upserts     []string
	deletes     []string
	records     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{lists: map[string][]string{}, gates: map[string]chan struct{}{}}
}

func (s *fakeStore) ListSymbols(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	gate := s.gates[userID]
	s.mu.Unlock()
	if gate != nil {
		if s.waiting != nil {
			s.waiting <- userID
		}
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return slices.Clone(s.lists[userID]), nil
}

func (s *fakeStore) UpsertSymbol(ctx context.Context, userID, symbol string, fields *models.QuoteFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, userID+":"+symbol)
	if s.writeErr != nil {
		return s.writeErr
	}
	if !slices.Contains(s.lists[userID], symbol) {
		s.lists[userID] = append(s.lists[userID], symbol)
	}
	return nil
}

func (s *fakeStore) DeleteSymbol(ctx context.Context, userID, symbol string) error {
	s.mu.Lock()
	delay := s.deleteDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, userID+":"+symbol)
	if s.writeErr != nil {
		return s.writeErr
	}
	s.lists[userID] = slices.DeleteFunc(slices.Clone(s.lists[userID]), func(v string) bool { return v == symbol })
	return nil
}

func (s *fakeStore) RecordQuote(ctx context.Context, userID, symbol string, fields models.QuoteFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, userID+":"+symbol)
	return s.writeErr
}

func (s *fakeStore) snapshot() (upserts, deletes, records []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.upserts), slices.Clone(s.deletes), slices.Clone(s.records)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) RefreshFailed(dashboard string, symbols int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "failed")
}

func (n *fakeNotifier) RefreshRecovered(dashboard string, symbols int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "recovered")
}

func (n *fakeNotifier) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.events)
}

var errProvider = errors.New("provider unavailable")

func newController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	if cfg.Client == nil {
		cfg.Client = newFakeClient()
	}
	if cfg.Defaults == nil {
		cfg.Defaults = defaultSymbols
	}
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var alice = &models.Identity{UID: "alice", DisplayName: "Alice"}
