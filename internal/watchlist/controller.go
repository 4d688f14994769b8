package watchlist

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kjannette/stockwatch-backend/internal/models"
	"github.com/kjannette/stockwatch-backend/internal/policy"
	"github.com/kjannette/stockwatch-backend/internal/scheduler"
)

// QuoteClient fetches quotes and market news.
type QuoteClient interface {
	FetchQuote(ctx context.Context, symbol string) (*models.Quote, error)
	FetchNews(ctx context.Context) ([]models.NewsItem, error)
}

// Store persists a signed-in user's watchlist.
type Store interface {
	ListSymbols(ctx context.Context, userID string) ([]string, error)
	UpsertSymbol(ctx context.Context, userID, symbol string, fields *models.QuoteFields) error
	DeleteSymbol(ctx context.Context, userID, symbol string) error
	RecordQuote(ctx context.Context, userID, symbol string, fields models.QuoteFields) error
}

// Notifier receives refresh health transitions.
type Notifier interface {
	RefreshFailed(dashboard string, symbols int, err error)
	RefreshRecovered(dashboard string, symbols int)
}

type Config struct {
	Name            string // dashboard id, used in logs and notifications
	Client          QuoteClient
	Store           Store // nil disables persistence
	Defaults        []string
	RefreshInterval time.Duration
	NewsLimit       int
	Limits          policy.Limits
	Notifier        Notifier // optional
	RecordQuotes    bool     // persist each cycle's quotes for signed-in users
	StoreTimeout    time.Duration
}

const maxConcurrentQuotes = 8

type health int

const (
	healthUnknown health = iota
	healthOK
	healthFailing
)

// Controller owns one dashboard's watchlist, quotes and news.
type Controller struct {
	cfg   Config
	guard *policy.Guard
	loop  *scheduler.Loop

	mu          sync.Mutex
	identity    *models.Identity
	symbols     []string
	quotes      map[string]models.Quote
	news        []models.NewsItem
	banner      string
	loading     bool
	lastUpdated time.Time
	version     uint64
	identGen    uint64
	reconciling bool // a SetIdentity listing is in flight
	listGen     uint64
	cycleGen    uint64
	health      health
	started     bool
	closed      bool

	subMu  sync.Mutex
	subs   map[uint64]func(Snapshot)
	nextID uint64

	writer *storeWriter
}

func New(cfg Config) (*Controller, error) {
	if cfg.Client == nil {
		return nil, errors.New("watchlist: quote client required")
	}
	defaults := normalizeAll(cfg.Defaults)
	if len(defaults) == 0 {
		return nil, errors.New("watchlist: default symbols required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 10 * time.Second
	}
	if cfg.NewsLimit <= 0 {
		cfg.NewsLimit = 6
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	cfg.Defaults = defaults

	c := &Controller{
		cfg:     cfg,
		guard:   policy.NewGuard(cfg.Limits),
		symbols: slices.Clone(defaults),
		quotes:  make(map[string]models.Quote),
		loading: true,
		subs:    make(map[uint64]func(Snapshot)),
		writer:  newStoreWriter(cfg.Name, cfg.StoreTimeout),
	}
	c.loop = scheduler.NewLoop(scheduler.LoopConfig{
		Name:         cfg.Name,
		Interval:     cfg.RefreshInterval,
		CycleTimeout: cfg.RefreshInterval,
	}, func(ctx context.Context) {
		_ = c.runCycle(ctx)
	})
	return c, nil
}

// Start begins the refresh loop. The first cycle runs immediately.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.loop.Start()
	return nil
}

// Close stops the refresh loop, discards any in-flight cycle and waits for
// pending store writes.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.loop.Stop()

	c.subMu.Lock()
	clear(c.subs)
	c.subMu.Unlock()

	c.writer.close()
}

// SetIdentity installs the watchlist for id. A nil identity installs the
// default set immediately; otherwise the user's stored symbols are loaded,
// falling back to the defaults when the listing is empty or fails. A
// reconciliation superseded by a later SetIdentity call is dropped.
func (c *Controller) SetIdentity(ctx context.Context, id *models.Identity) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.identGen++
	gen := c.identGen
	c.reconciling = id != nil
	if id == nil {
		c.identity = nil
		c.installLocked(c.cfg.Defaults)
		c.mu.Unlock()
		fmt.Printf("[CONTROLLER] %s signed out, default watchlist installed\n", c.cfg.Name)
		c.changed()
		return nil
	}
	c.mu.Unlock()

	who := *id
	symbols := c.loadSymbols(ctx, who.UID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if gen != c.identGen {
		c.mu.Unlock()
		return nil
	}
	c.reconciling = false
	c.identity = &who
	c.installLocked(c.guard.Clamp(symbols))
	n := len(c.symbols)
	c.mu.Unlock()

	fmt.Printf("[CONTROLLER] %s reconciled %d symbols for %s\n", c.cfg.Name, n, who.UID)
	c.changed()
	return nil
}

func (c *Controller) loadSymbols(ctx context.Context, uid string) []string {
	if c.cfg.Store == nil {
		return c.cfg.Defaults
	}
	stored, err := c.cfg.Store.ListSymbols(ctx, uid)
	if err != nil {
		fmt.Printf("[STORE] list %s failed, using defaults: %v\n", uid, err)
		return c.cfg.Defaults
	}
	symbols := normalizeAll(stored)
	if len(symbols) == 0 {
		return c.cfg.Defaults
	}
	return symbols
}

// installLocked replaces the watchlist. Quotes for symbols that survive
// are kept until the next cycle replaces them.
func (c *Controller) installLocked(symbols []string) {
	c.symbols = slices.Clone(symbols)
	kept := make(map[string]models.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := c.quotes[s]; ok {
			kept[s] = q
		}
	}
	c.quotes = kept
	c.listGen++
	c.loading = true
	c.version++
}

// AddSymbol validates symbol against the quote provider and appends it.
// Persistence for a signed-in user happens in the background.
func (c *Controller) AddSymbol(ctx context.Context, symbol string) error {
	sym := normalize(symbol)
	if sym == "" {
		c.reject(msgInvalidSymbol)
		return ErrInvalidSymbol
	}

	c.mu.Lock()
	if err := c.checkAddLocked(sym); err != nil {
		c.mu.Unlock()
		return c.rejected(err)
	}
	c.mu.Unlock()

	q, err := c.cfg.Client.FetchQuote(ctx, sym)
	if err != nil {
		fmt.Printf("[CONTROLLER] %s add %s: quote fetch failed: %v\n", c.cfg.Name, sym, err)
		c.reject(msgInvalidSymbol)
		return fmt.Errorf("%w: %s: %v", ErrQuoteUnavailable, sym, err)
	}
	if q.IsEmpty() {
		c.reject(msgInvalidSymbol)
		return fmt.Errorf("%w: %s", ErrInvalidSymbol, sym)
	}
	q.Symbol = sym

	c.mu.Lock()
	if err := c.checkAddLocked(sym); err != nil {
		c.mu.Unlock()
		return c.rejected(err)
	}
	c.symbols = append(c.symbols, sym)
	c.quotes[sym] = *q
	c.listGen++
	c.loading = true
	c.banner = ""
	c.version++
	if ident := c.identity; ident != nil && c.cfg.Store != nil {
		var fields *models.QuoteFields
		if c.cfg.RecordQuotes {
			f := q.Fields()
			fields = &f
		}
		c.persist("upsert "+sym, func(ctx context.Context) error {
			return c.cfg.Store.UpsertSymbol(ctx, ident.UID, sym, fields)
		})
	}
	c.mu.Unlock()

	fmt.Printf("[CONTROLLER] %s added %s\n", c.cfg.Name, sym)
	c.changed()
	return nil
}

func (c *Controller) checkAddLocked(sym string) error {
	if c.closed {
		return ErrClosed
	}
	if c.reconciling {
		return ErrReconciling
	}
	if slices.Contains(c.symbols, sym) {
		return ErrAlreadyWatched
	}
	if err := c.guard.PreAddCheck(len(c.symbols)); err != nil {
		return ErrWatchlistFull
	}
	return nil
}

// RemoveSymbol drops symbol from the watchlist and quote map. Removing
// the last remaining symbol is rejected.
func (c *Controller) RemoveSymbol(ctx context.Context, symbol string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sym := normalize(symbol)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.reconciling {
		c.mu.Unlock()
		return c.rejected(ErrReconciling)
	}
	idx := slices.Index(c.symbols, sym)
	if idx < 0 {
		c.mu.Unlock()
		return ErrNotWatched
	}
	if err := c.guard.PreRemoveCheck(len(c.symbols)); err != nil {
		c.mu.Unlock()
		return c.rejected(ErrLastSymbol)
	}
	c.symbols = slices.Delete(slices.Clone(c.symbols), idx, idx+1)
	delete(c.quotes, sym)
	c.listGen++
	c.loading = true
	c.version++
	if ident := c.identity; ident != nil && c.cfg.Store != nil {
		c.persist("delete "+sym, func(ctx context.Context) error {
			return c.cfg.Store.DeleteSymbol(ctx, ident.UID, sym)
		})
	}
	c.mu.Unlock()

	fmt.Printf("[CONTROLLER] %s removed %s\n", c.cfg.Name, sym)
	c.changed()
	return nil
}

// Refresh runs one cycle synchronously. It returns nil when a newer cycle
// superseded this one.
func (c *Controller) Refresh(ctx context.Context) error {
	err := c.runCycle(ctx)
	if errors.Is(err, errSuperseded) {
		return nil
	}
	return err
}

func (c *Controller) runCycle(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.cycleGen++
	gen, listGen := c.cycleGen, c.listGen
	symbols := slices.Clone(c.symbols)
	c.mu.Unlock()

	fresh := c.fetchQuotes(ctx, symbols)
	news, newsErr := c.cfg.Client.FetchNews(ctx)

	c.mu.Lock()
	if c.closed || gen != c.cycleGen || listGen != c.listGen {
		c.mu.Unlock()
		return errSuperseded
	}
	c.loading = false
	c.version++

	if newsErr != nil {
		c.banner = msgRefreshFailed
		transition := c.setHealthLocked(healthFailing)
		c.mu.Unlock()

		err := fmt.Errorf("news: %w", newsErr)
		fmt.Printf("[REFRESH] %s cycle failed: %v\n", c.cfg.Name, err)
		c.publish()
		if transition {
			c.notify(func(n Notifier) { n.RefreshFailed(c.cfg.Name, len(symbols), err) })
		}
		return err
	}

	next := make(map[string]models.Quote, len(c.symbols))
	for _, s := range c.symbols {
		if q, ok := fresh[s]; ok {
			next[s] = q
		} else if q, ok := c.quotes[s]; ok {
			next[s] = q
		}
	}
	if len(news) > c.cfg.NewsLimit {
		news = news[:c.cfg.NewsLimit]
	}
	c.quotes = next
	c.news = slices.Clone(news)
	c.banner = ""
	c.lastUpdated = time.Now().UTC()
	transition := c.setHealthLocked(healthOK)
	ident := c.identity
	c.mu.Unlock()

	c.publish()
	if transition {
		c.notify(func(n Notifier) { n.RefreshRecovered(c.cfg.Name, len(symbols)) })
	}
	if ident != nil && c.cfg.Store != nil && c.cfg.RecordQuotes {
		for sym, q := range fresh {
			fields := q.Fields()
			c.persist("record "+sym, func(ctx context.Context) error {
				return c.cfg.Store.RecordQuote(ctx, ident.UID, sym, fields)
			})
		}
	}
	return nil
}

// fetchQuotes fetches every symbol concurrently. A failed symbol is
// logged and left out of the result.
func (c *Controller) fetchQuotes(ctx context.Context, symbols []string) map[string]models.Quote {
	results := make([]*models.Quote, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQuotes)
	for i, sym := range symbols {
		g.Go(func() error {
			q, err := c.cfg.Client.FetchQuote(gctx, sym)
			if err != nil {
				fmt.Printf("[REFRESH] %s quote %s failed: %v\n", c.cfg.Name, sym, err)
				return nil
			}
			q.Symbol = sym
			results[i] = q
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]models.Quote, len(symbols))
	for i, q := range results {
		if q != nil {
			out[symbols[i]] = *q
		}
	}
	return out
}

// setHealthLocked records the cycle outcome and reports whether it is a
// transition worth notifying: any failure after a non-failing state, or a
// success after failures.
func (c *Controller) setHealthLocked(h health) bool {
	prev := c.health
	c.health = h
	if h == healthFailing {
		return prev != healthFailing
	}
	return prev == healthFailing
}

func (c *Controller) notify(fn func(Notifier)) {
	if c.cfg.Notifier == nil {
		return
	}
	go fn(c.cfg.Notifier)
}

// persist queues a best-effort store write. Writes reach the store in the
// order they were queued; callers that mutate the watchlist queue while
// still holding c.mu so store order matches memory order. Failures are
// logged and never surfaced.
func (c *Controller) persist(op string, fn func(ctx context.Context) error) {
	c.writer.enqueue(op, fn)
}

// changed publishes the new state and requests an out-of-band cycle.
func (c *Controller) changed() {
	c.publish()
	c.mu.Lock()
	started := c.started && !c.closed
	c.mu.Unlock()
	if started {
		c.loop.Kick()
	}
}

func (c *Controller) reject(msg string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.banner = msg
	c.version++
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) rejected(err error) error {
	switch {
	case errors.Is(err, ErrAlreadyWatched):
		c.reject(msgAlreadyWatched)
	case errors.Is(err, ErrWatchlistFull):
		c.reject(msgWatchlistFull)
	case errors.Is(err, ErrLastSymbol):
		c.reject(msgLastSymbol)
	case errors.Is(err, ErrReconciling):
		c.reject(msgReconciling)
	}
	return err
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// normalizeAll upper-cases, drops blanks and de-duplicates, keeping order.
func normalizeAll(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = normalize(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}
