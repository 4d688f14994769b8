package watchlist

import (
	"maps"
	"slices"
	"time"

	"github.com/kjannette/stockwatch-backend/internal/models"
)

// Snapshot is an immutable copy of the controller state for presentation.
type Snapshot struct {
	Version     uint64                  `json:"version"`
	Identity    *models.Identity        `json:"identity"`
	Symbols     []string                `json:"symbols"`
	Quotes      map[string]models.Quote `json:"quotes"`
	News        []models.NewsItem       `json:"news"`
	Overview    models.MarketOverview   `json:"overview"`
	Banner      string                  `json:"banner,omitempty"`
	Loading     bool                    `json:"loading"`
	LastUpdated *time.Time              `json:"lastUpdated,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Version: c.version,
		Symbols: slices.Clone(c.symbols),
		Quotes:  maps.Clone(c.quotes),
		News:    slices.Clone(c.news),
		Banner:  c.banner,
		Loading: c.loading,
	}
	if s.News == nil {
		s.News = []models.NewsItem{}
	}
	if c.identity != nil {
		id := *c.identity
		s.Identity = &id
	}
	if !c.lastUpdated.IsZero() {
		t := c.lastUpdated
		s.LastUpdated = &t
	}
	s.Overview = models.Overview(s.Quotes)
	return s
}

// Subscribe registers fn to receive every published snapshot. fn runs on
// the publishing goroutine and must not block.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subMu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Controller) publish() {
	snap := c.Snapshot()

	c.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
