package watchlist

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/stockwatch-backend/internal/models"
	"github.com/kjannette/stockwatch-backend/internal/policy"
)

var ctx = context.Background()

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Defaults: defaultSymbols}); err == nil {
		t.Fatal("expected error without client")
	}
	if _, err := New(Config{Client: newFakeClient(), Defaults: []string{" ", ""}}); err == nil {
		t.Fatal("expected error without defaults")
	}
}

func TestNew_InstallsDefaults(t *testing.T) {
	c := newController(t, Config{Defaults: []string{"aapl", " msft", "AAPL"}})
	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Symbols, []string{"AAPL", "MSFT"}) {
		t.Fatalf("unexpected defaults: %v", snap.Symbols)
	}
	if !snap.Loading {
		t.Fatal("expected loading before the first cycle")
	}
}

// --- Remove ---

func TestRemoveSymbol_LastSymbolRejected(t *testing.T) {
	c := newController(t, Config{Defaults: []string{"AAPL"}})

	err := c.RemoveSymbol(ctx, "AAPL")
	if !errors.Is(err, ErrLastSymbol) {
		t.Fatalf("expected ErrLastSymbol, got %v", err)
	}
	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Symbols, []string{"AAPL"}) {
		t.Fatalf("watchlist changed: %v", snap.Symbols)
	}
	if snap.Banner != msgLastSymbol {
		t.Fatalf("unexpected banner: %q", snap.Banner)
	}
}

func TestRemoveSymbol_DropsQuoteAndPersists(t *testing.T) {
	store := newFakeStore()
	store.lists["alice"] = []string{"TSLA", "NFLX"}
	c := newController(t, Config{Store: store})

	if err := c.SetIdentity(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Snapshot().Quotes["NFLX"]; !ok {
		t.Fatal("expected NFLX quote before removal")
	}

	if err := c.RemoveSymbol(ctx, " nflx "); err != nil {
		t.Fatalf("RemoveSymbol: %v", err)
	}
	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Symbols, []string{"TSLA"}) {
		t.Fatalf("unexpected symbols: %v", snap.Symbols)
	}
	if _, ok := snap.Quotes["NFLX"]; ok {
		t.Fatal("quote for removed symbol still present")
	}
	waitFor(t, "store delete", func() bool {
		_, deletes, _ := store.snapshot()
		return slices.Equal(deletes, []string{"alice:NFLX"})
	})
}

func TestRemoveSymbol_NotWatched(t *testing.T) {
	c := newController(t, Config{})
	if err := c.RemoveSymbol(ctx, "TSLA"); !errors.Is(err, ErrNotWatched) {
		t.Fatalf("expected ErrNotWatched, got %v", err)
	}
	if len(c.Snapshot().Symbols) != 4 {
		t.Fatal("watchlist changed")
	}
}

func TestRemoveSymbol_AnonymousDoesNotPersist(t *testing.T) {
	store := newFakeStore()
	c := newController(t, Config{Store: store})

	if err := c.RemoveSymbol(ctx, "MSFT"); err != nil {
		t.Fatal(err)
	}
	c.Close()
	if _, deletes, _ := store.snapshot(); len(deletes) != 0 {
		t.Fatalf("anonymous removal persisted: %v", deletes)
	}
}

func TestRemoveSymbol_NotWatchedBeforeLastSymbolCheck(t *testing.T) {
	c := newController(t, Config{Defaults: []string{"AAPL"}})

	if err := c.RemoveSymbol(ctx, "TSLA"); !errors.Is(err, ErrNotWatched) {
		t.Fatalf("expected ErrNotWatched, got %v", err)
	}
	if b := c.Snapshot().Banner; b != "" {
		t.Fatalf("missing symbol should not set a banner, got %q", b)
	}
}

func TestRemoveThenReAdd_StoreMatchesMemory(t *testing.T) {
	store := newFakeStore()
	store.lists["alice"] = []string{"AAPL", "MSFT"}
	store.deleteDelay = 50 * time.Millisecond
	c := newController(t, Config{Store: store})

	if err := c.SetIdentity(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveSymbol(ctx, "AAPL"); err != nil {
		t.Fatal(err)
	}
	if err := c.AddSymbol(ctx, "AAPL"); err != nil {
		t.Fatal(err)
	}
	c.Close()

	mem := slices.Clone(c.Snapshot().Symbols)
	stored, err := store.ListSymbols(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(mem)
	slices.Sort(stored)
	if !reflect.DeepEqual(mem, stored) {
		t.Fatalf("store diverged from memory: store=%v memory=%v", stored, mem)
	}
}

// --- Add ---

func TestAddSymbol_DuplicateRejected(t *testing.T) {
	client := newFakeClient()
	c := newController(t, Config{Client: client})

	for _, in := range []string{"AAPL", " aapl "} {
		err := c.AddSymbol(ctx, in)
		if !errors.Is(err, ErrAlreadyWatched) {
			t.Fatalf("AddSymbol(%q): expected ErrAlreadyWatched, got %v", in, err)
		}
	}
	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Symbols, defaultSymbols) {
		t.Fatalf("watchlist changed: %v", snap.Symbols)
	}
	if snap.Banner != msgAlreadyWatched {
		t.Fatalf("unexpected banner: %q", snap.Banner)
	}
	if client.quoteCalls["AAPL"] != 0 {
		t.Fatal("duplicate add should not fetch a quote")
	}
}

func TestAddSymbol_ZeroQuoteRejected(t *testing.T) {
	c := newController(t, Config{})

	err := c.AddSymbol(ctx, "ZZZZ")
	if !errors.Is(err, ErrInvalidSymbol) {
		t.Fatalf("expected ErrInvalidSymbol, got %v", err)
	}
	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Symbols, defaultSymbols) {
		t.Fatalf("watchlist changed: %v", snap.Symbols)
	}
	if _, ok := snap.Quotes["ZZZZ"]; ok {
		t.Fatal("rejected symbol has a quote")
	}
	if snap.Banner != msgInvalidSymbol {
		t.Fatalf("unexpected banner: %q", snap.Banner)
	}
}

func TestAddSymbol_EmptyRejected(t *testing.T) {
	c := newController(t, Config{})
	if err := c.AddSymbol(ctx, "   "); !errors.Is(err, ErrInvalidSymbol) {
		t.Fatalf("expected ErrInvalidSymbol, got %v", err)
	}
}

func TestAddSymbol_QuoteFetchFails(t *testing.T) {
	client := newFakeClient()
	client.quoteErr["TSLA"] = errProvider
	c := newController(t, Config{Client: client})

	err := c.AddSymbol(ctx, "TSLA")
	if !errors.Is(err, ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
	if slices.Contains(c.Snapshot().Symbols, "TSLA") {
		t.Fatal("symbol added despite fetch failure")
	}
}

func TestAddSymbol_AppendsWithImmediateQuote(t *testing.T) {
	c := newController(t, Config{})

	if err := c.AddSymbol(ctx, "tsla"); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	snap := c.Snapshot()
	if snap.Symbols[len(snap.Symbols)-1] != "TSLA" || len(snap.Symbols) != 5 {
		t.Fatalf("TSLA not appended: %v", snap.Symbols)
	}
	q, ok := snap.Quotes["TSLA"]
	if !ok || q.Current != 250 {
		t.Fatalf("quote not inserted immediately: %+v", q)
	}
	if snap.Banner != "" {
		t.Fatalf("unexpected banner: %q", snap.Banner)
	}
}

func TestAddSymbol_ClearsPreviousBanner(t *testing.T) {
	c := newController(t, Config{})
	_ = c.AddSymbol(ctx, "AAPL")
	if c.Snapshot().Banner == "" {
		t.Fatal("expected duplicate banner")
	}
	if err := c.AddSymbol(ctx, "NVDA"); err != nil {
		t.Fatal(err)
	}
	if b := c.Snapshot().Banner; b != "" {
		t.Fatalf("banner not cleared: %q", b)
	}
}

func TestAddSymbol_PersistsForSignedInUser(t *testing.T) {
	store := newFakeStore()
	c := newController(t, Config{Store: store})
	if err := c.SetIdentity(ctx, alice); err != nil {
		t.Fatal(err)
	}

	if err := c.AddSymbol(ctx, "NVDA"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "store upsert", func() bool {
		upserts, _, _ := store.snapshot()
		return slices.Equal(upserts, []string{"alice:NVDA"})
	})
}

func TestAddSymbol_StoreFailureKeepsLocalState(t *testing.T) {
	store := newFakeStore()
	store.writeErr = errors.New("connection refused")
	c := newController(t, Config{Store: store})
	if err := c.SetIdentity(ctx, alice); err != nil {
		t.Fatal(err)
	}

	if err := c.AddSymbol(ctx, "NVDA"); err != nil {
		t.Fatalf("store failure surfaced: %v", err)
	}
	c.Close()

	if !slices.Contains(c.Snapshot().Symbols, "NVDA") {
		t.Fatal("local add rolled back after store failure")
	}
	if upserts, _, _ := store.snapshot(); len(upserts) != 1 {
		t.Fatalf("expected one attempted write, got %v", upserts)
	}
}

func TestAddSymbol_WatchlistFull(t *testing.T) {
	c := newController(t, Config{Limits: policy.Limits{MaxSymbols: 4}})
	if err := c.AddSymbol(ctx, "TSLA"); !errors.Is(err, ErrWatchlistFull) {
		t.Fatalf("expected ErrWatchlistFull, got %v", err)
	}
	if c.Snapshot().Banner != msgWatchlistFull {
		t.Fatal("expected full banner")
	}
}

// --- Reconciliation ---

func TestSetIdentity_UsesStoredSymbolsVerbatim(t *testing.T) {
	store := newFakeStore()
	store.lists["alice"] = []string{"TSLA", "NFLX"}
	c := newController(t, Config{Store: store})

	if err := c.SetIdentity(ctx, alice); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Symbols, []string{"TSLA", "NFLX"}) {
		t.Fatalf("expected exactly TSLA,NFLX, got %v", snap.Symbols)
	}
	if snap.Identity == nil || snap.Identity.UID != "alice" {
		t.Fatalf("identity not installed: %+v", snap.Identity)
	}
}

func TestSetIdentity_FallsBackToDefaults(t *testing.T) {
	cases := []struct {
		name  string
		store *fakeStore
	}{
		{"empty listing", newFakeStore()},
		{"failing listing", func() *fakeStore {
			s := newFakeStore()
			s.lists["alice"] = []string{"TSLA"}
			s.listErr = errors.New("timeout")
			return s
		}()},
		{"no store", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{}
			if tc.store != nil {
				cfg.Store = tc.store
			}
			c := newController(t, cfg)
			_ = c.AddSymbol(ctx, "NVDA")

			if err := c.SetIdentity(ctx, alice); err != nil {
				t.Fatalf("fallback surfaced as error: %v", err)
			}
			snap := c.Snapshot()
			if !reflect.DeepEqual(snap.Symbols, defaultSymbols) {
				t.Fatalf("expected defaults, got %v", snap.Symbols)
			}
			if snap.Banner != "" {
				t.Fatalf("fallback should not set a banner, got %q", snap.Banner)
			}
		})
	}
}

func TestSetIdentity_LogoutResetsToDefaults(t *testing.T) {
	store := newFakeStore()
	store.lists["alice"] = []string{"TSLA", "NFLX"}
	c := newController(t, Config{Store: store})

	if err := c.SetIdentity(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := c.AddSymbol(ctx, "NVDA"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetIdentity(ctx, nil); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Symbols, defaultSymbols) {
		t.Fatalf("expected defaults after logout, got %v", snap.Symbols)
	}
	if snap.Identity != nil {
		t.Fatal("identity still present after logout")
	}
}

func TestSetIdentity_SupersededReconciliationDropped(t *testing.T) {
	store := newFakeStore()
	store.lists["alice"] = []string{"TSLA"}
	store.lists["bob"] = []string{"NFLX"}
	gate := make(chan struct{})
	store.gates["alice"] = gate
	store.waiting = make(chan string, 1)
	c := newController(t, Config{Store: store})

	done := make(chan error, 1)
	go func() { done <- c.SetIdentity(ctx, alice) }()
	<-store.waiting
	if err := c.SetIdentity(ctx, &models.Identity{UID: "bob"}); err != nil {
		t.Fatal(err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Symbols, []string{"NFLX"}) || snap.Identity.UID != "bob" {
		t.Fatalf("stale reconciliation won: %v %+v", snap.Symbols, snap.Identity)
	}
}

func TestSetIdentity_EditsRejectedWhileReconciling(t *testing.T) {
	store := newFakeStore()
	store.lists["alice"] = []string{"TSLA", "NFLX"}
	gate := make(chan struct{})
	store.gates["alice"] = gate
	store.waiting = make(chan string, 1)
	c := newController(t, Config{Store: store})

	done := make(chan error, 1)
	go func() { done <- c.SetIdentity(ctx, alice) }()
	<-store.waiting

	if err := c.AddSymbol(ctx, "NVDA"); !errors.Is(err, ErrReconciling) {
		t.Fatalf("add: expected ErrReconciling, got %v", err)
	}
	if err := c.RemoveSymbol(ctx, "AAPL"); !errors.Is(err, ErrReconciling) {
		t.Fatalf("remove: expected ErrReconciling, got %v", err)
	}
	if b := c.Snapshot().Banner; b != msgReconciling {
		t.Fatalf("unexpected banner: %q", b)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := c.AddSymbol(ctx, "NVDA"); err != nil {
		t.Fatalf("add after reconciliation: %v", err)
	}
	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Symbols, []string{"TSLA", "NFLX", "NVDA"}) {
		t.Fatalf("unexpected symbols: %v", snap.Symbols)
	}
	c.Close()
	if upserts, _, _ := store.snapshot(); !slices.Equal(upserts, []string{"alice:NVDA"}) {
		t.Fatalf("unexpected upserts: %v", upserts)
	}
}

func TestSetIdentity_ClampsToMaximum(t *testing.T) {
	store := newFakeStore()
	store.lists["alice"] = []string{"TSLA", "NFLX", "NVDA", "AAPL", "MSFT"}
	c := newController(t, Config{Store: store, Limits: policy.Limits{MaxSymbols: 4}})

	if err := c.SetIdentity(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if n := len(c.Snapshot().Symbols); n != 4 {
		t.Fatalf("expected 4 symbols, got %d", n)
	}
}

// --- Refresh ---

func TestRefresh_SymbolFailureIsolated(t *testing.T) {
	client := newFakeClient()
	client.quoteErr["BADSYM"] = errProvider
	c := newController(t, Config{Client: client, Defaults: []string{"AAPL", "BADSYM"}})

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("symbol failure aborted the cycle: %v", err)
	}
	snap := c.Snapshot()
	if q, ok := snap.Quotes["AAPL"]; !ok || q.Current != 190 {
		t.Fatalf("AAPL quote missing: %+v", snap.Quotes)
	}
	if _, ok := snap.Quotes["BADSYM"]; ok {
		t.Fatal("failing symbol should have no quote yet")
	}
	if len(snap.News) != 6 {
		t.Fatalf("expected 6 news items, got %d", len(snap.News))
	}
}

func TestRefresh_FailingSymbolKeepsPriorQuote(t *testing.T) {
	client := newFakeClient()
	c := newController(t, Config{Client: client, Defaults: []string{"AAPL", "BADSYM"}})
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	client.set(func(f *fakeClient) {
		f.quoteErr["BADSYM"] = errProvider
		f.prices["AAPL"] = 195
	})
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	if snap.Quotes["AAPL"].Current != 195 {
		t.Fatalf("AAPL not updated: %+v", snap.Quotes["AAPL"])
	}
	if q, ok := snap.Quotes["BADSYM"]; !ok || q.Current != 1 {
		t.Fatalf("prior BADSYM quote not kept: %+v", q)
	}
}

func TestRefresh_NewsFailureKeepsLastGoodState(t *testing.T) {
	client := newFakeClient()
	c := newController(t, Config{Client: client})
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	before := c.Snapshot()

	client.set(func(f *fakeClient) {
		f.newsErr = errProvider
		f.prices["AAPL"] = 1000
	})
	if err := c.Refresh(ctx); !errors.Is(err, errProvider) {
		t.Fatalf("expected news error, got %v", err)
	}
	snap := c.Snapshot()
	if snap.Banner != msgRefreshFailed {
		t.Fatalf("unexpected banner: %q", snap.Banner)
	}
	if snap.Quotes["AAPL"].Current != 190 {
		t.Fatal("failed cycle published quotes")
	}
	if len(snap.News) != len(before.News) {
		t.Fatal("failed cycle cleared news")
	}

	client.set(func(f *fakeClient) { f.newsErr = nil })
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	snap = c.Snapshot()
	if snap.Banner != "" || snap.Quotes["AAPL"].Current != 1000 {
		t.Fatalf("recovery not published: banner=%q quote=%+v", snap.Banner, snap.Quotes["AAPL"])
	}
}

func TestRefresh_NewsReplacedWholesale(t *testing.T) {
	client := newFakeClient()
	c := newController(t, Config{Client: client, NewsLimit: 6})
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	client.set(func(f *fakeClient) { f.news = makeNews(2) })
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(c.Snapshot().News); n != 2 {
		t.Fatalf("expected news replaced with 2 items, got %d", n)
	}
}

func TestRefresh_StaleCycleDiscarded(t *testing.T) {
	client := newFakeClient()
	gate := make(chan struct{})
	client.newsGate = gate
	c := newController(t, Config{Client: client})

	slow := make(chan error, 1)
	go func() { slow <- c.Refresh(ctx) }()
	waitFor(t, "slow cycle to reach news", func() bool { return client.newsCount() == 1 })

	client.set(func(f *fakeClient) { f.prices["AAPL"] = 222 })
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	close(gate)
	if err := <-slow; err != nil {
		t.Fatalf("superseded cycle returned %v", err)
	}

	if got := c.Snapshot().Quotes["AAPL"].Current; got != 222 {
		t.Fatalf("stale cycle overwrote fresher data: AAPL=%v", got)
	}
}

func TestRefresh_LoadingFlag(t *testing.T) {
	c := newController(t, Config{})
	if !c.Snapshot().Loading {
		t.Fatal("expected loading before first cycle")
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if c.Snapshot().Loading {
		t.Fatal("expected loading cleared after cycle")
	}
	if err := c.AddSymbol(ctx, "TSLA"); err != nil {
		t.Fatal(err)
	}
	if !c.Snapshot().Loading {
		t.Fatal("expected loading after watchlist change")
	}
}

func TestRefresh_RecordsQuotesForSignedInUser(t *testing.T) {
	store := newFakeStore()
	store.lists["alice"] = []string{"TSLA", "NFLX"}
	c := newController(t, Config{Store: store, RecordQuotes: true})
	if err := c.SetIdentity(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	c.Close()

	_, _, records := store.snapshot()
	slices.Sort(records)
	if !reflect.DeepEqual(records, []string{"alice:NFLX", "alice:TSLA"}) {
		t.Fatalf("unexpected records: %v", records)
	}
}

func TestRefresh_NoRecordingWhenDisabled(t *testing.T) {
	store := newFakeStore()
	c := newController(t, Config{Store: store})
	if err := c.SetIdentity(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	c.Close()
	if _, _, records := store.snapshot(); len(records) != 0 {
		t.Fatalf("recorded with recording disabled: %v", records)
	}
}

func TestRefresh_HealthTransitionsNotified(t *testing.T) {
	client := newFakeClient()
	n := &fakeNotifier{}
	c := newController(t, Config{Client: client, Notifier: n})

	_ = c.Refresh(ctx)
	client.set(func(f *fakeClient) { f.newsErr = errProvider })
	_ = c.Refresh(ctx)
	_ = c.Refresh(ctx)
	waitFor(t, "failure notification", func() bool { return len(n.list()) == 1 })

	client.set(func(f *fakeClient) { f.newsErr = nil })
	_ = c.Refresh(ctx)
	_ = c.Refresh(ctx)
	waitFor(t, "recovery notification", func() bool { return len(n.list()) == 2 })

	time.Sleep(20 * time.Millisecond)
	if got := n.list(); !reflect.DeepEqual(got, []string{"failed", "recovered"}) {
		t.Fatalf("unexpected notifications: %v", got)
	}
}

// --- Loop ---

func TestStart_ChangeTriggersImmediateRefresh(t *testing.T) {
	client := newFakeClient()
	c := newController(t, Config{Client: client, RefreshInterval: time.Hour})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "initial cycle", func() bool { return client.newsCount() == 1 && !c.Snapshot().Loading })

	if err := c.AddSymbol(ctx, "TSLA"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "refresh after add", func() bool { return client.newsCount() == 2 && !c.Snapshot().Loading })

	if err := c.RemoveSymbol(ctx, "AAPL"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "refresh after remove", func() bool { return client.newsCount() == 3 && !c.Snapshot().Loading })
}

func TestClose_StopsEverything(t *testing.T) {
	client := newFakeClient()
	c := newController(t, Config{Client: client, RefreshInterval: 10 * time.Millisecond})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first cycle", func() bool { return client.newsCount() >= 1 })

	c.Close()
	time.Sleep(20 * time.Millisecond)
	calls := client.newsCount()
	time.Sleep(50 * time.Millisecond)
	if client.newsCount() != calls {
		t.Fatal("cycles ran after Close")
	}

	if err := c.AddSymbol(ctx, "TSLA"); !errors.Is(err, ErrClosed) {
		t.Fatalf("AddSymbol after Close: %v", err)
	}
	if err := c.RemoveSymbol(ctx, "AAPL"); !errors.Is(err, ErrClosed) {
		t.Fatalf("RemoveSymbol after Close: %v", err)
	}
	if err := c.Refresh(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Refresh after Close: %v", err)
	}
	if err := c.SetIdentity(ctx, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("SetIdentity after Close: %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close: %v", err)
	}
}

func TestClose_DiscardsInFlightCycle(t *testing.T) {
	client := newFakeClient()
	gate := make(chan struct{})
	client.newsGate = gate
	c := newController(t, Config{Client: client})

	done := make(chan error, 1)
	go func() { done <- c.Refresh(ctx) }()
	waitFor(t, "cycle in flight", func() bool { return client.newsCount() == 1 })

	c.Close()
	close(gate)
	<-done

	if len(c.Snapshot().Quotes) != 0 {
		t.Fatal("cycle published after Close")
	}
}

// --- Subscribe ---

func TestSubscribe_ReceivesPublishes(t *testing.T) {
	c := newController(t, Config{})

	var mu sync.Mutex
	var versions []uint64
	unsubscribe := c.Subscribe(func(s Snapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	})

	if err := c.AddSymbol(ctx, "TSLA"); err != nil {
		t.Fatal(err)
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	unsubscribe()
	if err := c.RemoveSymbol(ctx, "TSLA"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(versions) != 2 {
		t.Fatalf("expected 2 publishes before unsubscribe, got %d", len(versions))
	}
	if versions[1] <= versions[0] {
		t.Fatalf("versions not increasing: %v", versions)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	c := newController(t, Config{})
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	snap.Symbols[0] = "HACK"
	snap.Quotes["AAPL"] = models.Quote{}
	snap.News[0].Headline = "changed"

	again := c.Snapshot()
	if again.Symbols[0] != "AAPL" || again.Quotes["AAPL"].Current != 190 || again.News[0].Headline == "changed" {
		t.Fatal("snapshot shares memory with controller state")
	}
	if again.Overview.Symbols != 4 || again.Overview.Gainers != 4 {
		t.Fatalf("unexpected overview: %+v", again.Overview)
	}
}

func TestConcurrentAdds(t *testing.T) {
	c := newController(t, Config{})
	var ok atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.AddSymbol(ctx, "NVDA") == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 {
		t.Fatalf("expected exactly one successful add, got %d", ok.Load())
	}
	n := 0
	for _, s := range c.Snapshot().Symbols {
		if s == "NVDA" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("NVDA appears %d times", n)
	}
}
