package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kjannette/stockwatch-backend/internal/api"
	"github.com/kjannette/stockwatch-backend/internal/config"
	"github.com/kjannette/stockwatch-backend/internal/dashboard"
	"github.com/kjannette/stockwatch-backend/internal/db"
	"github.com/kjannette/stockwatch-backend/internal/external"
	"github.com/kjannette/stockwatch-backend/internal/notifications"
	"github.com/kjannette/stockwatch-backend/internal/policy"
	"github.com/kjannette/stockwatch-backend/internal/repository"
	"github.com/kjannette/stockwatch-backend/internal/session"
	"github.com/kjannette/stockwatch-backend/internal/watchlist"
)

const banner = `
╔══════════════════════════════════════╗
║        StockWatch Dashboard v1.0     ║
║                                      ║
╚══════════════════════════════════════╝
`

const janitorInterval = time.Minute

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg.Print()

	// Storage
	var (
		store    watchlist.Store
		profiles session.ProfileStore
		dbCheck  api.HealthCheck
	)
	switch cfg.StoreDriver {
	case "sqlite":
		fmt.Printf("\n[DB] Opening SQLite database %s ...\n", cfg.SQLitePath)
		sqlDB, err := db.OpenSQLite(context.Background(), cfg.SQLitePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[DB] Open failed: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			sqlDB.Close()
			fmt.Println("[DB] SQLite database closed")
		}()
		s := repository.NewSQLiteStore(sqlDB)
		store, profiles = s, s
		dbCheck = sqlDB.PingContext

	default:
		fmt.Printf("\n[DB] Connecting to %s:%d/%s ...\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
		pool, err := db.Connect(cfg.DSN())
		if err != nil {
			fmt.Fprintf(os.Stderr, "[DB] Connection failed: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			pool.Close()
			fmt.Println("[DB] Connection pool closed")
		}()

		if err := db.TestConnection(pool); err != nil {
			fmt.Fprintf(os.Stderr, "[DB] Test query failed: %v\n", err)
			os.Exit(1)
		}

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.Migrate(migrateCtx, pool)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "[DB] Migration failed: %v\n", err)
			os.Exit(1)
		}

		store = repository.NewWatchlistRepo(pool)
		profiles = repository.NewUserRepo(pool)
		dbCheck = pool.Ping
	}

	// Market data
	var client watchlist.QuoteClient
	switch cfg.QuoteProvider {
	case "alpaca":
		client = external.NewAlpacaClient(cfg.AlpacaAPIKey, cfg.AlpacaAPISecret, cfg.AlpacaDataURL, cfg.NewsLimit)
	default:
		client = external.NewFinnhubClient(cfg.FinnhubAPIKey, cfg.FinnhubBaseURL)
	}
	fmt.Printf("[QUOTES] Using %s\n", cfg.QuoteProvider)

	// Notifications
	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName)

	// Dashboard sessions
	sessions := dashboard.NewManager(dashboard.Config{
		Client:          client,
		Store:           store,
		Profiles:        profiles,
		Verifier:        external.NewGoogleIdentity(cfg.TokenInfoURL, cfg.IdentityAudience),
		Notifier:        notify,
		Defaults:        cfg.DefaultSymbols,
		RefreshInterval: cfg.RefreshInterval(),
		NewsLimit:       cfg.NewsLimit,
		Limits:          policy.Limits{MaxSymbols: cfg.MaxWatchlistSize},
		RecordQuotes:    cfg.SaveQuoteSnapshots,
		IdleTimeout:     cfg.SessionIdleTimeout(),
	})
	sessions.StartJanitor(janitorInterval)

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(sessions, api.Options{
		Port:       cfg.APIPort,
		APIKey:     cfg.APIKey,
		CORSOrigin: cfg.CORSAllowOrigin,
		DBDriver:   cfg.StoreDriver,
		DBCheck:    dbCheck,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "[API] Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	fmt.Println("\nAll services started successfully")
	notify.ServiceStarted(cfg.APIPort, cfg.QuoteProvider, cfg.StoreDriver)

	// Wait for shutdown signal
	<-ctx.Done()
	fmt.Println("\nShutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[API] Shutdown error: %v\n", err)
	}
	fmt.Println("[API] Server closed")

	sessions.StopJanitor()
	active := sessions.Len()
	sessions.CloseAll()

	notify.ServiceStopped(active)
	fmt.Println("Shutdown complete")
}
