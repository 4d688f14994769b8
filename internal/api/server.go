package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kjannette/stockwatch-backend/internal/dashboard"
)

// HealthCheck reports whether the backing store is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	sessions   *dashboard.Manager
	dbCheck    HealthCheck
	dbDriver   string
	handler    http.Handler
	httpServer *http.Server
	apiKey     string
}

type Options struct {
	Port       int
	APIKey     string
	CORSOrigin string
	DBDriver   string      // reported by /health
	DBCheck    HealthCheck // nil reports the store as not configured
}

func NewServer(sessions *dashboard.Manager, opts Options) *Server {
	s := &Server{
		sessions: sessions,
		dbCheck:  opts.DBCheck,
		dbDriver: opts.DBDriver,
		apiKey:   opts.APIKey,
	}

	mux := http.NewServeMux()

	// Dashboard session routes
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/signin", s.handleSignIn)
	mux.HandleFunc("POST /v1/sessions/{id}/signout", s.handleSignOut)

	// Watchlist routes
	mux.HandleFunc("POST /v1/sessions/{id}/symbols", s.handleAddSymbol)
	mux.HandleFunc("DELETE /v1/sessions/{id}/symbols/{symbol}", s.handleRemoveSymbol)
	mux.HandleFunc("POST /v1/sessions/{id}/refresh", s.handleRefresh)

	// State stream
	mux.HandleFunc("GET /v1/sessions/{id}/ws", s.handleWS)

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.handler = corsMiddleware(s.authMiddleware(mux), opts.CORSOrigin)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Start() error {
	fmt.Printf("[API] REST API server started on http://localhost%s\n", s.httpServer.Addr)
	fmt.Printf("[API] Health check: http://localhost%s/health\n", s.httpServer.Addr)
	if s.apiKey != "" {
		fmt.Println("[API] Authentication: enabled (Bearer token)")
	} else {
		fmt.Println("[API] Authentication: disabled (no API_KEY configured)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

// authMiddleware requires the API key as a Bearer token. Browsers cannot
// set headers on WebSocket handshakes, so stream requests may pass it as
// the access_token query parameter instead.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if strings.HasSuffix(r.URL.Path, "/ws") {
			if tok := r.URL.Query().Get("access_token"); tok != "" {
				if tok != s.apiKey {
					writeError(w, http.StatusUnauthorized, "invalid API key")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- request helpers ---

const maxBodyBytes = 1 << 16

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
