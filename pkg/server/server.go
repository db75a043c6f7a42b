package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/raterudder/dispatcher/pkg/device"
	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/scheduler"
	"github.com/raterudder/dispatcher/pkg/storage"
)

// Dispatcher runs dispatch cycles and inverter resets.
type Dispatcher interface {
	RunCycle(ctx context.Context) (scheduler.Result, error)
	Initialise(ctx context.Context) error
}

// tokenVerifier validates an ID token and returns its verified email.
type tokenVerifier func(ctx context.Context, rawIDToken string) (string, error)

// Server exposes the dispatcher over HTTP: triggering cycles, inspecting
// the plan and the inverter setting log, and running projections.
type Server struct {
	dispatcher Dispatcher
	storage    storage.Database
	device     device.Channel
	schedule   *scheduler.Config

	listenAddr string
	httpServer *http.Server

	updateEmails   []string
	verifyToken    tokenVerifier
	bypassAuth     bool
	allowedOrigins []string
	serverName     string
	now            func() time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(db storage.Database, ch device.Channel, schedule *scheduler.Config) *Server {
	srv := &Server{
		storage:    db,
		device:     ch,
		schedule:   schedule,
		serverName: "dispatcher",
		now:        time.Now,
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	updateEmails := lflag.String("update-emails", "", "comma-delimited list of email addresses allowed to trigger cycles")
	oidcIssuer := lflag.String("oidc-issuer", "https://accounts.google.com", "Issuer of the ID tokens sent to /api/update")
	oidcAudience := lflag.String("oidc-audience", "", "audience to validate ID tokens against")
	bypassAuth := lflag.Bool("bypass-auth", false, "Allow unauthenticated cycle triggers (development only)")
	allowedOrigins := lflag.String("cors-allowed-origins", "", "comma-delimited list of origins allowed to call the API")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.updateEmails = splitList(*updateEmails)
		srv.allowedOrigins = splitList(*allowedOrigins)
		srv.bypassAuth = *bypassAuth
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.verifyToken = oidcVerifier(provider.Verifier(&oidc.Config{ClientID: *oidcAudience}))
		}
		if srv.verifyToken == nil && !srv.bypassAuth {
			log.Ctx(context.Background()).Warn("no oidc-audience configured, cycles can only be triggered by the schedule")
		}
	})

	return srv
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.Handle("POST /api/update", s.requireUpdater(http.HandlerFunc(s.handleUpdate)))
	apiMux.Handle("POST /api/device/initialise", s.requireUpdater(http.HandlerFunc(s.handleInitialise)))
	apiMux.HandleFunc("GET /api/slots", s.handleSlots)
	apiMux.HandleFunc("GET /api/settings/history", s.handleSettingHistory)
	apiMux.HandleFunc("POST /api/projection", s.handleProjection)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.requestLogger(apiMux))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	h := s.securityHeadersMiddleware(mux)
	// cors allows every origin when given none
	if len(s.allowedOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}).Handler(h)
	}
	return s.revisionMiddleware(gziphandler.GzipHandler(h))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, d Dispatcher) error {
	s.dispatcher = d
	// a cycle waits for its slot to start before responding
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.WithAttrs(r.Context(), slog.String("reqPath", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
