package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/joeblew999/plat-ows/internal/agent"
	"github.com/joeblew999/plat-ows/internal/api"
	"github.com/joeblew999/plat-ows/internal/api/editor"
	"github.com/joeblew999/plat-ows/internal/config"
	"github.com/joeblew999/plat-ows/internal/crs"
	"github.com/joeblew999/plat-ows/internal/db"
	"github.com/joeblew999/plat-ows/internal/fetch"
	"github.com/joeblew999/plat-ows/internal/humastar"
	"github.com/joeblew999/plat-ows/internal/metrics"
	"github.com/joeblew999/plat-ows/internal/request"
	"github.com/joeblew999/plat-ows/internal/service"
	"github.com/joeblew999/plat-ows/internal/store"
	"github.com/joeblew999/plat-ows/internal/templates"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // Path to web/ directory for static files and fragment overrides
	// App is the domain configuration; nil loads it from DataDir.
	App *config.Config
	// Fetcher overrides the HTTP fetcher (tests).
	Fetcher fetch.Fetcher
}

// Server is the OWS client HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	handler  http.Handler
	db       *sql.DB
	services *api.Services
	renderer *templates.Renderer
}

// New creates a new server.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		app, err := config.Load("", cfg.DataDir)
		if err != nil {
			return nil, err
		}
		cfg.App = app
	}
	app := cfg.App

	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-ows API", "1.0.0")
	humaConfig.Info.Description = "OGC web service client: WMS, WFS and SOS capabilities, form state and request building."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, humastar.LinkTransformer(api.Links))

	humaAPI := humago.New(mux, humaConfig)

	f := cfg.Fetcher
	if f == nil {
		f = fetch.NewHTTPFetcher(app.Fetch.Timeout)
	}

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humaAPI,
		handler: metrics.Middleware(mux),
	}

	// Initialize DuckDB connection; the server runs without it.
	conn, err := db.Get(db.Config{
		DataDir:    cfg.DataDir,
		DBName:     app.DB.Name,
		Extensions: app.DB.Extensions,
	})
	var st *store.Store
	if err != nil {
		logging.Warn("Server", "DuckDB unavailable: %v", err)
	} else if st, err = store.New(context.Background(), conn); err != nil {
		logging.Warn("Server", "query log unavailable: %v", err)
	} else {
		s.db = conn
	}

	endpoints := service.NewEndpointService(cfg.DataDir, app.Endpoints.ByKind())
	deps := &service.Deps{
		Fetcher:   f,
		CRS:       crs.New(f, crs.WithLookupURL(app.CRS.LookupURL)),
		Builder:   request.NewBuilder(request.Config{UTCOffset: app.SOS.UTCOffset, Offering: app.SOS.Offering}),
		Endpoints: endpoints,
	}
	if s.db != nil {
		deps.Log = st
	}

	s.services = &api.Services{
		Endpoints: endpoints,
		Sessions:  service.NewSessionManager(deps),
		Agent: agent.Config{
			Poller:      agent.Poller{Attempts: app.Agent.PollAttempts, Interval: app.Agent.PollInterval},
			SettleDelay: app.Agent.SettleDelay,
		},
	}
	if s.db != nil {
		s.services.Store = st
	}
	if app.Agent.APIKey != "" {
		c, err := agent.NewGeminiCompleter(context.Background(), app.Agent.APIKey, app.Agent.Model)
		if err != nil {
			logging.Warn("Server", "agent disabled: %v", err)
		} else {
			s.services.Completer = c
		}
	}

	// Fragment templates: embedded defaults, web/templates/fragments overrides.
	fragmentsDir := ""
	if cfg.WebDir != "" {
		fragmentsDir = filepath.Join(cfg.WebDir, "templates", "fragments")
	}
	s.renderer, err = templates.New(fragmentsDir)
	if err != nil {
		return nil, fmt.Errorf("load fragment templates: %w", err)
	}

	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services exposes the wired services (CLI subcommands reuse them).
func (s *Server) Services() *api.Services {
	return s.services
}

// Close closes server resources.
func (s *Server) Close() error {
	s.services.Sessions.Close()
	return db.Close()
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.services))
	api.NewDBHandler(s.db).RegisterRoutes(s.humaAPI)
	api.NewInfoHandler(s.config.DataDir, s.db != nil, s.services.Completer != nil).RegisterRoutes(s.humaAPI)

	// Register editor SSE routes using Huma + Datastar SDK
	editor.NewFormHandler(s.services.Sessions, s.renderer, s.services.Completer, s.services.Agent).RegisterRoutes(s.humaAPI)

	s.mux.Handle("/metrics", metrics.Handler())

	// Static files and pages
	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
		s.mux.HandleFunc("/editor", s.handleEditor)
	}
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-ows",
		"status":  "running",
	})
}

func (s *Server) handleEditor(w http.ResponseWriter, r *http.Request) {
	templatePath := filepath.Join(s.config.WebDir, "templates", "editor.html")
	http.ServeFile(w, r, templatePath)
}
