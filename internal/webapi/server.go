package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/export"
	"nicrolabs-studio/internal/generate"
	"nicrolabs-studio/internal/prefs"
	"nicrolabs-studio/internal/prompt"
	"nicrolabs-studio/internal/studio"
	"nicrolabs-studio/internal/suggest"
)

const maxUploadBytes = 25 << 20

// Generator runs one generation for a session.
type Generator interface {
	Generate(ctx context.Context, sess *studio.Session) (studio.GeneratedImage, error)
}

// Suggester applies a style suggestion to a session.
type Suggester interface {
	Apply(ctx context.Context, sess *studio.Session, description string) suggest.Result
}

type Options struct {
	Store     *studio.Store
	Catalog   *catalog.Catalog
	Generator Generator
	Suggester Suggester
	Prefs     *prefs.Store
	// Exporter is optional; without it the export route answers 501.
	Exporter     export.Exporter
	ExportPrefix string
	Policy       generate.TierPolicy
	CORSOrigins  []string
	// Lifetime bounds generations instead of the client connection; cancel it
	// on shutdown.
	Lifetime context.Context
	Logger   *slog.Logger
}

type Server struct {
	store        *studio.Store
	catalog      *catalog.Catalog
	composer     *prompt.Composer
	generator    Generator
	suggester    Suggester
	prefs        *prefs.Store
	exporter     export.Exporter
	exportPrefix string
	policy       generate.TierPolicy
	origins      []string
	lifetime     context.Context
	logger       *slog.Logger
}

func New(opts Options) *Server {
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	store := opts.Store
	if store == nil {
		store = studio.NewStore(studio.StoreOptions{})
	}
	policy := opts.Policy
	if policy == nil {
		policy = generate.DefaultTierPolicy
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	lifetime := opts.Lifetime
	if lifetime == nil {
		lifetime = context.Background()
	}
	return &Server{
		store:        store,
		catalog:      cat,
		composer:     prompt.New(cat),
		generator:    opts.Generator,
		suggester:    opts.Suggester,
		prefs:        opts.Prefs,
		exporter:     opts.Exporter,
		exportPrefix: opts.ExportPrefix,
		policy:       policy,
		origins:      origins,
		lifetime:     lifetime,
		logger:       logger,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
	}))
	r.Use(s.withLogging)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/catalog", s.handleCatalog)
		api.Get("/previews/{token}", s.handlePreview)

		api.Post("/sessions", s.handleCreateSession)
		api.Route("/sessions/{id}", func(sr chi.Router) {
			sr.Get("/", s.handleGetSession)
			sr.Delete("/", s.handleDeleteSession)

			sr.Post("/images", s.handleAddImage)
			sr.Put("/images/{slot}", s.handlePutImage)
			sr.Delete("/images/{slot}", s.handleDeleteImage)

			sr.Post("/selection/{category}", s.handleToggle)
			sr.Put("/format", s.handleFormat)
			sr.Put("/flags", s.handleFlags)
			sr.Put("/instruction", s.handleInstruction)
			sr.Post("/template", s.handleTemplate)
			sr.Post("/suggest", s.handleSuggest)
			sr.Get("/prompt", s.handlePrompt)

			sr.Post("/generate", s.handleGenerate)
			sr.Get("/status", s.handleStatus)

			sr.Get("/history", s.handleHistory)
			sr.Post("/history/{rid}/select", s.handleSelectResult)
			sr.Delete("/history/{rid}", s.handleDeleteResult)
			sr.Get("/history/{rid}/download", s.handleDownload)
			sr.Post("/history/{rid}/export", s.handleExport)
		})
	})

	return r
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"dur_ms", time.Since(start).Milliseconds(),
		)
	})
}

// session resolves the {id} route parameter, answering 404 when unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*studio.Session, bool) {
	sess, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}
