// Package api serves the JSON HTTP interface of the practice service: the
// verse catalogue, pronunciation scoring, practice records and the chatbot.
//
// All routes live under /api except the banner at /. Request bodies are JSON
// objects limited to [DefaultMaxBodyBytes] with unknown fields rejected.
// Errors are returned as {"error": "..."} with a status derived from the
// error kind; see [statusFor].
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/gitapractice/internal/chatbot"
	"github.com/MrWong99/gitapractice/internal/docstore"
	"github.com/MrWong99/gitapractice/internal/observe"
	"github.com/MrWong99/gitapractice/internal/practice"
	"github.com/MrWong99/gitapractice/internal/pronounce"
	"github.com/MrWong99/gitapractice/internal/resilience"
	"github.com/MrWong99/gitapractice/internal/verse"
)

// DefaultMaxBodyBytes caps JSON request bodies.
const DefaultMaxBodyBytes = 1 << 20

// DefaultMaxLimit caps ?limit= on list endpoints.
const DefaultMaxLimit = 1000

// Banner is the body of GET /.
const Banner = "Gita Pronunciation API running"

// errBadRequest wraps malformed input detected by the handlers themselves.
var errBadRequest = errors.New("bad request")

// Option configures a [Server].
type Option func(*Server)

// WithClock overrides the time source used for the daily verse.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithMaxBodyBytes overrides [DefaultMaxBodyBytes].
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithMaxLimit overrides [DefaultMaxLimit].
func WithMaxLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// Server holds the services behind the HTTP handlers.
type Server struct {
	dataset   *verse.Dataset
	evaluator *pronounce.Evaluator
	practice  *practice.Service
	bot       *chatbot.Bot

	now      func() time.Time
	maxBody  int64
	maxLimit int
}

// New creates a [Server].
func New(dataset *verse.Dataset, evaluator *pronounce.Evaluator, svc *practice.Service, bot *chatbot.Bot, opts ...Option) *Server {
	s := &Server{
		dataset:   dataset,
		evaluator: evaluator,
		practice:  svc,
		bot:       bot,
		now:       time.Now,
		maxBody:   DefaultMaxBodyBytes,
		maxLimit:  DefaultMaxLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes registers the banner and every /api route on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/", s.handleRoot)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequestSize(s.maxBody))

		r.Get("/chapters", s.handleChapters)
		r.Get("/verses", s.handleVerses)
		r.Get("/search", s.handleSearch)
		r.Get("/daily_verse", s.handleDailyVerse)

		r.Post("/evaluate_pronunciation", s.handleEvaluate)

		r.Post("/bookmarks", s.handleAddBookmark)
		r.Get("/bookmarks", s.handleBookmarks)
		r.Post("/progress", s.handleAddProgress)
		r.Get("/progress", s.handleProgress)
		r.Post("/practice", s.handleAddPracticeItem)
		r.Get("/practice", s.handlePracticeItems)
		r.Post("/practice/export", s.handleExport)
		r.Get("/stats", s.handleStats)

		r.Post("/chatbot", s.handleChatbot)
	})
}

// Handler returns a standalone router serving [Server.Routes]. The
// application mounts the routes on its own router instead; this is for
// tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": Banner})
}

// ── helpers ──────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps err to a status code and writes it. Server-side failures
// are logged and their details withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		msg = "internal error"
	case status == http.StatusServiceUnavailable:
		observe.Logger(r.Context()).Warn("store unavailable", "path", r.URL.Path, "err", err)
		msg = "store unavailable, try again later"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor classifies err:
//
//   - 400 for invalid input of any kind
//   - 404 for unknown verses
//   - 413 for oversized bodies
//   - 503 when the store is unavailable or its breaker is open
//   - 500 otherwise
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, practice.ErrInvalid),
		errors.Is(err, pronounce.ErrInvalidDetail),
		errors.Is(err, pronounce.ErrTextTooLong),
		errors.Is(err, verse.ErrChapterOutOfRange),
		errors.Is(err, docstore.ErrInvalidFilter),
		errors.Is(err, docstore.ErrUnknownCollection):
		return http.StatusBadRequest
	case errors.Is(err, verse.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, docstore.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads exactly one JSON object from the request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", errBadRequest)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: request body must hold a single JSON object", errBadRequest)
	}
	return nil
}

// intQuery parses an optional integer query parameter. ok is false when the
// parameter is absent.
func intQuery(r *http.Request, name string) (n int, ok bool, err error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	n, err = strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s must be an integer, got %q", errBadRequest, name, raw)
	}
	return n, true, nil
}

// etagMatches sets the dataset ETag on w and reports whether the client
// already holds this version.
func (s *Server) etagMatches(w http.ResponseWriter, r *http.Request) bool {
	tag := `"` + s.dataset.Fingerprint() + `"`
	w.Header().Set("ETag", tag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if r.Header.Get("If-None-Match") == tag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}
