// Package mcpserver exposes the verse catalogue, pronunciation scoring and
// verse suggestions as Model Context Protocol tools, so that an assistant
// can coach a learner with the same logic the HTTP API uses.
//
// The server is transport agnostic: [Server.Handler] serves the streamable
// HTTP transport and [Server.RunStdio] speaks over stdin/stdout.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/gitapractice/internal/chatbot"
	"github.com/MrWong99/gitapractice/internal/observe"
	"github.com/MrWong99/gitapractice/internal/pronounce"
	"github.com/MrWong99/gitapractice/internal/verse"
)

// Tool names.
const (
	ToolEvaluate   = "evaluate_pronunciation"
	ToolSearch     = "search_verses"
	ToolGetVerses  = "get_verses"
	ToolDailyVerse = "daily_verse"
	ToolSuggest    = "suggest_verse"
)

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithClock overrides the time source of the daily_verse tool.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server wraps an [mcp.Server] with the practice tools registered.
type Server struct {
	mcp       *mcp.Server
	dataset   *verse.Dataset
	evaluator *pronounce.Evaluator
	bot       *chatbot.Bot
	metrics   *observe.Metrics
	version   string
	now       func() time.Time
}

// New creates a [Server] with every tool registered.
func New(dataset *verse.Dataset, evaluator *pronounce.Evaluator, bot *chatbot.Bot, opts ...Option) *Server {
	s := &Server{
		dataset:   dataset,
		evaluator: evaluator,
		bot:       bot,
		version:   "dev",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "gitapractice", Version: s.version}, nil)
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// Handler serves the streamable HTTP transport. Every client session shares
// the one server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

// RunStdio serves a single client over stdin/stdout until ctx is done or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: stdio: %w", err)
	}
	return nil
}

// ── Tool inputs ──────────────────────────────────────────────────────────────

type evaluateInput struct {
	TargetText     string `json:"target_text" jsonschema:"the verse or phrase the learner was asked to recite"`
	RecognizedText string `json:"recognized_text" jsonschema:"what the speech recogniser heard"`
	Detail         string `json:"detail,omitempty" jsonschema:"spans (default) or ops for the full edit script"`
}

type searchInput struct {
	Query string `json:"query" jsonschema:"text to look for in Devanagari, transliteration or translations; misspelt romanisations are matched phonetically"`
}

type getVersesInput struct {
	Chapter int    `json:"chapter" jsonschema:"chapter number from 1 to 18"`
	VerseID string `json:"verse_id,omitempty" jsonschema:"a single verse id such as 2.47; omit for the whole chapter"`
}

type dailyInput struct {
	Date string `json:"date,omitempty" jsonschema:"calendar day as YYYY-MM-DD; defaults to today (UTC)"`
}

type suggestInput struct {
	Message string `json:"message" jsonschema:"what the learner said or is struggling with"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolEvaluate,
		Description: "Score a recitation against its target text. Returns a 0-100 score and the character ranges of the target that were missed or mispronounced.",
	}, instrument(s, ToolEvaluate, s.evaluate))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolSearch,
		Description: "Search verses by text. Returns matching verses with chapter, Devanagari, transliteration and translations.",
	}, instrument(s, ToolSearch, s.search))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolGetVerses,
		Description: "List the verses of a chapter, or fetch one verse by id.",
	}, instrument(s, ToolGetVerses, s.getVerses))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolDailyVerse,
		Description: "Return the verse of the day. The pick is the same for everyone on a given date.",
	}, instrument(s, ToolDailyVerse, s.daily))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolSuggest,
		Description: "Suggest verses that speak to a learner's concern, such as fear or attachment to results.",
	}, instrument(s, ToolSuggest, s.suggest))
}

// instrument adapts fn to the SDK handler shape. Errors from fn become tool
// errors the model can read rather than protocol errors.
func instrument[In any](s *Server, name string, fn func(context.Context, In) (any, error)) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		ctx, span := observe.StartSpan(ctx, "mcp.tool "+name)
		defer span.End()
		span.SetAttributes(attribute.String("mcp.tool", name))

		out, err := fn(ctx, in)
		if err != nil {
			observe.Fail(span, err)
			s.metrics.RecordToolCall(ctx, name, "error")
			observe.Logger(ctx).Debug("mcp tool failed", "tool", name, "err", err)
			return errResult(err.Error()), nil, nil
		}
		s.metrics.RecordToolCall(ctx, name, "ok")
		return jsonResult(out), nil, nil
	}
}

// ── Tool handlers ────────────────────────────────────────────────────────────

func (s *Server) evaluate(ctx context.Context, in evaluateInput) (any, error) {
	return s.evaluator.Evaluate(ctx, pronounce.Request{
		TargetText:     in.TargetText,
		RecognizedText: in.RecognizedText,
		Detail:         pronounce.Detail(in.Detail),
	})
}

func (s *Server) search(_ context.Context, in searchInput) (any, error) {
	return map[string]any{"results": s.dataset.Search(in.Query)}, nil
}

func (s *Server) getVerses(_ context.Context, in getVersesInput) (any, error) {
	if in.VerseID != "" {
		v, err := s.dataset.Verse(in.Chapter, in.VerseID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"chapter": in.Chapter, "verses": []verse.Verse{v}}, nil
	}
	verses, err := s.dataset.Verses(in.Chapter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"chapter": in.Chapter, "verses": verses}, nil
}

func (s *Server) daily(_ context.Context, in dailyInput) (any, error) {
	day := s.now()
	if in.Date != "" {
		d, err := time.Parse(time.DateOnly, in.Date)
		if err != nil {
			return nil, fmt.Errorf("date must be YYYY-MM-DD, got %q", in.Date)
		}
		day = d
	}
	return s.dataset.Daily(day)
}

func (s *Server) suggest(ctx context.Context, in suggestInput) (any, error) {
	return s.bot.Reply(ctx, in.Message), nil
}

// ── Results ──────────────────────────────────────────────────────────────────

func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("encode result: " + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
