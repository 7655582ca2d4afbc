package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/gitapractice/internal/app"
	"github.com/MrWong99/gitapractice/internal/config"
	"github.com/MrWong99/gitapractice/internal/docstore"
)

// testConfig returns a default config with the background jobs disabled.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Schedule.Heartbeat = config.ScheduleOff
	cfg.Schedule.DailyVerse = config.ScheduleOff
	cfg.MCP.Enabled = true
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_WithInjectedStore(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), app.WithStore(docstore.NewMemStore()))
	h := a.Handler()

	for _, path := range []string{"/", "/healthz", "/readyz", "/test", "/api/chapters", "/api/daily_verse"} {
		if rec := get(t, h, path); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, body %s", path, rec.Code, rec.Body.String())
		}
	}

	var rep struct {
		Backend  string
		Database string
	}
	if err := json.NewDecoder(get(t, h, "/test").Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if rep.Backend != "memory" || rep.Database != "connected" {
		t.Errorf("/test = %+v", rep)
	}
	if got := a.Scheduler().Jobs(); len(got) != 0 {
		t.Errorf("jobs = %v, want none", got)
	}
}

func TestNew_DefaultRegistryAndShutdown(t *testing.T) {
	t.Parallel()

	var opened docstore.Store
	reg := config.NewRegistry()
	reg.RegisterStore(config.BackendMemory, func(context.Context, config.StoreConfig) (docstore.Store, error) {
		opened = docstore.NewMemStore()
		return opened, nil
	})

	a, err := app.New(context.Background(), testConfig(), app.WithRegistry(reg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := opened.Ping(context.Background()); !errors.Is(err, docstore.ErrClosed) {
		t.Errorf("store after Shutdown: Ping = %v, want ErrClosed", err)
	}
	// Second call is a no-op.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	t.Run("backend not registered", func(t *testing.T) {
		t.Parallel()
		_, err := app.New(context.Background(), testConfig(), app.WithRegistry(config.NewRegistry()))
		if !errors.Is(err, config.ErrBackendNotRegistered) {
			t.Errorf("err = %v, want ErrBackendNotRegistered", err)
		}
	})

	t.Run("missing dataset file", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Dataset.Path = t.TempDir() + "/nope.yaml"
		_, err := app.New(context.Background(), cfg, app.WithStore(docstore.NewMemStore()))
		if err == nil || !strings.Contains(err.Error(), "init dataset") {
			t.Errorf("err = %v, want dataset error", err)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# scrape\n"))
	})

	a := newApp(t, testConfig(), app.WithStore(docstore.NewMemStore()), app.WithMetricsHandler(metrics))
	if rec := get(t, a.Handler(), "/metrics"); rec.Code != http.StatusOK || rec.Body.String() != "# scrape\n" {
		t.Errorf("/metrics = %d %q", rec.Code, rec.Body.String())
	}

	b := newApp(t, testConfig(), app.WithStore(docstore.NewMemStore()))
	if rec := get(t, b.Handler(), "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("/metrics without handler = %d, want 404", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), app.WithStore(docstore.NewMemStore()))
	req := httptest.NewRequest(http.MethodGet, "/api/chapters", nil)
	req.Header.Set("Origin", "https://learner.example")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestServe_MCPOverHTTP(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), app.WithStore(docstore.NewMemStore()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		cancel()
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d", resp.StatusCode)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: base + config.DefaultMCPPath}, nil)
	if err != nil {
		cancel()
		t.Fatalf("mcp connect: %v", err)
	}
	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Errorf("ListTools: %v", err)
	} else if len(tools.Tools) != 5 {
		t.Errorf("tools = %d, want 5", len(tools.Tools))
	}
	_ = cs.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want string
	}{
		{config.LogDebug, "DEBUG"},
		{config.LogInfo, "INFO"},
		{config.LogWarn, "WARN"},
		{config.LogError, "ERROR"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		if got := app.LogLevel(tt.in).String(); got != tt.want {
			t.Errorf("LogLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
