package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/gitapractice/internal/chatbot"
	"github.com/MrWong99/gitapractice/internal/config"
	"github.com/MrWong99/gitapractice/internal/docstore"
)

var fixedNow = time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	a, err := New(context.Background(), cfg,
		WithStore(docstore.NewMemStore()),
		WithClock(func() time.Time { return fixedNow }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestScheduledJobs(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil)
	if diff := cmp.Diff([]string{JobDailyVerse, JobHeartbeat}, a.scheduler.Jobs()); diff != "" {
		t.Errorf("jobs mismatch (-want +got):\n%s", diff)
	}

	ctx := context.Background()
	if err := a.heartbeat(ctx); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	docs, err := a.store.Find(ctx, docstore.CollectionHealth, docstore.Filter{"kind": "heartbeat"}, 0)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("heartbeat docs = %d, want 1", len(docs))
	}
	if got := docs[0].Fields["at"]; got != "2026-03-01T06:30:00Z" {
		t.Errorf("at = %v", got)
	}
	if err := a.announceDailyVerse(ctx); err != nil {
		t.Errorf("announceDailyVerse: %v", err)
	}
}

func TestScheduledJobs_Disabled(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Schedule.DailyVerse = config.ScheduleOff
	})
	if diff := cmp.Diff([]string{JobHeartbeat}, a.scheduler.Jobs()); diff != "" {
		t.Errorf("jobs mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil)
	old := config.Default()

	updated := config.Default()
	updated.Server.LogLevel = config.LogDebug
	updated.Practice.MasteryThreshold = 70
	updated.Server.CORSOrigins = []string{"https://gita.example.com"}
	updated.Server.ListenAddr = ":9999"
	updated.Chatbot.Topics = []config.TopicConfig{{
		Name:     "war",
		Keywords: []string{"battle"},
		Verses:   []config.VerseRef{{Chapter: 1, VerseID: "1.1"}},
	}}

	a.ApplyConfig(old, updated)

	if got := a.level.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want debug", got)
	}
	if got := a.practice.MasteryThreshold(); got != 70 {
		t.Errorf("threshold = %v, want 70", got)
	}
	if diff := cmp.Diff([]string{"https://gita.example.com"}, a.cors.Origins()); diff != "" {
		t.Errorf("origins mismatch (-want +got):\n%s", diff)
	}
	ans := a.bot.Reply(context.Background(), "before the battle")
	if !slices.Equal(ans.Topics, []string{"war"}) {
		t.Errorf("topics = %v, want [war]", ans.Topics)
	}
}

func TestApplyConfig_BadChatbotKeepsRules(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil)
	updated := config.Default()
	updated.Chatbot.Topics = []config.TopicConfig{{
		Name:     "lost",
		Keywords: []string{"lost"},
		Verses:   []config.VerseRef{{Chapter: 3, VerseID: "3.99"}},
	}}
	a.ApplyConfig(config.Default(), updated)

	ans := a.bot.Reply(context.Background(), "I fear failing")
	if !slices.Equal(ans.Topics, []string{"anxiety"}) {
		t.Errorf("topics = %v, want the default anxiety topic", ans.Topics)
	}
	if ans.Reply != chatbot.DefaultReply {
		t.Errorf("reply = %q", ans.Reply)
	}
}

func TestConfigWatcherAppliesReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gitapractice.yaml")
	if err := os.WriteFile(path, []byte("practice:\n  mastery_threshold: 85\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := config.NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	a, err := New(context.Background(), w.Current(), WithStore(docstore.NewMemStore()), WithConfigWatcher(w))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	if err := os.WriteFile(path, []byte("practice:\n  mastery_threshold: 60\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if changed, err := w.Reload(); err != nil || !changed {
		t.Fatalf("Reload() = %v, %v", changed, err)
	}
	if got := a.practice.MasteryThreshold(); got != 60 {
		t.Errorf("threshold = %v, want 60", got)
	}
}
