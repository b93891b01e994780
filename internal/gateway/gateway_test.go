package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cexll/agentsdk-go/pkg/api"

	"github.com/theamal11z/Rex68/internal/bus"
	"github.com/theamal11z/Rex68/internal/config"
	"github.com/theamal11z/Rex68/internal/cron"
	"github.com/theamal11z/Rex68/internal/llm"
	"github.com/theamal11z/Rex68/internal/memory"
	"github.com/theamal11z/Rex68/internal/prompt"
)

// mockRuntime implements llm.Runtime for testing
type mockRuntime struct {
	mu       sync.Mutex
	response *api.Response
	err      error
	closed   bool
	prompts  []string
}

func (m *mockRuntime) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, req.Prompt)
	return m.response, m.err
}

func (m *mockRuntime) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *mockRuntime) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

func replyRuntime(out string) *mockRuntime {
	return &mockRuntime{response: &api.Response{Result: &api.Result{Output: out}}}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := config.DefaultConfig()
	cfg.Agent.Workspace = filepath.Join(home, "workspace")
	cfg.Memory.DBPath = filepath.Join(home, "rex.db")
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config, rt *mockRuntime) *Gateway {
	t.Helper()
	noEnrich := llm.CompleterFunc(func(context.Context, string) (string, error) {
		return "", errors.New("enrichment offline")
	})
	g, err := NewWithOptions(cfg, Options{
		RuntimeFactory: func(*config.Config, string) (llm.Runtime, error) { return rt, nil },
		Enricher:       noEnrich,
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	t.Cleanup(func() { _ = g.Shutdown() })
	return g
}

func inbound(content string, metadata map[string]any) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:   "webui",
		SenderID:  "client-1",
		ChatID:    "webui-1",
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long message", 10, "this is a ..."},
		{"", 5, ""},
		{"héllo wörld, ça va", 8, "héllo wö..."},
		{"日本語のメッセージ", 3, "日本語..."},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q is not valid UTF-8", tt.input, tt.n, got)
		}
	}
}

func TestGateway_BuildSystemPrompt(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "AGENTS.md"), []byte("# Agent\nStay in character."), 0644)
	os.WriteFile(filepath.Join(tmpDir, "SOUL.md"), []byte("# Soul\nBe kind."), 0644)

	g := &Gateway{cfg: &config.Config{Agent: config.AgentConfig{Workspace: tmpDir}}}
	got := g.buildSystemPrompt()
	if !strings.Contains(got, "# Agent") || !strings.Contains(got, "# Soul") {
		t.Fatalf("system prompt = %q", got)
	}

	empty := &Gateway{cfg: &config.Config{Agent: config.AgentConfig{Workspace: t.TempDir()}}}
	if got := empty.buildSystemPrompt(); got != "" {
		t.Fatalf("expected empty prompt, got %q", got)
	}
}

func TestNewWithOptions_RuntimeError(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewWithOptions(cfg, Options{
		RuntimeFactory: func(*config.Config, string) (llm.Runtime, error) { return nil, errors.New("no key") },
	})
	if err == nil {
		t.Fatal("expected runtime factory error")
	}
}

func TestNewWithOptions_TelegramWithoutToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.Telegram.Enabled = true
	rt := replyRuntime("hi")
	_, err := NewWithOptions(cfg, Options{
		RuntimeFactory: func(*config.Config, string) (llm.Runtime, error) { return rt, nil },
	})
	if err == nil {
		t.Fatal("expected channel manager error")
	}
	if !rt.closed {
		t.Error("runtime should be closed after a failed setup")
	}
}

func TestGateway_APIServesWebUIAndHealth(t *testing.T) {
	g := newTestGateway(t, testConfig(t), replyRuntime("hi"))
	srv := httptest.NewServer(g.api.Handler())
	defer srv.Close()

	for _, path := range []string{"/", "/api/health"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s error: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestGateway_HandleInbound_Message(t *testing.T) {
	rt := replyRuntime("That hike sounds amazing.")
	g := newTestGateway(t, testConfig(t), rt)
	ctx := context.Background()

	got := g.handleInbound(ctx, inbound("I went hiking in the mountains today", map[string]any{"user_id": "mo"}))
	if got != "That hike sounds amazing." {
		t.Fatalf("reply = %q", got)
	}
	if !strings.Contains(rt.lastPrompt(), "User message: I went hiking in the mountains today") {
		t.Fatalf("prompt = %q", rt.lastPrompt())
	}

	msgs, err := g.engine.GetMessages(ctx, "mo", 0)
	if err != nil {
		t.Fatalf("GetMessages error: %v", err)
	}
	if len(msgs) != 2 || !msgs[0].IsFromUser || msgs[1].IsFromUser {
		t.Fatalf("stored messages = %+v", msgs)
	}
	if _, err := g.engine.GetMemory(ctx, "mo"); err != nil {
		t.Fatalf("memory should be stored: %v", err)
	}
}

func TestGateway_HandleInbound_Fallback(t *testing.T) {
	rt := &mockRuntime{err: errors.New("provider down")}
	g := newTestGateway(t, testConfig(t), rt)

	got := g.handleInbound(context.Background(), inbound("hello", nil))
	if got != prompt.FallbackReply {
		t.Fatalf("reply = %q, want fallback", got)
	}
}

func TestGateway_HandleInbound_Commands(t *testing.T) {
	rt := replyRuntime("ok")
	g := newTestGateway(t, testConfig(t), rt)
	ctx := context.Background()
	cmd := func(name, content string) bus.InboundMessage {
		return inbound(content, map[string]any{"user_id": "mo", "command": name})
	}

	if got := g.handleInbound(ctx, cmd("start", "")); got != startReply {
		t.Errorf("start = %q", got)
	}
	if got := g.handleInbound(ctx, cmd("memory", "")); got != emptyMemoryReply {
		t.Errorf("memory before any turn = %q", got)
	}
	if got := g.handleInbound(ctx, cmd("help", "")); got != "" {
		t.Errorf("unknown empty command = %q, want no reply", got)
	}

	g.handleInbound(ctx, inbound("work has been stressful lately", map[string]any{"user_id": "mo"}))
	if got := g.handleInbound(ctx, cmd("memory", "")); !strings.Contains(got, "USER MEMORY CONTEXT:") {
		t.Errorf("memory after a turn = %q", got)
	}

	if got := g.handleInbound(ctx, cmd("trigger", "no separator")); !strings.HasPrefix(got, "Usage:") {
		t.Errorf("trigger usage = %q", got)
	}
	if got := g.handleInbound(ctx, cmd("trigger", "nope | hi")); !strings.Contains(got, "don't know that trigger") {
		t.Errorf("unknown trigger = %q", got)
	}
}

func TestGateway_HandleInbound_Trigger(t *testing.T) {
	rt := replyRuntime("Let's practice.")
	g := newTestGateway(t, testConfig(t), rt)
	ctx := context.Background()
	if _, err := g.engine.PutTriggerPhrase(ctx, memory.TriggerPhrase{Phrase: "coach mode", Guidelines: "Be direct.", Active: true}); err != nil {
		t.Fatalf("PutTriggerPhrase error: %v", err)
	}

	got := g.handleInbound(ctx, inbound("help me speak up", map[string]any{"user_id": "mo", "trigger": "coach mode"}))
	if got != "Let's practice." {
		t.Fatalf("reply = %q", got)
	}
	if !strings.HasPrefix(rt.lastPrompt(), "# TRIGGER MODE: COACH MODE") {
		t.Fatalf("prompt = %q", rt.lastPrompt())
	}

	g.handleInbound(ctx, bus.InboundMessage{Channel: "webui", ChatID: "1", Content: "coach mode | one more", Metadata: map[string]any{"user_id": "mo", "command": "trigger"}})
	if !strings.Contains(rt.lastPrompt(), "User message: one more") {
		t.Fatalf("command trigger prompt = %q", rt.lastPrompt())
	}
}

func TestGateway_ProcessLoopPublishesReply(t *testing.T) {
	g := newTestGateway(t, testConfig(t), replyRuntime("hey there"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go g.processLoop(ctx)
	g.bus.Inbound <- inbound("hello", map[string]any{"user_id": "mo"})

	select {
	case out := <-g.bus.Outbound:
		if out.Channel != "webui" || out.ChatID != "webui-1" || out.Content != "hey there" {
			t.Fatalf("outbound = %+v", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for outbound reply")
	}
}

func TestGateway_RunJob(t *testing.T) {
	g := newTestGateway(t, testConfig(t), replyRuntime("Thinking of you. How's the week going?"))
	ctx := context.Background()

	res, err := g.runJob(ctx, cron.Job{Payload: cron.Payload{Action: cron.ActionDecaySweep}})
	if err != nil || res != "0 users, 0 topics dropped" {
		t.Fatalf("decay sweep = %q, %v", res, err)
	}

	res, err = g.runJob(ctx, cron.Job{Payload: cron.Payload{Action: cron.ActionCheckIn, UserID: "mo", Channel: "telegram", ChatID: "42"}})
	if err != nil || res != "Thinking of you. How's the week going?" {
		t.Fatalf("check-in = %q, %v", res, err)
	}
	select {
	case out := <-g.bus.Outbound:
		if out.Channel != "telegram" || out.ChatID != "42" || out.Content != res {
			t.Fatalf("outbound = %+v", out)
		}
	default:
		t.Fatal("check-in should publish an outbound message")
	}

	if _, err := g.runJob(ctx, cron.Job{Payload: cron.Payload{Action: "bogus"}}); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestGateway_EnsureInternalJobs(t *testing.T) {
	g := newTestGateway(t, testConfig(t), replyRuntime("ok"))

	for i := 0; i < 2; i++ {
		if err := g.ensureInternalJobs(); err != nil {
			t.Fatalf("ensureInternalJobs error: %v", err)
		}
	}
	jobs := g.cron.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != decaySweepJobName || jobs[0].Payload.Action != cron.ActionDecaySweep {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestGateway_EnsureInternalJobs_Disabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memory.DecaySweep = ""
	g := newTestGateway(t, cfg, replyRuntime("ok"))

	if err := g.ensureInternalJobs(); err != nil {
		t.Fatalf("ensureInternalJobs error: %v", err)
	}
	if n := len(g.cron.ListJobs()); n != 0 {
		t.Fatalf("jobs = %d, want 0", n)
	}
}

func TestGateway_SeedsTriggerBundles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Prompt.TriggersDir = filepath.Join(t.TempDir(), "triggers")
	dir := filepath.Join(cfg.Prompt.TriggersDir, "coach")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	bundle := "---\nphrase: coach mode\npurpose: practice\n---\n- Be direct\n"
	if err := os.WriteFile(filepath.Join(dir, "TRIGGER.md"), []byte(bundle), 0644); err != nil {
		t.Fatal(err)
	}

	g := newTestGateway(t, cfg, replyRuntime("ok"))
	ctx := context.Background()
	phrases, err := g.engine.ListTriggerPhrases(ctx, false)
	if err != nil {
		t.Fatalf("ListTriggerPhrases error: %v", err)
	}
	if len(phrases) != 1 || phrases[0].Phrase != "coach mode" || phrases[0].Guidelines != "- Be direct" {
		t.Fatalf("phrases = %+v", phrases)
	}

	edited := phrases[0]
	edited.Guidelines = "Edited by hand"
	if _, err := g.engine.PutTriggerPhrase(ctx, edited); err != nil {
		t.Fatalf("PutTriggerPhrase error: %v", err)
	}
	if err := PrepareStore(ctx, g.cfg, g.engine); err != nil {
		t.Fatalf("PrepareStore error: %v", err)
	}
	phrases, _ = g.engine.ListTriggerPhrases(ctx, false)
	if phrases[0].Guidelines != "Edited by hand" {
		t.Fatalf("seeding overwrote an edited phrase: %+v", phrases[0])
	}
}

func TestPrepareStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Prompt.TriggersDir = filepath.Join(t.TempDir(), "triggers")
	dir := filepath.Join(cfg.Prompt.TriggersDir, "coach")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	bundle := "---\nphrase: coach mode\n---\n- Be direct\n"
	if err := os.WriteFile(filepath.Join(dir, "TRIGGER.md"), []byte(bundle), 0644); err != nil {
		t.Fatal(err)
	}

	engine, err := memory.NewEngine(filepath.Join(t.TempDir(), "rex.db"))
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	defer engine.Close()
	ctx := context.Background()
	legacy := memory.LegacyMemory{Fields: map[string]any{"notes": "likes tea"}}
	if _, err := engine.PutMemory(ctx, "mo", legacy); err != nil {
		t.Fatalf("PutMemory error: %v", err)
	}

	if err := PrepareStore(ctx, cfg, engine); err != nil {
		t.Fatalf("PrepareStore error: %v", err)
	}
	rec, err := engine.GetMemory(ctx, "mo")
	if err != nil {
		t.Fatalf("GetMemory error: %v", err)
	}
	if mem, ok := rec.Context.(*memory.StructuredMemory); !ok || mem.Notes != "likes tea" {
		t.Fatalf("memory = %#v, want upgraded structured memory", rec.Context)
	}
	phrases, err := engine.ListTriggerPhrases(ctx, true)
	if err != nil {
		t.Fatalf("ListTriggerPhrases error: %v", err)
	}
	if len(phrases) != 1 || phrases[0].Phrase != "coach mode" {
		t.Fatalf("phrases = %+v", phrases)
	}
}

func TestGateway_ImportsLegacyMemories(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memory.ImportPath = filepath.Join(t.TempDir(), "memories.json")
	export := `[{"userId":"mo","context":{"notes":"likes tea","sentiment":"happy"}}]`
	if err := os.WriteFile(cfg.Memory.ImportPath, []byte(export), 0644); err != nil {
		t.Fatal(err)
	}

	g := newTestGateway(t, cfg, replyRuntime("ok"))
	rec, err := g.engine.GetMemory(context.Background(), "mo")
	if err != nil {
		t.Fatalf("GetMemory error: %v", err)
	}
	mem, ok := rec.Context.(*memory.StructuredMemory)
	if !ok {
		t.Fatalf("context = %T, want structured", rec.Context)
	}
	if mem.Notes != "likes tea" || mem.Sentiment != "happy" {
		t.Fatalf("memory = %+v", mem)
	}
}

func TestGateway_RunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	rt := replyRuntime("ok")
	sigCh := make(chan os.Signal, 1)
	g, err := NewWithOptions(cfg, Options{
		RuntimeFactory: func(*config.Config, string) (llm.Runtime, error) { return rt, nil },
		Enricher:       llm.CompleterFunc(func(context.Context, string) (string, error) { return "", errors.New("offline") }),
		SignalChan:     sigCh,
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && len(g.cron.ListJobs()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if len(g.cron.ListJobs()) != 1 {
		t.Fatal("decay sweep job should be registered by Run")
	}

	sigCh <- syscall.SIGTERM
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after signal")
	}
	if !rt.closed {
		t.Error("runtime should be closed")
	}
}
