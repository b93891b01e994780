package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/theamal11z/Rex68/internal/api"
	"github.com/theamal11z/Rex68/internal/bus"
	"github.com/theamal11z/Rex68/internal/channel"
	"github.com/theamal11z/Rex68/internal/chat"
	"github.com/theamal11z/Rex68/internal/config"
	"github.com/theamal11z/Rex68/internal/cron"
	"github.com/theamal11z/Rex68/internal/history"
	"github.com/theamal11z/Rex68/internal/llm"
	"github.com/theamal11z/Rex68/internal/memory"
	"github.com/theamal11z/Rex68/internal/prompt"
	"github.com/theamal11z/Rex68/internal/relevance"
	"github.com/theamal11z/Rex68/internal/triggers"
)

const (
	decaySweepJobName = "__internal_memory_decay_sweep"

	startReply       = "Hey, I'm Rex. Think of me as the voice in your head that actually listens. What's on your mind?"
	emptyMemoryReply = "I don't remember anything about you yet. Tell me something!"
)

// Options for creating a Gateway
type Options struct {
	// RuntimeFactory builds the generation runtime (allows injection for testing).
	RuntimeFactory llm.RuntimeFactory
	// Enricher replaces the HTTP enrichment client.
	Enricher   llm.Completer
	SignalChan chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	engine     *memory.Engine
	memory     *memory.Manager
	filter     *relevance.Filter
	runtime    llm.Runtime
	chat       *chat.Service
	channels   *channel.ChannelManager
	cron       *cron.Service
	api        *api.Server
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}
	ctx := context.Background()

	g.bus = bus.NewMessageBus(bus.DefaultBufSize)

	engine, err := memory.NewEngine(cfg.MemoryDBPath())
	if err != nil {
		return nil, fmt.Errorf("create memory engine: %w", err)
	}
	g.engine = engine

	if err := PrepareStore(ctx, cfg, engine); err != nil {
		_ = engine.Close()
		return nil, err
	}

	factory := opts.RuntimeFactory
	if factory == nil {
		factory = llm.NewRuntime
	}
	rt, err := factory(cfg, g.buildSystemPrompt())
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	g.runtime = rt

	enricher := opts.Enricher
	if enricher == nil {
		enricher = llm.NewClient(cfg)
	}
	g.filter = relevance.New(enricher)
	g.memory = memory.NewManager(engine, cfg.Memory.DecayRate)
	asm := prompt.NewAssembler(llm.NewRuntimeCompleter(rt), g.filter, prompt.Options{
		MultiPass:         cfg.Prompt.MultiPass,
		EnforceGuidelines: cfg.Prompt.EnforceGuidelines,
		FilterKeep:        cfg.Context.FilterKeep,
		Window:            history.Window{MaxTokens: cfg.Context.MaxTokens},
	})
	g.chat = chat.NewService(engine, g.memory, asm, g.filter, chat.Options{HistoryLimit: cfg.Context.HistoryLimit})

	cronStorePath := filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
	g.cron = cron.NewService(cronStorePath, g.runJob)

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		g.closeAll()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	handlers := api.Handlers{
		Store:      engine,
		Chat:       g.chat,
		Summarizer: g.filter,
		Jobs:       g.cron,
		Token:      cfg.Gateway.APIToken,
	}
	if ch, ok := chMgr.Get("webui"); ok {
		if webui, ok := ch.(*channel.WebUIChannel); ok {
			handlers.Static = webui.Handler()
		}
	}
	addr := cfg.Gateway.Host + ":" + strconv.Itoa(cfg.Gateway.Port)
	g.api = api.New(addr, handlers)

	return g, nil
}

// PrepareStore runs the startup steps every entry point shares: it imports
// a legacy export (when configured), upgrades stored legacy memories and
// seeds trigger bundles from disk. Only migration errors are fatal.
func PrepareStore(ctx context.Context, cfg *config.Config, engine *memory.Engine) error {
	if err := migrateMemories(ctx, cfg, engine); err != nil {
		return err
	}
	if err := seedTriggers(ctx, cfg, engine); err != nil {
		log.Printf("[gateway] trigger bundles warning: %v", err)
	}
	return nil
}

// migrateMemories imports a legacy export (when configured) and rewrites
// stored legacy rows into the structured shape. Both steps are idempotent.
func migrateMemories(ctx context.Context, cfg *config.Config, engine *memory.Engine) error {
	if path := strings.TrimSpace(cfg.Memory.ImportPath); path != "" {
		n, err := memory.MigrateFromFile(ctx, path, engine)
		if err != nil {
			return fmt.Errorf("import memory export: %w", err)
		}
		if n > 0 {
			log.Printf("[memory] imported %d memories from %s", n, path)
		}
	}
	n, err := memory.MigrateStored(ctx, engine)
	if err != nil {
		return fmt.Errorf("migrate stored memories: %w", err)
	}
	if n > 0 {
		log.Printf("[memory] migrated %d legacy memories", n)
	}
	return nil
}

// seedTriggers stores trigger bundles from disk whose phrase is not stored
// yet. Phrases edited through the API are never overwritten. The active set
// is compiled once so a bad phrase surfaces at startup.
func seedTriggers(ctx context.Context, cfg *config.Config, engine *memory.Engine) error {
	dir := cfg.Prompt.TriggersDir
	if dir == "" {
		dir = filepath.Join(cfg.Agent.Workspace, "triggers")
	}
	bundles, err := triggers.LoadBundles(dir)
	if err != nil {
		return err
	}

	stored, err := engine.ListTriggerPhrases(ctx, false)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(stored))
	for _, t := range stored {
		known[strings.ToLower(t.Phrase)] = true
	}

	added := 0
	for _, b := range bundles {
		if known[strings.ToLower(b.Phrase)] {
			continue
		}
		saved, err := engine.PutTriggerPhrase(ctx, b)
		if err != nil {
			return err
		}
		stored = append(stored, saved)
		added++
	}
	if added > 0 {
		log.Printf("[gateway] seeded %d trigger phrases from %s", added, dir)
	}

	m, err := triggers.NewMatcher(stored)
	if err != nil {
		return err
	}
	if n := m.Len(); n > 0 {
		log.Printf("[gateway] %d active trigger phrases", n)
	}
	return nil
}

// buildSystemPrompt reads optional persona notes from the workspace.
func (g *Gateway) buildSystemPrompt() string {
	var sb strings.Builder
	for _, name := range []string{"AGENTS.md", "SOUL.md"} {
		if data, err := os.ReadFile(filepath.Join(g.cfg.Agent.Workspace, name)); err == nil {
			sb.Write(data)
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

func (g *Gateway) ensureInternalJobs() error {
	expr := strings.TrimSpace(g.cfg.Memory.DecaySweep)
	if expr == "" {
		return nil
	}
	_, err := g.cron.EnsureJob(decaySweepJobName,
		cron.Schedule{Kind: cron.KindCron, Expr: expr},
		cron.Payload{Action: cron.ActionDecaySweep})
	return err
}

// runJob is the cron handler.
func (g *Gateway) runJob(ctx context.Context, job cron.Job) (string, error) {
	switch job.Payload.Action {
	case cron.ActionDecaySweep:
		res, err := memory.DecaySweep(ctx, g.engine, g.memory.DecayRate(), time.Now())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d users, %d topics dropped", res.Users, res.TopicsDropped), nil
	case cron.ActionCheckIn:
		reply, err := g.chat.CheckIn(ctx, job.Payload.UserID, job.Payload.Note)
		if err != nil {
			return "", err
		}
		if job.Payload.Channel != "" {
			g.bus.Publish(ctx, bus.OutboundMessage{
				Channel: job.Payload.Channel,
				ChatID:  job.Payload.ChatID,
				Content: reply.Message.Content,
			})
		}
		return reply.Message.Content, nil
	}
	return "", fmt.Errorf("unknown job action %q", job.Payload.Action)
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureInternalJobs(); err != nil {
		log.Printf("[gateway] ensure internal jobs warning: %v", err)
	}

	if err := g.api.Start(ctx); err != nil {
		return fmt.Errorf("start api: %w", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			result := g.handleInbound(ctx, msg)
			if result != "" {
				g.bus.Publish(ctx, bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: result,
				})
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleInbound answers one inbound message: a channel command, an explicit
// trigger, or a normal turn.
func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) string {
	userID := msg.UserKey()

	switch msg.Command() {
	case "start":
		return startReply
	case "memory":
		mem, err := g.memory.Load(ctx, userID)
		if err != nil {
			log.Printf("[gateway] load memory for %s: %v", userID, err)
			return prompt.FallbackReply
		}
		if len(mem.Topics) == 0 && len(mem.Interactions) == 0 {
			return emptyMemoryReply
		}
		return memory.FormatMemoryForPrompt(mem)
	case "trigger":
		phrase, content, ok := strings.Cut(msg.Content, "|")
		if !ok {
			return "Usage: /trigger <phrase> | <message>"
		}
		return g.reply(g.chat.HandleTrigger(ctx, userID, strings.TrimSpace(phrase), content))
	case "":
	default:
		// unknown commands with text are treated as plain messages
		if msg.Content == "" {
			return ""
		}
	}

	if t, _ := msg.Metadata["trigger"].(string); strings.TrimSpace(t) != "" {
		return g.reply(g.chat.HandleTrigger(ctx, userID, t, msg.Content))
	}
	return g.reply(g.chat.HandleMessage(ctx, userID, msg.Content))
}

func (g *Gateway) reply(r chat.Reply, err error) string {
	switch {
	case err == nil:
		return r.Message.Content
	case errors.Is(err, chat.ErrEmptyMessage):
		return ""
	case errors.Is(err, chat.ErrUnknownTrigger):
		return fmt.Sprintf("I don't know that trigger (%v).", err)
	}
	log.Printf("[gateway] turn error: %v", err)
	return prompt.FallbackReply
}

func (g *Gateway) closeAll() {
	if g.runtime != nil {
		g.runtime.Close()
	}
	if g.engine != nil {
		if err := g.engine.Close(); err != nil {
			log.Printf("[gateway] close memory engine warning: %v", err)
		}
	}
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	g.api.Stop()
	_ = g.channels.StopAll()
	g.closeAll()
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
