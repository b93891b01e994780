package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theamal11z/Rex68/internal/chat"
	"github.com/theamal11z/Rex68/internal/config"
	"github.com/theamal11z/Rex68/internal/gateway"
	"github.com/theamal11z/Rex68/internal/history"
	"github.com/theamal11z/Rex68/internal/llm"
	"github.com/theamal11z/Rex68/internal/memory"
	"github.com/theamal11z/Rex68/internal/prompt"
	"github.com/theamal11z/Rex68/internal/relevance"
)

const apiKeyHint = "API key not set. Run 'rex onboard' or set REX_API_KEY / ANTHROPIC_API_KEY"

// ChatOptions for running a chat session with custom dependencies
type ChatOptions struct {
	RuntimeFactory llm.RuntimeFactory
	// Enricher replaces the HTTP enrichment client.
	Enricher llm.Completer
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "rex",
	Short: "rex - an inner voice that remembers",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to Rex in single message or REPL mode",
	RunE:  runChat,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + admin API + cron)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show rex status",
	RunE:  runStatus,
}

var (
	messageFlag string
	triggerFlag string
	userFlag    string
)

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	chatCmd.Flags().StringVarP(&triggerFlag, "trigger", "t", "", "Answer in the named trigger's mode")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "cli", "User id to act as")
	rootCmd.AddCommand(chatCmd, gatewayCmd, onboardCmd, statusCmd, memoryCmd, summaryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

// runChatWithOptions runs a chat session with injectable dependencies for testing
func runChatWithOptions(opts ChatOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.RuntimeFactory
	if factory == nil {
		if cfg.Provider.APIKey == "" {
			return errors.New(apiKeyHint)
		}
		factory = llm.NewRuntime
	}

	engine, err := memory.NewEngine(cfg.MemoryDBPath())
	if err != nil {
		return fmt.Errorf("open memory: %w", err)
	}
	defer engine.Close()

	ctx := context.Background()
	if err := gateway.PrepareStore(ctx, cfg, engine); err != nil {
		return err
	}

	rt, err := factory(cfg, buildSystemPrompt(cfg))
	if err != nil {
		return err
	}
	defer rt.Close()

	enricher := opts.Enricher
	if enricher == nil {
		enricher = llm.NewClient(cfg)
	}
	filter := relevance.New(enricher)
	mgr := memory.NewManager(engine, cfg.Memory.DecayRate)
	asm := prompt.NewAssembler(llm.NewRuntimeCompleter(rt), filter, prompt.Options{
		MultiPass:         cfg.Prompt.MultiPass,
		EnforceGuidelines: cfg.Prompt.EnforceGuidelines,
		FilterKeep:        cfg.Context.FilterKeep,
		Window:            history.Window{MaxTokens: cfg.Context.MaxTokens},
	})
	svc := chat.NewService(engine, mgr, asm, filter, chat.Options{HistoryLimit: cfg.Context.HistoryLimit})

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	turn := func(content string) (chat.Reply, error) {
		if triggerFlag != "" {
			return svc.HandleTrigger(ctx, userFlag, triggerFlag, content)
		}
		return svc.HandleMessage(ctx, userFlag, content)
	}

	// Single message mode
	if messageFlag != "" {
		reply, err := turn(messageFlag)
		if err != nil {
			return fmt.Errorf("chat error: %w", err)
		}
		fmt.Fprintln(stdout, reply.Message.Content)
		return nil
	}

	fmt.Fprintln(stdout, "rex (type 'exit' to quit, '/memory' to see what Rex remembers)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		if input == "/memory" {
			mem, err := mgr.Load(ctx, userFlag)
			if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				continue
			}
			fmt.Fprintln(stdout, memory.FormatMemoryForPrompt(mem))
			continue
		}

		reply, err := turn(input)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, reply.Message.Content)
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return errors.New(apiKeyHint)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(filepath.Join(ws, "triggers", "deep-talk"), 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	writeIfNotExists(filepath.Join(ws, "AGENTS.md"), defaultAgentsMD)
	writeIfNotExists(filepath.Join(ws, "SOUL.md"), defaultSoulMD)
	writeIfNotExists(filepath.Join(ws, "triggers", "deep-talk", "TRIGGER.md"), defaultTriggerMD)

	fmt.Printf("Workspace ready: %s\n", ws)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set REX_API_KEY environment variable")
	fmt.Println("  3. Run 'rex chat -m \"Hello\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Printf("API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)
	fmt.Printf("Prompt: multiPass=%v enforceGuidelines=%v\n", cfg.Prompt.MultiPass, cfg.Prompt.EnforceGuidelines)

	if _, err := os.Stat(cfg.Agent.Workspace); err != nil {
		fmt.Println("Workspace: not found (run 'rex onboard')")
	}

	dbPath := cfg.MemoryDBPath()
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("Memory: empty")
		return nil
	}
	engine, err := memory.NewEngine(dbPath)
	if err != nil {
		fmt.Printf("Memory: error (%v)\n", err)
		return nil
	}
	defer engine.Close()
	stats, err := engine.Stats(context.Background())
	if err != nil {
		fmt.Printf("Memory: error (%v)\n", err)
		return nil
	}
	fmt.Printf("Memory: %d users, %d messages, %d memories\n", stats.Users, stats.Messages, stats.Memories)
	fmt.Printf("Library: %d settings, %d contents, %d triggers\n", stats.Settings, stats.Contents, stats.Triggers)

	return nil
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "set"
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func buildSystemPrompt(cfg *config.Config) string {
	var sb strings.Builder

	if data, err := os.ReadFile(filepath.Join(cfg.Agent.Workspace, "AGENTS.md")); err == nil {
		sb.Write(data)
		sb.WriteString("\n\n")
	}

	if data, err := os.ReadFile(filepath.Join(cfg.Agent.Workspace, "SOUL.md")); err == nil {
		sb.Write(data)
		sb.WriteString("\n\n")
	}

	return sb.String()
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultAgentsMD = `# Rex

You are Rex, the user's inner voice. You speak the way a thoughtful part of
their own mind would: warm, honest, and brief.

## Guidelines
- Answer in one to three short paragraphs
- Refer back to what you remember when it helps
- Never claim to be an AI assistant
`

const defaultSoulMD = `# Soul

Rex notices feelings before facts. It asks one question at a time and lets
the user lead. It is playful when the user is light and steady when they are
not.
`

const defaultTriggerMD = `---
phrase: let's go deep
identity: A patient, reflective version of Rex
purpose: Help the user think through something that matters to them
task: Ask one probing question before offering any view
active: true
---
- Slow down and mirror the user's words back before answering
- Prefer questions over advice
- Keep replies under 120 words
`
