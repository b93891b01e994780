package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/theamal11z/Rex68/internal/config"
	"github.com/theamal11z/Rex68/internal/history"
	"github.com/theamal11z/Rex68/internal/llm"
	"github.com/theamal11z/Rex68/internal/memory"
	"github.com/theamal11z/Rex68/internal/relevance"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain stored memories",
}

var memoryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print what Rex remembers about a user",
	RunE:  runMemoryShow,
}

var memoryHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print a user's memory health score",
	RunE:  runMemoryHealth,
}

var memoryDecayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Drop decayed topics from every stored memory",
	RunE:  runMemoryDecay,
}

var memoryMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Import a legacy export and upgrade stored legacy memories",
	RunE:  runMemoryMigrate,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize a user's conversation",
	RunE:  runSummary,
}

var (
	fromFlag string
	// summarizer is swapped in tests.
	summarizer func(cfg *config.Config) llm.Completer = func(cfg *config.Config) llm.Completer {
		return llm.NewClient(cfg)
	}
)

func init() {
	memoryMigrateCmd.Flags().StringVar(&fromFlag, "from", "", "Legacy JSON export to import")
	memoryCmd.AddCommand(memoryShowCmd, memoryHealthCmd, memoryDecayCmd, memoryMigrateCmd)
}

// withEngine opens the configured store for the duration of fn.
func withEngine(fn func(ctx context.Context, cfg *config.Config, engine *memory.Engine) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	engine, err := memory.NewEngine(cfg.MemoryDBPath())
	if err != nil {
		return fmt.Errorf("open memory: %w", err)
	}
	defer engine.Close()
	return fn(context.Background(), cfg, engine)
}

func runMemoryShow(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, engine *memory.Engine) error {
		mem, err := loadStored(ctx, engine, userFlag)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Memory for %s (last interaction %s)\n\n", mem.UserID, mem.LastInteraction.Format(time.RFC3339))
		fmt.Fprintln(out, memory.FormatMemoryForPrompt(mem))
		return nil
	})
}

func runMemoryHealth(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, engine *memory.Engine) error {
		mem, err := loadStored(ctx, engine, userFlag)
		if err != nil {
			return err
		}
		health := memory.CalculateMemoryHealth(mem, time.Now(), cfg.Memory.DecayRate)
		fmt.Fprintf(cmd.OutOrStdout(), "Health: %.2f (%d topics, %d interactions)\n", health, len(mem.Topics), len(mem.Interactions))
		return nil
	})
}

func runMemoryDecay(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, engine *memory.Engine) error {
		res, err := memory.DecaySweep(ctx, engine, cfg.Memory.DecayRate, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Decay sweep: %d users, %d topics dropped\n", res.Users, res.TopicsDropped)
		return nil
	})
}

func runMemoryMigrate(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, engine *memory.Engine) error {
		out := cmd.OutOrStdout()
		if path := strings.TrimSpace(fromFlag); path != "" {
			n, err := memory.MigrateFromFile(ctx, path, engine)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Imported %d memories from %s\n", n, path)
		}
		n, err := memory.MigrateStored(ctx, engine)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Migrated %d legacy memories\n", n)
		return nil
	})
}

func runSummary(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, engine *memory.Engine) error {
		msgs, err := engine.GetMessages(ctx, userFlag, 0)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return fmt.Errorf("no messages for %s", userFlag)
		}

		lines := make([]string, 0, len(msgs))
		for _, m := range msgs {
			lines = append(lines, history.FormatMessage(m))
		}
		overview := history.SummarizeConversation(msgs)
		summary := relevance.New(summarizer(cfg)).Summarize(ctx, strings.Join(lines, "\n"))
		if summary == "" {
			summary = overview
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, summary)
		if overview != "" && overview != summary {
			fmt.Fprintf(out, "\n%s\n", overview)
		}
		return nil
	})
}

// loadStored returns a user's memory in structured form without creating one.
func loadStored(ctx context.Context, engine *memory.Engine, userID string) (*memory.StructuredMemory, error) {
	rec, err := engine.GetMemory(ctx, userID)
	if errors.Is(err, memory.ErrNotFound) {
		return nil, fmt.Errorf("no memory stored for %s", userID)
	}
	if err != nil {
		return nil, err
	}
	return memory.MigrateMemory(rec.Context, rec.UserID, time.Now()), nil
}
