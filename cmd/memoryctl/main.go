package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/memplane/memplane/internal/config"
	"github.com/memplane/memplane/internal/embedding"
	"github.com/memplane/memplane/internal/engine"
	"github.com/memplane/memplane/internal/graphstore"
	"github.com/memplane/memplane/internal/history"
	"github.com/memplane/memplane/internal/llm"
	"github.com/memplane/memplane/internal/obslog"
	"github.com/memplane/memplane/internal/ratelimit"
	"github.com/memplane/memplane/internal/retrieval"
)

const version = "0.1.0-alpha"

func main() {
	printBanner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down...")
		cancel()
		os.Exit(0)
	}()

	cfg := config.Load()
	log := obslog.New("memoryctl")

	eng, err := build(ctx, cfg, log)
	if err != nil {
		fmt.Printf("⚠️  startup failed: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	eng.StartBackgroundWork(ctx)

	fmt.Printf("✓ Connected | Graph: %s | Redis: %s\n\n", cfg.MemgraphURL, cfg.RedisURL)

	runREPL(ctx, eng)
}

// build assembles every I/O-bearing dependency and hands it to
// engine.New, matching the teacher's main.go's inline wiring of its
// Ollama client before constructing the orchestrator.
func build(ctx context.Context, cfg *config.Config, log *obslog.Logger) (*engine.Engine, error) {
	store, err := graphstore.NewDgraphStore(ctx, cfg.MemgraphURL)
	if err != nil {
		return nil, fmt.Errorf("connect graph store: %w", err)
	}

	index, err := graphstore.NewRedisIndex(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB, cfg.EmbeddingDims)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("connect redis index: %w", err)
	}

	var embed embedding.Gateway
	switch cfg.EmbeddingProvider {
	case "http":
		cached, cerr := embedding.NewCachedGateway(embedding.NewHTTPGateway(cfg.EmbeddingURL, cfg.EmbeddingModel, cfg.EmbeddingDims), cfg.BadgerPath)
		if cerr != nil {
			log.Warnf("embedding cache unavailable, running uncached: %v", cerr)
			embed = embedding.NewHTTPGateway(cfg.EmbeddingURL, cfg.EmbeddingModel, cfg.EmbeddingDims)
		} else {
			embed = cached
		}
	default:
		embed = embedding.NewDeterministicGateway(cfg.EmbeddingDims)
	}

	llmClient := llm.NewHTTPClient(cfg.LLMURL, cfg.LLMModel)
	pool := llm.NewPool(llmClient, llm.DefaultPoolConfig())

	hist, err := history.Open(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open history log: %w", err)
	}

	rate := ratelimit.New()
	rate.Register(cfg.LLMProvider, cfg.RequestsPerMinute)

	return engine.New(engine.Dependencies{
		Config:    cfg,
		Logger:    log,
		Store:     store,
		Index:     index,
		Embed:     embed,
		LLMPool:   pool,
		History:   hist,
		RateLimit: rate,
	}), nil
}

func runREPL(ctx context.Context, eng *engine.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	const userID = "local-user"

	for {
		fmt.Print("memoryctl> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			handleCommand(ctx, eng, userID, input)
			continue
		}

		start := time.Now()
		mem, err := eng.AddMemory(ctx, userID, input, "memoryctl", nil)
		if err != nil {
			fmt.Printf("❌ %v\n\n", err)
			continue
		}
		fmt.Printf("✓ stored %s (%.0fms)\n\n", mem.ID, time.Since(start).Seconds()*1000)
	}
}

func handleCommand(ctx context.Context, eng *engine.Engine, userID, cmd string) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "/help":
		fmt.Println("\nCommands: /help /search <query> /list /history <memoryID> /communities /exit")
		fmt.Println("Anything else is stored as a new memory.\n")

	case "/search":
		query := strings.TrimSpace(strings.TrimPrefix(cmd, "/search"))
		if query == "" {
			fmt.Println("usage: /search <query>\n")
			return
		}
		hits, err := eng.Search(ctx, userID, query, retrieval.Options{TopK: 5})
		if err != nil {
			fmt.Printf("❌ %v\n\n", err)
			return
		}
		fmt.Println("\n=== Results ===")
		for i, h := range hits {
			fmt.Printf("%d. [%.3f] %s\n", i+1, h.Score, truncate(h.Memory.Content, 80))
		}
		fmt.Println()

	case "/list":
		memories, err := eng.ListMemories(ctx, userID, retrieval.ListOptions{Mode: retrieval.ListLive, Limit: 20})
		if err != nil {
			fmt.Printf("❌ %v\n\n", err)
			return
		}
		fmt.Println("\n=== Live memories ===")
		for i, m := range memories {
			fmt.Printf("%d. %s: %s\n", i+1, m.ID, truncate(m.Content, 60))
		}
		fmt.Println()

	case "/history":
		if len(parts) < 2 {
			fmt.Println("usage: /history <memoryID>\n")
			return
		}
		entries, err := eng.History(ctx, history.Filter{MemoryID: parts[1]})
		if err != nil {
			fmt.Printf("❌ %v\n\n", err)
			return
		}
		fmt.Println("\n=== History ===")
		for _, e := range entries {
			fmt.Printf("%s  %s\n", e.CreatedAt.Format(time.RFC3339), e.Action)
		}
		fmt.Println()

	case "/communities":
		communities, members, err := eng.DetectCommunities(ctx, userID)
		if err != nil {
			fmt.Printf("❌ %v\n\n", err)
			return
		}
		fmt.Println("\n=== Communities ===")
		for _, c := range communities {
			fmt.Printf("%s (%d members): %s\n", c.ID, c.MemberCount, eng.SummarizeCommunity(ctx, members[c.ID]))
		}
		fmt.Println()

	case "/exit", "/quit":
		fmt.Println("Goodbye! 👋")
		os.Exit(0)
	}
}

func printBanner() {
	fmt.Printf(`
╔═════════════════════════════════════════════════════════╗
║        memoryctl — bi-temporal memory engine %s      ║
╚═════════════════════════════════════════════════════════╝

`, version)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
