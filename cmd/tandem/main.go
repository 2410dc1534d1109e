// Command tandem is the interactive front end: it wires a provider, the
// stores, and the turn engine, then runs a REPL (or a single question from
// the arguments) streaming each turn's events to the terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tandem/pkg/adapters/embedding"
	_ "tandem/pkg/adapters/embedding/gemini"
	_ "tandem/pkg/adapters/embedding/openai"
	"tandem/pkg/adapters/llm"
	_ "tandem/pkg/adapters/llm/gemini"
	_ "tandem/pkg/adapters/llm/ollama"
	_ "tandem/pkg/adapters/llm/openai"
	vsmemory "tandem/pkg/adapters/vectorstore/memory"
	"tandem/pkg/episodic"
	"tandem/pkg/events"
	"tandem/pkg/history"
	"tandem/pkg/memory"
	"tandem/pkg/orchestrator"
	tandemotel "tandem/pkg/otel"
	"tandem/pkg/prompt"
	"tandem/pkg/world"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	var (
		showVersion bool
		provider    string
		embedName   string
		model       string
		dataDir     string
		databaseURL string
		trace       bool
	)
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&provider, "provider", getEnv("TANDEM_PROVIDER", "ollama"), "llm provider (ollama, openai, gemini)")
	flag.StringVar(&embedName, "embedder", getEnv("TANDEM_EMBEDDER", ""), "embedding provider for semantic memory (openai, gemini; empty disables)")
	flag.StringVar(&model, "model", getEnv("TANDEM_MODEL", ""), "model name (provider default when empty)")
	flag.StringVar(&dataDir, "data", getEnv("TANDEM_DATA", "data"), "directory for the world document and chat history")
	flag.StringVar(&databaseURL, "db", os.Getenv("DATABASE_URL"), "episodic log DSN (sqlite:path or postgres URL; empty uses sqlite in the data dir)")
	flag.BoolVar(&trace, "trace", false, "print OTel spans to stdout")
	flag.Parse()

	if showVersion {
		fmt.Printf("tandem %s (commit=%s, date=%s)\n", version, commit, date)
		return
	}

	setupLogging()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := tandemotel.Init(ctx, tandemotel.Config{ServiceVersion: version, UseStdout: trace})
	if err != nil {
		log.Fatal().Err(err).Msg("initializing tracing")
	}
	defer shutdown(context.Background())

	eng, cleanup, err := buildEngine(ctx, provider, embedName, model, dataDir, databaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("building engine")
	}
	defer cleanup()

	if args := flag.Args(); len(args) > 0 {
		if !runTurn(ctx, eng, strings.Join(args, " ")) {
			os.Exit(1)
		}
		return
	}
	repl(ctx, eng)
}

func buildEngine(ctx context.Context, provider, embedName, model, dataDir, databaseURL string) (*orchestrator.Engine, func(), error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating data dir: %w", err)
	}

	factory, ok := llm.Resolve(provider)
	if !ok {
		return nil, nil, fmt.Errorf("unknown provider %q", provider)
	}
	p, err := factory(ctx, map[string]any{"model": model})
	if err != nil {
		return nil, nil, fmt.Errorf("constructing provider %q: %w", provider, err)
	}

	cfg := orchestrator.Config{
		Provider: p,
		Prompts:  prompt.Defaults(),
		World:    world.NewStore(filepath.Join(dataDir, "world.json")),
		History:  history.New(filepath.Join(dataDir, "history.jsonl")),
		Model:    model,
	}

	cleanup := func() {}
	if databaseURL == "" {
		databaseURL = "sqlite:" + filepath.Join(dataDir, "episodes.db")
	}
	episodes, err := episodic.Open(ctx, databaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("episodic log unavailable, continuing without it")
	} else if err := episodes.Migrate(ctx); err != nil {
		log.Warn().Err(err).Msg("episodic migration failed, continuing without the log")
		episodes.Close()
	} else {
		cfg.Episodes = episodes
		cfg.Sandbox = episodic.NewSandbox(p, episodes, cfg.Prompts, episodic.WithModel(model))
		cleanup = func() { episodes.Close() }
	}

	if embedName != "" {
		ef, ok := embedding.Resolve(embedName)
		if !ok {
			return nil, nil, fmt.Errorf("unknown embedder %q", embedName)
		}
		emb, err := ef(ctx, nil)
		if err != nil {
			log.Warn().Err(err).Str("embedder", embedName).Msg("embedder unavailable, semantic memory disabled")
		} else {
			cfg.Memory = memory.New(emb, vsmemory.New())
		}
	}

	eng, err := orchestrator.New(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}

func repl(ctx context.Context, eng *orchestrator.Engine) {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return
		}
		runTurn(ctx, eng, line)
		if ctx.Err() != nil {
			return
		}
	}
}

// runTurn streams one turn to the terminal and reports success.
func runTurn(ctx context.Context, eng *orchestrator.Engine, text string) bool {
	r := eng.RunTurn(ctx, text)
	streamed := false
	for {
		ev, ok := r.Events.Next(ctx)
		if !ok {
			break
		}
		switch ev.Type {
		case events.TypeTextDelta:
			if s, _ := ev.Payload[events.KeyText].(string); s != "" {
				fmt.Print(s)
				streamed = true
			}
		case events.TypeToolCall:
			fmt.Fprintf(os.Stderr, "[tool %v]\n", ev.Payload[events.KeyToolName])
		case events.TypeAttempt:
			fmt.Fprintf(os.Stderr, "[%v: %v]\n", ev.Payload["action"], ev.Payload[events.KeyStatus])
		case events.TypeTermination:
			if s, _ := ev.Payload[events.KeyStatus].(string); s != "done" && s != "" {
				fmt.Fprintf(os.Stderr, "[turn %s: %v]\n", s, ev.Payload[events.KeyReason])
			}
		}
	}
	if streamed {
		fmt.Println()
	}
	<-r.Done()
	if err := r.Err(); err != nil {
		log.Error().Err(err).Msg("turn failed")
		return false
	}
	return true
}

func setupLogging() {
	level := zerolog.InfoLevel
	if v := os.Getenv("TANDEM_LOG"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			level = l
		}
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
