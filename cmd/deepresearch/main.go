// Command deepresearch runs one research turn from the terminal and
// streams the run's events as JSONL on stdout. Threads persist across
// invocations when a DSN is configured.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"deepresearch/graph"
	"deepresearch/graph/emit"
	"deepresearch/graph/model"
	"deepresearch/graph/model/anthropic"
	"deepresearch/graph/model/google"
	"deepresearch/graph/model/openai"
	"deepresearch/graph/store"
	"deepresearch/internal/config"
	"deepresearch/internal/msgstore"
	"deepresearch/internal/orchestrator"
	"deepresearch/internal/polymarket"
	"deepresearch/internal/search"
)

func main() {
	var (
		threadID    = flag.String("thread", "", "thread id to continue (new thread when empty)")
		question    = flag.String("q", "", "user message (positional args or stdin when empty)")
		listThreads = flag.Bool("list", false, "list known threads and exit")
		deleteID    = flag.String("delete", "", "delete a thread and exit")
		metricsAddr = flag.String("metrics", "", "serve Prometheus metrics on this address")
		withOTel    = flag.Bool("otel", false, "record run events as OpenTelemetry spans")
	)
	flag.Parse()

	if err := run(*threadID, *question, *listThreads, *deleteID, *metricsAddr, *withOTel); err != nil {
		fmt.Fprintln(os.Stderr, "deepresearch:", err)
		os.Exit(1)
	}
}

func run(threadID, question string, listThreads bool, deleteID, metricsAddr string, withOTel bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	checkpoints, messages, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer checkpoints.Close()
	defer messages.Close()

	supervisor, err := chatModel(cfg, cfg.SupervisorModel)
	if err != nil {
		return err
	}
	namer, err := chatModel(cfg, cfg.ThreadNameModel)
	if err != nil {
		return err
	}
	searcher, err := search.NewClient(cfg.TavilyKey)
	if err != nil {
		return err
	}
	catalog, err := polymarket.NewClient(cfg.PolymarketBaseURL)
	if err != nil {
		return err
	}

	opts := orchestrator.Options{
		Model:           supervisor,
		ThreadNameModel: namer,
		Searcher:        searcher,
		Catalog:         catalog,
		Checkpoints:     checkpoints,
		Messages:        messages,
		Temperature:     cfg.Temperature,
		IterationCap:    cfg.IterationCap,
		HistoryCap:      cfg.HistoryCap,
		MarketFallback:  cfg.MarketFallback,
	}

	if metricsAddr != "" {
		opts.Metrics = graph.NewMetrics(prometheus.DefaultRegisterer)
		go serveMetrics(metricsAddr)
	}

	if threadID == "" {
		threadID = uuid.NewString()
	}

	if cfg.StateLogDir != "" {
		logEmitter, err := emit.NewFileLogEmitter(cfg.StateLogDir, threadID)
		if err != nil {
			return err
		}
		defer logEmitter.Close()
		opts.Emitters = append(opts.Emitters, logEmitter)
	}
	if withOTel {
		tp := sdktrace.NewTracerProvider()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
		opts.Emitters = append(opts.Emitters, emit.NewOTelEmitter(tp.Tracer("deepresearch")))
	}

	o, err := orchestrator.New(opts)
	if err != nil {
		return err
	}

	switch {
	case listThreads:
		return printThreads(ctx, o)
	case deleteID != "":
		return o.DeleteThread(ctx, deleteID)
	}

	message, err := resolveMessage(question)
	if err != nil {
		return err
	}
	return streamRun(ctx, o, message, threadID)
}

// streamRun drives one turn, printing each stream item as a JSON line.
func streamRun(ctx context.Context, o *orchestrator.Orchestrator, message, threadID string) error {
	r, err := o.Run(ctx, message, threadID)
	if err != nil {
		return err
	}

	out := json.NewEncoder(os.Stdout)
	for item := range r.Items() {
		switch item.Mode {
		case graph.ModeCustom:
			_ = out.Encode(item.Envelope)
		case graph.ModeUpdates:
			_ = out.Encode(map[string]any{
				"type":   "updates",
				"node":   item.Node,
				"update": item.Update,
			})
		}
	}
	return r.Err()
}

// chatModel picks the provider driver from the model name.
func chatModel(cfg *config.Config, name string) (model.ChatModel, error) {
	switch {
	case strings.HasPrefix(name, "claude"):
		return anthropic.New(cfg.AnthropicKey, name)
	case strings.HasPrefix(name, "gemini"):
		return google.New(cfg.GeminiKey, name)
	default:
		return openai.New(cfg.OpenAIKey, name)
	}
}

// openStores resolves the DSN into checkpoint and message stores. An
// empty DSN degrades to in-memory stores: the turn works end to end but
// nothing survives the process.
func openStores(cfg *config.Config) (store.Store, msgstore.Store, error) {
	kind, rest := cfg.DSNKind()
	switch kind {
	case "":
		fmt.Fprintln(os.Stderr, "deepresearch: no DSN configured, state is in-memory only")
		return store.NewMemStore(), msgstore.NewMemStore(), nil
	case "sqlite":
		checkpoints, err := store.NewSQLiteStore(rest)
		if err != nil {
			return nil, nil, err
		}
		messages, err := msgstore.NewSQLiteStore(rest)
		if err != nil {
			checkpoints.Close()
			return nil, nil, err
		}
		return checkpoints, messages, nil
	case "mysql":
		checkpoints, err := store.NewMySQLStore(rest)
		if err != nil {
			return nil, nil, err
		}
		messages, err := msgstore.NewMySQLStore(rest)
		if err != nil {
			checkpoints.Close()
			return nil, nil, err
		}
		return checkpoints, messages, nil
	default:
		return nil, nil, fmt.Errorf("unsupported DSN scheme in %q", cfg.DSN)
	}
}

// resolveMessage takes the question from -q, the positional args, or
// stdin, in that order.
func resolveMessage(question string) (string, error) {
	if question != "" {
		return question, nil
	}
	if args := flag.Args(); len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	fmt.Fprintln(os.Stderr, "reading question from stdin...")
	var b strings.Builder
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

func printThreads(ctx context.Context, o *orchestrator.Orchestrator) error {
	threads, err := o.Threads(ctx)
	if err != nil {
		return err
	}
	for _, t := range threads {
		name := t.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%s\t%s\t%s\n", t.ID, t.UpdatedAt.Format(time.RFC3339), name)
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintln(os.Stderr, "metrics server:", err)
	}
}
