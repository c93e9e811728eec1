// NFRGuard orchestration core: runs the event bus, the seven agent handlers,
// the pipeline supervisor, and the ops HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/nfrguard/nfrguard/pkg/agents"
	"github.com/nfrguard/nfrguard/pkg/api"
	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/config"
	"github.com/nfrguard/nfrguard/pkg/masking"
	"github.com/nfrguard/nfrguard/pkg/model"
	"github.com/nfrguard/nfrguard/pkg/rag"
	"github.com/nfrguard/nfrguard/pkg/supervisor"
	"github.com/nfrguard/nfrguard/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envPath := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	flag.Parse()

	httpPort := getEnv("HTTP_PORT", "8080")
	corpusDir := getEnv("CORPUS_DIR", "./corpus")

	slog.Info("Starting NFRGuard",
		"version", version.Full(),
		"http_port", httpPort,
		"corpus_dir", corpusDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load(*envPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. AWS clients: Bedrock for inference, EventBridge/SNS for the
	// optional remote mirror of bus traffic.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("Failed to load AWS configuration", "error", err)
		os.Exit(1)
	}

	invoker := model.NewBedrockInvoker(bedrockruntime.NewFromConfig(awsCfg), cfg.Model)
	mdl := model.NewClient(invoker, cfg.Model)
	slog.Info("Model adapter initialized",
		"completion_model", cfg.Model.CompletionModelID,
		"embedding_model", cfg.Model.EmbeddingModelID)

	// 3. Event bus, with remote forwarding when configured.
	var busOpts []bus.Option
	if busName := os.Getenv("EVENT_BUS_NAME"); busName != "" {
		transport := bus.NewEventBridgeTransport(eventbridge.NewFromConfig(awsCfg), busName)
		busOpts = append(busOpts, bus.WithRemoteTransport(transport))
		slog.Info("EventBridge forwarding enabled", "event_bus", busName)

		if arnPrefix := os.Getenv("SNS_TOPIC_ARN_PREFIX"); arnPrefix != "" {
			fallback := bus.NewSNSTransport(sns.NewFromConfig(awsCfg), arnPrefix)
			busOpts = append(busOpts, bus.WithFallbackTransport(fallback))
			slog.Info("SNS fallback enabled", "arn_prefix", arnPrefix)
		}
	}
	b := bus.New(cfg.Bus, busOpts...)

	// 4. Retrieval index with startup corpus load. An empty or missing
	// corpus directory is not fatal; agents fall back to excerpt-free
	// prompts until documents are ingested through the API.
	index := rag.NewIndex(cfg.Retrieval, mdl)
	if loaded, err := index.LoadCorpus(ctx, corpusDir); err != nil {
		slog.Warn("Corpus load skipped", "dir", corpusDir, "error", err)
	} else {
		slog.Info("Corpus loaded", "documents", loaded, "chunks", index.Len())
	}

	// 5. Supervisor observes all topics before any agent is registered so
	// no pipeline stage escapes tracking.
	sup, err := supervisor.New(cfg.Supervisor)
	if err != nil {
		slog.Error("Failed to create supervisor", "error", err)
		os.Exit(1)
	}
	sup.Attach(b)

	// 6. Agent handlers.
	masker := masking.NewService()
	knowledge := agents.NewKnowledgeAgent(cfg.Agents, mdl, b)

	harness := agents.NewHarness(b, cfg.Agents)
	for _, a := range []agents.Agent{
		agents.NewRiskAgent(cfg.Agents, mdl, index),
		agents.NewComplianceAgent(cfg.Agents, mdl, index),
		agents.NewResilienceAgent(),
		agents.NewSentimentAgent(cfg.Agents, mdl, masker),
		agents.NewPrivacyAgent(masker),
		knowledge,
		agents.NewAssistantAgent(mdl, index),
	} {
		if err := harness.Register(a); err != nil {
			slog.Error("Failed to register agent", "agent", a.Name(), "error", err)
			os.Exit(1)
		}
		slog.Info("Agent registered", "agent", a.Name(), "topics", a.Topics())
	}

	// 7. Ops API.
	httpServer := api.NewServer(b, sup, index, mdl)
	serveCtx, stopServe := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Run(serveCtx, ":"+httpPort)
	}()

	slog.Info("NFRGuard started")

	// 8. Wait for a shutdown signal or a server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop accepting HTTP traffic, detach handlers,
	// drain the bus, then persist whatever dead-lettered.
	stopServe()
	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	case <-time.After(15 * time.Second):
		slog.Warn("HTTP server shutdown timeout exceeded")
	}

	harness.Unregister()
	knowledge.Close()
	b.Close()
	sup.Close()

	if dumpPath := os.Getenv("DEAD_LETTER_DUMP"); dumpPath != "" {
		f, err := os.Create(dumpPath)
		if err != nil {
			slog.Error("Failed to create dead-letter dump", "path", dumpPath, "error", err)
		} else {
			if err := b.DumpDeadLetters(f); err != nil {
				slog.Error("Failed to write dead-letter dump", "path", dumpPath, "error", err)
			}
			f.Close()
		}
	}

	slog.Info("Shutdown complete")
}
