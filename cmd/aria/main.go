package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/antoniostano/aria/internal/audio"
	"github.com/antoniostano/aria/internal/config"
	"github.com/antoniostano/aria/internal/conversation"
	"github.com/antoniostano/aria/internal/dispatch"
	"github.com/antoniostano/aria/internal/httpapi"
	"github.com/antoniostano/aria/internal/memory"
	"github.com/antoniostano/aria/internal/observability"
	"github.com/antoniostano/aria/internal/orchestrator"
	"github.com/antoniostano/aria/internal/policy"
	"github.com/antoniostano/aria/internal/protocol"
	"github.com/antoniostano/aria/internal/summary"
	"github.com/antoniostano/aria/internal/tools"
	"github.com/antoniostano/aria/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewStageWindow(256)
	redactor := policy.NewRedactor(cfg.RedactPII)

	ctx := context.Background()
	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("transcript store init failed: %v", err)
	}
	defer store.Close()

	registry := tools.NewRegistry(cfg.ToolTimeout)
	if err := registry.Register(&tools.ClockTool{}); err != nil {
		log.Fatalf("register clock tool: %v", err)
	}
	if err := registry.Register(&tools.HTTPGetTool{}); err != nil {
		log.Fatalf("register http_get tool: %v", err)
	}

	sessionCfg := protocol.SessionConfig{
		Voice:              cfg.VoiceName,
		Modalities:         []string{"audio", "text"},
		InputAudioFormat:   "pcm16",
		OutputAudioFormat:  "pcm16",
		TranscriptionModel: cfg.TranscribeModel,
		Tools:              registry.Specs(),
	}

	dispatcher := dispatch.New()
	client, err := transport.NewClient(transport.Config{
		URL:               cfg.RealtimeURL,
		APIKey:            cfg.APIKey,
		Model:             cfg.RealtimeModel,
		Session:           sessionCfg,
		SendQueueDepth:    cfg.SendQueueDepth,
		AudioQueueFrames:  cfg.OutboundAudioFrames,
		BackoffBase:       cfg.BackoffBase,
		BackoffMax:        cfg.BackoffMax,
		StabilityWindow:   cfg.StabilityWindow,
		KeepaliveInterval: cfg.KeepaliveInterval,
		KeepaliveTimeout:  cfg.KeepaliveTimeout,
	}, dispatcher, metrics)
	if err != nil {
		log.Fatalf("transport init failed: %v", err)
	}

	state := conversation.NewState(redactor)
	summarizer := summary.NewOpenAISummarizer(summary.Config{
		BaseURL: cfg.SummaryBaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.SummaryModel,
	})
	compactor := conversation.NewCompactor(state, conversation.Policy{
		TokenThreshold: cfg.SummaryTriggerTokens,
		TurnThreshold:  cfg.SummaryTriggerTurns,
		KeepLastTurns:  cfg.KeepLastTurns,
		DebounceTurns:  cfg.SummaryDebounceTurns,
		Language:       cfg.LanguagePolicy,
	}, summarizer, client, cfg.SummaryTimeout)

	source := audio.NewSource(audio.SourceConfig{
		SampleRateHz: cfg.SampleRateHz,
		FrameBytes:   cfg.FrameBytes(),
		QueueFrames:  cfg.CaptureQueueFrames,
	}, &audio.FFmpegInput{})
	sink := audio.NewSink(audio.SinkConfig{
		SampleRateHz: cfg.SampleRateHz,
		QueueChunks:  cfg.PlaybackQueueChunks,
		Warmup:       cfg.JitterWarmup,
	}, &audio.FFplayOutput{})

	engine := orchestrator.NewEngine(orchestrator.Config{
		SessionID: uuid.NewString(),
		Redact:    redactor,
	}, client, sink, state, compactor, registry, store, metrics, stages)
	engine.RegisterHandlers(dispatcher)

	if err := sink.Start(); err != nil {
		log.Fatalf("audio output init failed: %v", err)
	}
	defer sink.Stop()
	if err := source.Start(); err != nil {
		log.Fatalf("audio capture init failed: %v", err)
	}
	defer source.Stop()

	client.Start()
	engine.PumpAudio(source)

	go func() {
		select {
		case <-ctx.Done():
		case <-source.Done():
			log.Printf("audio capture lost, continuing without microphone: %v", source.Err())
		}
	}()

	api := httpapi.New(cfg, state, stages, func() string {
		return string(client.State())
	})
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}
	go func() {
		log.Printf("diagnostics listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	// Push-to-talk: an empty line on stdin ends the user's turn.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		log.Printf("press Enter to end your turn")
		for scanner.Scan() {
			if err := engine.CommitTurn(ctx); err != nil {
				log.Printf("commit turn: %v", err)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	engine.Stop()
	_ = client.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
