package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/voxd/internal/agent"
	"github.com/nextlevelbuilder/voxd/internal/assets"
	"github.com/nextlevelbuilder/voxd/internal/backend"
	"github.com/nextlevelbuilder/voxd/internal/bus"
	"github.com/nextlevelbuilder/voxd/internal/config"
	"github.com/nextlevelbuilder/voxd/internal/delegate"
	"github.com/nextlevelbuilder/voxd/internal/gateway"
	"github.com/nextlevelbuilder/voxd/internal/mcp"
	"github.com/nextlevelbuilder/voxd/internal/providers"
	"github.com/nextlevelbuilder/voxd/internal/queue"
	"github.com/nextlevelbuilder/voxd/internal/speech"
	"github.com/nextlevelbuilder/voxd/internal/store"
	"github.com/nextlevelbuilder/voxd/internal/stt"
	"github.com/nextlevelbuilder/voxd/internal/tracing"
	"github.com/nextlevelbuilder/voxd/internal/tracing/otelexport"
	"github.com/nextlevelbuilder/voxd/internal/tts"
	"github.com/nextlevelbuilder/voxd/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the voxd daemon",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runServe(); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}
		},
	}
}

func runServe() error {
	cfg := loadConfig()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New()

	// Delegates the reasoning loop can call.
	table := delegate.NewTable()
	if cfg.Agent.RateLimitPerMin > 0 {
		table.SetRateLimit(cfg.Agent.RateLimitPerMin, 0)
	}
	if cfg.Agent.ShellDelegate {
		table.Register(delegate.NewShellDelegate(cfg.DataDir))
	}

	var mcpServers []*mcp.Server
	for _, srv := range cfg.MCP {
		s, err := mcp.Connect(ctx, srv.Name, srv.Command, srv.Args, srv.Env, table)
		if err != nil {
			slog.Warn("mcp server unavailable", "server", srv.Name, "error", err)
			continue
		}
		mcpServers = append(mcpServers, s)
	}
	defer func() {
		for _, s := range mcpServers {
			s.Close(table)
		}
	}()

	// Reasoning loop over an OpenAI-compatible completion backend.
	client := providers.NewOpenAIClient(providers.OpenAIConfig{
		Name:        cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		APIBase:     cfg.LLM.APIBase,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	})
	var reasonerOpts []providers.ReasonerOption
	if cfg.Agent.SystemInstructions != "" {
		reasonerOpts = append(reasonerOpts, providers.WithSystemInstructions(cfg.Agent.SystemInstructions))
	}
	reasoner := providers.NewReasoner(client, table, reasonerOpts...)
	loop := agent.NewLoop("main", reasoner, table, agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		TurnTimeout:   time.Duration(cfg.Agent.TurnTimeoutSec) * time.Second,
		WallClock:     time.Duration(cfg.Agent.WallClockSec) * time.Second,
	})

	// Request history.
	var queueOpts []queue.Option
	if cfg.Queue.Cap > 0 {
		queueOpts = append(queueOpts, queue.WithCap(cfg.Queue.Cap))
	}
	var history *store.HistoryStore
	if cfg.Store.Enabled {
		h, err := store.Open(cfg.StorePath())
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer h.Close()
		history = h
		queueOpts = append(queueOpts, queue.WithHistory(history))
	}

	// The queue is the only caller of the loop, so runs never overlap.
	q := queue.New(b, func(ctx context.Context, input string, onTurn agent.TurnHandler) (*agent.RunResult, error) {
		loop.SetTurnHandler(onTurn)
		return loop.Run(ctx, input)
	}, queueOpts...)
	q.Start(ctx)

	// Speech backend registries.
	fetcher, err := buildFetcher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("asset fetcher: %w", err)
	}
	sttReg := buildSTTRegistry(cfg, fetcher)
	ttsReg := buildTTSRegistry(cfg, fetcher)
	for _, reg := range []interface {
		SetStateHandler(backend.StateHandler)
		SetSelectHandler(func(family, id string))
	}{sttReg, ttsReg} {
		reg.SetStateHandler(func(family, id string, state backend.State, reason string) {
			b.Publish(backendEventType(state), "", map[string]interface{}{
				"family": family, "id": id, "state": state, "reason": reason,
			})
		})
		reg.SetSelectHandler(func(family, id string) {
			b.Publish(protocol.BackendEventSelected, "", map[string]interface{}{
				"family": family, "id": id,
			})
		})
	}
	sttReg.InitializeAll(ctx)
	ttsReg.InitializeAll(ctx)

	pipeline := speech.New(sttReg, ttsReg, func(ctx context.Context, transcript string) (string, error) {
		return reasonViaQueue(ctx, b, q, transcript)
	})

	// Tracing.
	collector := tracing.NewCollector()
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint != "" {
		exp, err := otelexport.New(ctx, otelexport.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			Insecure:    cfg.Tracing.Insecure,
			ServiceName: cfg.Tracing.Service,
		})
		if err != nil {
			slog.Warn("otel exporter unavailable", "error", err)
		} else {
			collector.SetExporter(exp)
			slog.Info("otlp export enabled", "endpoint", cfg.Tracing.Endpoint)
		}
	}
	collector.Start()
	defer collector.Stop()
	b.Subscribe("tracing", traceEvents(collector))

	// Config hot reload: apply what can change at runtime.
	if watcher, err := config.NewWatcher(resolveConfigPath()); err == nil {
		watcher.OnChange(func(next *config.Config) {
			if next.Agent.RateLimitPerMin > 0 {
				table.SetRateLimit(next.Agent.RateLimitPerMin, 0)
			}
			slog.Info("configuration reloaded")
		})
		if err := watcher.Start(); err != nil {
			slog.Debug("config watcher not started", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	gw := gateway.NewServer(gateway.Config{
		Addr:            cfg.Listen,
		Token:           cfg.AuthToken,
		RateLimitPerMin: cfg.Agent.RateLimitPerMin,
	}, q, b, sttReg, ttsReg)
	gw.SetSpeechPipeline(pipeline)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start(ctx) }()
	slog.Info("voxd serving", "addr", cfg.Listen, "delegates", table.Count())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		slog.Warn("gateway shutdown", "error", err)
	}
	q.Wait()
	return nil
}

// buildFetcher creates the model asset source, or nil when none is
// configured (local backends are then skipped).
func buildFetcher(ctx context.Context, cfg *config.Config) (assets.Fetcher, error) {
	switch cfg.Assets.Source {
	case "s3":
		return assets.NewS3Fetcher(ctx, assets.S3Config{
			Bucket:    cfg.Assets.Bucket,
			Prefix:    cfg.Assets.Prefix,
			Region:    cfg.Assets.Region,
			Endpoint:  cfg.Assets.Endpoint,
			AccessKey: cfg.Assets.AccessKey,
			SecretKey: cfg.Assets.SecretKey,
		})
	default:
		if cfg.Assets.BaseURL == "" {
			return nil, nil
		}
		return assets.NewHTTPFetcher(cfg.Assets.BaseURL), nil
	}
}

func buildSTTRegistry(cfg *config.Config, fetcher assets.Fetcher) *backend.Registry[stt.Transcriber] {
	reg := backend.NewRegistry[stt.Transcriber]("stt", cfg.STT.Preferred)
	kv := cfg.STT.Backends

	whisper := kv["whisper_api"]
	reg.Register(stt.NewWhisperAPITranscriber(stt.WhisperAPIConfig{
		APIKey:  firstNonEmpty(whisper["api_key"], cfg.LLM.APIKey),
		APIBase: whisper["api_base"],
		Model:   whisper["model"],
	}))

	if fetcher != nil {
		local := kv["local_asr"]
		reg.Register(stt.NewLocalTranscriber(fetcher, stt.LocalConfig{
			ModelName: local["model"],
			DataDir:   cfg.DataDir,
			Binary:    local["binary"],
		}))
	}
	return reg
}

func buildTTSRegistry(cfg *config.Config, fetcher assets.Fetcher) *backend.Registry[tts.Synthesizer] {
	reg := backend.NewRegistry[tts.Synthesizer]("tts", cfg.TTS.Preferred)
	kv := cfg.TTS.Backends

	openai := kv["openai"]
	reg.Register(tts.NewOpenAISynthesizer(tts.OpenAIConfig{
		APIKey:  firstNonEmpty(openai["api_key"], cfg.LLM.APIKey),
		APIBase: openai["api_base"],
		Model:   openai["model"],
		Voice:   openai["voice"],
	}))

	if eleven := kv["elevenlabs"]; eleven["api_key"] != "" {
		reg.Register(tts.NewElevenLabsSynthesizer(tts.ElevenLabsConfig{
			APIKey:  eleven["api_key"],
			BaseURL: eleven["base_url"],
			VoiceID: eleven["voice_id"],
			ModelID: eleven["model_id"],
		}))
	}

	edge := kv["edge"]
	reg.Register(tts.NewEdgeSynthesizer(tts.EdgeConfig{
		Voice: edge["voice"],
		Rate:  edge["rate"],
	}))

	if fetcher != nil {
		local := kv["local_tts"]
		reg.Register(tts.NewLocalSynthesizer(fetcher, tts.LocalConfig{
			ModelName: local["model"],
			DataDir:   cfg.DataDir,
			Binary:    local["binary"],
		}))
	}
	return reg
}

func backendEventType(state backend.State) string {
	switch state {
	case backend.StateInitializing:
		return protocol.BackendEventInitializing
	case backend.StateReady:
		return protocol.BackendEventReady
	default:
		return protocol.BackendEventFailed
	}
}

// reasonViaQueue routes a speech transcript through the orchestration
// queue so voice requests obey the same single-run ordering as text ones.
func reasonViaQueue(ctx context.Context, b *bus.Bus, q *queue.Queue, transcript string) (string, error) {
	req, err := q.Submit(transcript)
	if err != nil {
		return "", err
	}

	done := make(chan struct{}, 1)
	subID := "speech-" + req.ID
	b.Subscribe(subID, func(ev bus.Event) {
		if ev.RequestID != req.ID {
			return
		}
		switch ev.Type {
		case protocol.RequestEventSucceeded, protocol.RequestEventFailed, protocol.RequestEventCancelled:
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	defer b.Unsubscribe(subID)

	// The request may already be terminal by the time we subscribed.
	for {
		rec, err := q.Get(req.ID)
		if err != nil {
			return "", err
		}
		if rec.Status.Terminal() {
			if rec.Status == queue.StatusSucceeded {
				return rec.Answer, nil
			}
			return "", fmt.Errorf("request %s: %s", rec.Status, rec.Reason)
		}
		select {
		case <-ctx.Done():
			q.Cancel(req.ID)
			return "", ctx.Err()
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

// traceEvents converts bus events into spans for the collector.
func traceEvents(c *tracing.Collector) bus.Handler {
	return func(ev bus.Event) {
		switch ev.Type {
		case protocol.RequestEventSucceeded, protocol.RequestEventFailed, protocol.RequestEventCancelled:
			span := tracing.SpanData{
				SpanType: tracing.SpanRequest,
				Name:     ev.Type,
				Status:   "ok",
			}
			if tid, err := uuid.Parse(ev.RequestID); err == nil {
				span.TraceID = tid
			}
			if rec, ok := ev.Payload.(queue.Request); ok {
				span.StartTime = rec.StartedAt
				span.DurationMS = int(rec.FinishedAt.Sub(rec.StartedAt).Milliseconds())
				span.InputPreview = rec.Input
				span.OutputPreview = rec.Answer
				if rec.Status != queue.StatusSucceeded {
					span.Status = "error"
					span.Error = rec.Reason
				}
			}
			c.EmitSpan(span)
		case protocol.EventTurn:
			span := tracing.SpanData{
				SpanType: tracing.SpanReasoningTurn,
				Name:     "turn",
				Status:   "ok",
			}
			if tid, err := uuid.Parse(ev.RequestID); err == nil {
				span.TraceID = tid
			}
			if turn, ok := ev.Payload.(agent.Turn); ok {
				span.InputPreview = turn.Observation
				span.OutputPreview = turn.Response
				if turn.Call != nil {
					span.DelegateName = turn.Call.Name
				}
				if turn.ResultIsError {
					span.Status = "error"
				}
			}
			c.EmitSpan(span)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
