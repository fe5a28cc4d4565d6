// Package tracing buffers spans emitted by the queue, loop, and speech
// pipeline and flushes them in batches to an external exporter.
package tracing

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultBufferSize    = 1000
	previewMaxLen        = 500
)

// Span types emitted across the daemon.
const (
	SpanRequest       = "request"
	SpanReasoningTurn = "reasoning_turn"
	SpanLLMCall       = "llm_call"
	SpanDelegateCall  = "delegate_call"
	SpanTranscription = "transcription"
	SpanSynthesis     = "synthesis"
)

// SpanData is one timed unit of work inside a request.
type SpanData struct {
	ID            uuid.UUID
	TraceID       uuid.UUID // the request ID
	ParentSpanID  *uuid.UUID
	SpanType      string
	Name          string
	DelegateName  string
	BackendID     string
	Status        string // "ok" or "error"
	Error         string
	InputPreview  string
	OutputPreview string
	StartTime     time.Time
	DurationMS    int
}

// SpanExporter receives batches of spans. Keeping this as an interface
// lets the OTel dependency live in a separate sub-package.
type SpanExporter interface {
	ExportSpans(ctx context.Context, spans []SpanData)
	Shutdown(ctx context.Context) error
}

// Collector buffers spans in memory and periodically flushes them to the
// attached exporter in batches. EmitSpan never blocks the hot path.
type Collector struct {
	spanCh   chan SpanData
	stopCh   chan struct{}
	wg       sync.WaitGroup
	exporter SpanExporter // nil = spans are counted and dropped
}

// NewCollector creates a tracing collector.
func NewCollector() *Collector {
	return &Collector{
		spanCh: make(chan SpanData, defaultBufferSize),
		stopCh: make(chan struct{}),
	}
}

// SetExporter attaches an external span exporter. Call before Start.
func (c *Collector) SetExporter(exp SpanExporter) {
	c.exporter = exp
}

// Start begins the background flush loop.
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.flushLoop()
	slog.Info("tracing collector started")
}

// Stop flushes remaining spans and shuts the exporter down.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()

	if c.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.exporter.Shutdown(ctx); err != nil {
			slog.Warn("tracing: span exporter shutdown failed", "error", err)
		}
	}

	slog.Info("tracing collector stopped")
}

// EmitSpan enqueues a span for async export. Non-blocking: drops the span
// if the buffer is full.
func (c *Collector) EmitSpan(span SpanData) {
	if span.ID == uuid.Nil {
		span.ID = uuid.New()
	}
	if span.StartTime.IsZero() {
		span.StartTime = time.Now().UTC()
	}
	span.InputPreview = truncatePreview(span.InputPreview)
	span.OutputPreview = truncatePreview(span.OutputPreview)

	select {
	case c.spanCh <- span:
	default:
		slog.Warn("tracing: span buffer full, dropping span",
			"span_type", span.SpanType, "name", span.Name)
	}
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stopCh:
			c.flush()
			return
		}
	}
}

func (c *Collector) flush() {
	var spans []SpanData
	for {
		select {
		case span := <-c.spanCh:
			spans = append(spans, span)
		default:
			goto done
		}
	}
done:

	if len(spans) == 0 || c.exporter == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.exporter.ExportSpans(ctx, spans)
	slog.Debug("tracing: flushed spans", "count", len(spans))
}

// truncatePreview sanitizes and truncates a string to previewMaxLen bytes.
func truncatePreview(s string) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= previewMaxLen {
		return s
	}
	maxLen := previewMaxLen
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
