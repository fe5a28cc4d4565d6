package tracing

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type memExporter struct {
	mu       sync.Mutex
	spans    []SpanData
	shutdown bool
}

func (m *memExporter) ExportSpans(_ context.Context, spans []SpanData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = append(m.spans, spans...)
}

func (m *memExporter) Shutdown(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
	return nil
}

func TestCollectorFlushesOnStop(t *testing.T) {
	exp := &memExporter{}
	c := NewCollector()
	c.SetExporter(exp)
	c.Start()

	c.EmitSpan(SpanData{SpanType: SpanDelegateCall, Name: "shell"})
	c.EmitSpan(SpanData{SpanType: SpanLLMCall, Name: "complete"})
	c.Stop()

	exp.mu.Lock()
	defer exp.mu.Unlock()
	if len(exp.spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(exp.spans))
	}
	if !exp.shutdown {
		t.Fatal("exporter not shut down")
	}
	for _, s := range exp.spans {
		if s.ID.String() == "00000000-0000-0000-0000-000000000000" {
			t.Fatal("span ID not assigned")
		}
		if s.StartTime.IsZero() {
			t.Fatal("start time not assigned")
		}
	}
}

func TestCollectorDropsWhenBufferFull(t *testing.T) {
	c := NewCollector() // never started, buffer fills up
	for i := 0; i < defaultBufferSize+10; i++ {
		c.EmitSpan(SpanData{SpanType: SpanReasoningTurn, Name: "turn"})
	}
	// no deadlock is the assertion
}

func TestCollectorTruncatesPreviews(t *testing.T) {
	exp := &memExporter{}
	c := NewCollector()
	c.SetExporter(exp)
	c.Start()

	c.EmitSpan(SpanData{
		Name:          "big",
		InputPreview:  strings.Repeat("a", 2000),
		OutputPreview: strings.Repeat("b", 100),
		StartTime:     time.Now(),
	})
	c.Stop()

	exp.mu.Lock()
	defer exp.mu.Unlock()
	if got := len(exp.spans[0].InputPreview); got > previewMaxLen+3 {
		t.Fatalf("input preview length = %d", got)
	}
	if exp.spans[0].OutputPreview != strings.Repeat("b", 100) {
		t.Fatal("short preview must be untouched")
	}
}
