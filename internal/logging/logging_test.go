package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)
	logger.Info("dropped")
	logger.Warn("kept", "user_id", "user-1")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	if lines[0]["msg"] != "kept" || lines[0]["user_id"] != "user-1" {
		t.Fatalf("unexpected entry %v", lines[0])
	}
	if _, ok := lines[0]["source"]; !ok {
		t.Fatal("expected source attribute")
	}
}

func TestSpanCarriesTraceAndParent(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), New(&buf, slog.LevelDebug))

	ctx, parent := StartSpan(ctx, "submit")
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		t.Fatal("expected a trace id")
	}
	parentID := SpanIDFromContext(ctx)

	childCtx, child := StartSpan(ctx, "provider")
	if TraceIDFromContext(childCtx) != traceID {
		t.Fatal("expected child span to share the trace id")
	}
	child.EndErr(errors.New("boom"))
	parent.End()

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(lines))
	}
	if lines[0]["level"] != "ERROR" || lines[0]["parent_span_id"] != parentID || lines[0]["error"] != "boom" {
		t.Fatalf("unexpected child entry %v", lines[0])
	}
	if lines[1]["msg"] != "span completed" || lines[1]["trace_id"] != traceID {
		t.Fatalf("unexpected parent entry %v", lines[1])
	}
}

func TestDetachDropsCancellation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	parent, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	parent = WithLogger(parent, logger)
	parent = WithRequestID(parent, "req-1")
	parent = WithTraceID(parent, "trace-1")
	cancel()

	detached := Detach(parent)
	if detached.Err() != nil {
		t.Fatal("expected detached context to be live")
	}
	if FromContext(detached) != logger {
		t.Fatal("expected logger to carry over")
	}
	if RequestIDFromContext(detached) != "req-1" || TraceIDFromContext(detached) != "trace-1" {
		t.Fatal("expected identifiers to carry over")
	}
}

func TestNilSpanIsSafe(t *testing.T) {
	var s *Span
	s.End()
	if s.Logger() == nil {
		t.Fatal("expected default logger")
	}
}
