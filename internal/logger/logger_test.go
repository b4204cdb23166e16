package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSlogBridgeFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Component: "test"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "abc123")
	log.InfoContext(ctx, "hello", "layer", "parks", "count", int64(3))

	line := buf.String()
	for _, want := range []string{
		`"msg":"hello"`,
		`"level":"info"`,
		`"component":"test"`,
		`"request_id":"abc123"`,
		`"layer":"parks"`,
		`"count":3`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line missing %s: %s", want, line)
		}
	}
}

func TestSlogBridgeWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	log := NewSlog(&zl).With("subsystem", "ingest")

	log.Warn("slow import")

	line := buf.String()
	if !strings.Contains(line, `"subsystem":"ingest"`) {
		t.Fatalf("bound attr missing: %s", line)
	}
	if !strings.Contains(line, `"level":"warn"`) {
		t.Fatalf("level mapping wrong: %s", line)
	}
}

func TestNewIDUnique(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b || len(a) != 16 {
		t.Fatalf("ids = %q %q", a, b)
	}
}
