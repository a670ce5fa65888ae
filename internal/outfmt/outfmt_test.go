package outfmt

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input       string
		expected    Mode
		expectError bool
	}{
		{"text", Text, false},
		{"", Text, false},
		{"json", JSON, false},
		{"jsonl", JSONL, false},
		{"ndjson", JSONL, false},
		{"agent", Text, true},
		{"JSON", Text, true}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			mode, err := Parse(tt.input)
			if tt.expectError != (err != nil) {
				t.Fatalf("Parse(%q) error = %v, expectError %v", tt.input, err, tt.expectError)
			}
			if !tt.expectError && mode != tt.expected {
				t.Errorf("Expected mode %v, got %v", tt.expected, mode)
			}
		})
	}
}

func TestModeContext(t *testing.T) {
	ctx := context.Background()
	if ModeFromContext(ctx) != Text || IsJSON(ctx) {
		t.Error("default mode should be Text")
	}

	jsonCtx := WithMode(ctx, JSON)
	if !IsJSON(jsonCtx) || IsJSONL(jsonCtx) || IsCompact(jsonCtx) {
		t.Error("JSON mode flags are wrong")
	}

	jsonlCtx := WithMode(ctx, JSONL)
	if !IsJSON(jsonlCtx) || !IsJSONL(jsonlCtx) || !IsCompact(jsonlCtx) {
		t.Error("JSONL mode should be JSON, JSONL and compact")
	}

	if !IsCompact(WithCompact(jsonCtx, true)) {
		t.Error("WithCompact(true) should set compact")
	}
}

func TestModeString(t *testing.T) {
	for mode, want := range map[Mode]string{Text: "text", JSON: "json", JSONL: "jsonl"} {
		if got := mode.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", mode, got, want)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, map[string]int{"total": 3}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "{\n  \"total\": 3\n}\n" {
		t.Errorf("WriteJSON output = %q", buf.String())
	}

	buf.Reset()
	if err := WriteJSONMaybeCompact(&buf, map[string]int{"total": 3}, true); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "{\"total\":3}\n" {
		t.Errorf("compact output = %q", buf.String())
	}
}

func TestQueryContext(t *testing.T) {
	if GetQuery(context.Background()) != "" {
		t.Error("query should be empty by default")
	}
	if GetQuery(WithQuery(context.Background(), ".total")) != ".total" {
		t.Error("GetQuery should return the stored query")
	}
}

func TestWriteJSONFiltered(t *testing.T) {
	rows := []map[string]any{{"id": "o1", "unread_count": 2}, {"id": "o2", "unread_count": 1}}

	var buf bytes.Buffer
	if err := WriteJSONFiltered(&buf, rows, "", true); err != nil {
		t.Fatal(err)
	}
	var wrapped map[string][]map[string]any
	if err := json.Unmarshal(buf.Bytes(), &wrapped); err != nil || len(wrapped["items"]) != 2 {
		t.Fatalf("slice should be wrapped in items: %q", buf.String())
	}

	buf.Reset()
	if err := WriteJSONFiltered(&buf, rows, ".items | map(.unread_count) | add", true); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "3" {
		t.Errorf("filtered output = %q", buf.String())
	}

	if err := WriteJSONFiltered(&buf, rows, "[[[", false); err == nil {
		t.Error("expected invalid query error")
	}
}

func TestWriteJSONFiltered_NilSlice(t *testing.T) {
	var rows []string
	var buf bytes.Buffer
	if err := WriteJSONFiltered(&buf, rows, "", true); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != `{"items":[]}` {
		t.Errorf("nil slice output = %q", buf.String())
	}
}

func TestWriteJSONFiltered_RawMessageUnchanged(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSONFiltered(&buf, json.RawMessage(`[1,2]`), "", true); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[1,2]" {
		t.Errorf("raw output = %q", buf.String())
	}
}

func TestWriteRecord(t *testing.T) {
	var buf bytes.Buffer
	ev := map[string]any{"type": "message_inserted", "conversation_id": "o1"}

	if err := WriteRecord(&buf, ev, ""); err != nil {
		t.Fatal(err)
	}
	if err := WriteRecord(&buf, ev, `select(.type == "presence_join")`); err != nil {
		t.Fatal(err)
	}
	if err := WriteRecord(&buf, ev, ".conversation_id"); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || lines[1] != `"o1"` {
		t.Errorf("lines = %q", lines)
	}
}

func TestFormatter(t *testing.T) {
	var out, errOut bytes.Buffer
	f := NewFormatter(context.Background(), &out, &errOut)

	if !f.StartTable([]string{"ID", "UNREAD"}) {
		t.Fatal("StartTable should report text mode")
	}
	f.Row("o1", "2")
	_ = f.EndTable()
	if err := f.Output(map[string]int{"x": 1}); err != nil || strings.Contains(out.String(), `"x"`) {
		t.Error("Output should be a no-op in text mode")
	}
	if !strings.Contains(out.String(), "UNREAD") || !strings.Contains(out.String(), "o1") {
		t.Errorf("table output = %q", out.String())
	}

	f.Empty("No unread conversations")
	if !strings.Contains(errOut.String(), "No unread conversations") {
		t.Error("empty message should go to stderr")
	}
}

func TestFormatter_JSON(t *testing.T) {
	var out bytes.Buffer
	ctx := WithQuery(WithMode(context.Background(), JSON), ".total")
	f := NewFormatter(ctx, &out, &out)

	if f.StartTable([]string{"ID"}) {
		t.Fatal("StartTable should return false in JSON mode")
	}
	if err := f.Output(map[string]int{"total": 4}); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "4" {
		t.Errorf("output = %q", out.String())
	}
}
