package dryrun

import (
	"bytes"
	"context"
	"testing"
)

func TestIsEnabled(t *testing.T) {
	if IsEnabled(context.Background()) {
		t.Fatal("dry run should be off by default")
	}
	if !IsEnabled(WithDryRun(context.Background(), true)) {
		t.Fatal("dry run should be on")
	}
	if IsEnabled(WithDryRun(context.Background(), false)) {
		t.Fatal("explicit false should stay off")
	}
}

func TestPreviewWrite(t *testing.T) {
	p := &Preview{Action: "notify", Target: "ord_1"}
	p.Add("to", "buyer@example.com").Add("messages waiting", 3).Warn("cooldown ends in %d min", 4)

	var buf bytes.Buffer
	p.Write(&buf)

	want := "[dry-run] would notify ord_1\n" +
		"  to: buyer@example.com\n" +
		"  messages waiting: 3\n" +
		"  ! cooldown ends in 4 min\n" +
		"nothing changed\n"
	if got := buf.String(); got != want {
		t.Fatalf("unexpected preview:\n%s\nwant:\n%s", got, want)
	}
}
