package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"trace":   zerolog.TraceLevel,
		"info":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	l := Nop()
	ctx := l.ToContext(context.Background())
	if got := WithContext(ctx, "test"); got != l {
		t.Error("WithContext should return the stored logger")
	}
	if got := WithContext(context.Background(), "test"); got == nil {
		t.Error("WithContext should create a logger when none is stored")
	}
}

func TestJobEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("test", &buf).WithRunID("run-1").WithJob("backup")

	l.LogJobStart("backup", "0 3 * * *", []string{"/bin/bash", "/code/scripts/backup.sh"})
	l.LogJobComplete("backup", 2*time.Second, 0)
	l.LogNextDue("backup", time.Date(2024, time.March, 16, 3, 0, 0, 0, time.UTC))

	dec := json.NewDecoder(&buf)
	var actions []string
	for dec.More() {
		var line map[string]any
		if err := dec.Decode(&line); err != nil {
			t.Fatal(err)
		}
		if line["run_id"] != "run-1" || line["job_name"] != "backup" {
			t.Errorf("missing job context in %v", line)
		}
		actions = append(actions, line["action"].(string))
		if line["action"] == "next_due" && line["next_due_human"] != "Saturday, March 16, 2024 03:00 AM" {
			t.Errorf("next_due_human = %v", line["next_due_human"])
		}
	}

	want := []string{"job_start", "job_complete", "next_due"}
	if len(actions) != len(want) {
		t.Fatalf("actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("action %d = %s, want %s", i, actions[i], want[i])
		}
	}
}
