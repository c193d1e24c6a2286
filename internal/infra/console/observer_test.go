package console_test

import (
	"bytes"
	"strings"
	"testing"

	"voicestream/internal/domain"
	"voicestream/internal/infra/console"
)

func TestStatusText(t *testing.T) {
	tests := []struct {
		name   string
		status domain.Status
		want   string
	}{
		{"loading", domain.Status{Loading: true, Playing: true}, "Loading, wait..."},
		{"streaming", domain.Status{Playing: true, WebSocketReady: true}, "Connected and streaming audio..."},
		{"connecting", domain.Status{Playing: true}, "Connecting to WebSocket..."},
		{"idle", domain.Status{}, "We are ready! Make sure to run the server and then start audio."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := console.StatusText(tt.status); got != tt.want {
				t.Errorf("StatusText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLevelBar(t *testing.T) {
	tests := []struct {
		level float64
		want  string
	}{
		{0, "[          ]   0%"},
		{50, "[#####     ]  50%"},
		{100, "[##########] 100%"},
		{250, "[##########] 100%"},
		{-3, "[          ]   0%"},
	}

	for _, tt := range tests {
		if got := console.LevelBar(tt.level, 10); got != tt.want {
			t.Errorf("LevelBar(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestObserver_SkipsUnchangedLines(t *testing.T) {
	var buf bytes.Buffer
	o := console.NewObserver(&buf, 10)

	o.OnStatus(domain.Status{Playing: true, AudioLevel: 50})
	o.OnStatus(domain.Status{Playing: true, AudioLevel: 50})
	o.OnStatus(domain.Status{Playing: true, WebSocketReady: true, AudioLevel: 50})

	out := buf.String()
	if n := strings.Count(out, "\r"); n != 2 {
		t.Errorf("expected 2 redraws, got %d in %q", n, out)
	}
	if !strings.Contains(out, "Connected and streaming audio... [#####     ]  50%") {
		t.Errorf("missing streaming line in %q", out)
	}
}
