package console

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"voicestream/internal/domain"
)

const DefaultBarWidth = 30

// StatusText is the one-line connection summary shown to the user.
func StatusText(s domain.Status) string {
	switch {
	case s.Loading:
		return "Loading, wait..."
	case s.Playing && s.WebSocketReady:
		return "Connected and streaming audio..."
	case s.Playing:
		return "Connecting to WebSocket..."
	default:
		return "We are ready! Make sure to run the server and then start audio."
	}
}

// LevelBar draws level (0-100) as a fixed width meter.
func LevelBar(level float64, width int) string {
	if width <= 0 {
		width = DefaultBarWidth
	}
	if math.IsNaN(level) || level < 0 {
		level = 0
	}
	level = min(level, 100)

	filled := int(math.Round(level / 100 * float64(width)))
	return fmt.Sprintf("[%s%s] %3.0f%%",
		strings.Repeat("#", filled),
		strings.Repeat(" ", width-filled),
		level,
	)
}

// Observer redraws a status line on a terminal whenever it changes.
type Observer struct {
	w     io.Writer
	width int

	mu   sync.Mutex
	last string
}

func NewObserver(w io.Writer, width int) *Observer {
	return &Observer{w: w, width: width}
}

func (o *Observer) OnStatus(s domain.Status) {
	line := StatusText(s)
	if s.Playing {
		line += " " + LevelBar(s.AudioLevel, o.width)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if line == o.last {
		return
	}
	o.last = line
	// carriage return plus erase-line keeps the meter on one row
	fmt.Fprintf(o.w, "\r\033[K%s", line)
}
