package audio

import (
	"context"
	"time"

	"voicestream/internal/domain"
)

const DefaultBufferSize = 1024

// DiscardOutput renders the timeline against the wall clock and throws the
// samples away. It keeps the audio clock moving on hosts without a sound
// card.
type DiscardOutput struct {
	*Timeline
	bufferSize int
}

func NewDiscardOutput(sampleRate, bufferSize int) *DiscardOutput {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if sampleRate <= 0 {
		sampleRate = domain.DefaultSampleRate
	}
	return &DiscardOutput{
		Timeline:   NewTimeline(sampleRate),
		bufferSize: bufferSize,
	}
}

func (d *DiscardOutput) Name() string {
	return "discard"
}

func (d *DiscardOutput) Run(ctx context.Context) error {
	buf := make([][2]float64, d.bufferSize)
	period := d.rate.D(d.bufferSize)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	start := time.Now()
	rendered := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		due := d.rate.N(time.Since(start)) - rendered
		for due > 0 {
			n := min(due, len(buf))
			d.Stream(buf[:n])
			rendered += n
			due -= n
		}
	}
}
