package audio

import (
	"container/heap"
	"sync"
	"time"

	"github.com/gopxl/beep"

	"voicestream/internal/domain"
)

const resampleQuality = 4

// voice is one scheduled buffer, already converted to the output rate.
type voice struct {
	start   int64
	samples [][2]float64
	seq     uint64
}

func (v *voice) end() int64 { return v.start + int64(len(v.samples)) }

// voiceHeap orders pending voices by start position, FIFO on ties.
type voiceHeap []*voice

func (h voiceHeap) Len() int { return len(h) }

func (h voiceHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h voiceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *voiceHeap) Push(x any) { *h = append(*h, x.(*voice)) }

func (h *voiceHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return v
}

// Timeline is an endless beep.Streamer that plays scheduled buffers at their
// sample position and silence everywhere else. Its clock is the number of
// sample frames streamed so far.
type Timeline struct {
	rate beep.SampleRate

	mu      sync.Mutex
	pos     int64
	seq     uint64
	pending voiceHeap
	active  []*voice
}

func NewTimeline(sampleRate int) *Timeline {
	if sampleRate <= 0 {
		sampleRate = domain.DefaultSampleRate
	}
	return &Timeline{rate: beep.SampleRate(sampleRate)}
}

func (t *Timeline) SampleRate() beep.SampleRate { return t.rate }

func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate.D(int(t.pos))
}

// Play schedules buf to start at the given clock position. A start in the
// past plays from the next streamed frame.
func (t *Timeline) Play(at time.Duration, buf *domain.PlaybackBuffer) {
	samples := t.convert(buf)
	if len(samples) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	start := int64(t.rate.N(at))
	if start < t.pos {
		start = t.pos
	}
	t.seq++
	heap.Push(&t.pending, &voice{start: start, samples: samples, seq: t.seq})
}

// Clear drops every scheduled and playing buffer. The clock keeps running.
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
	t.active = nil
}

// Pending reports how many buffers are scheduled or still playing.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) + len(t.active)
}

func (t *Timeline) Stream(samples [][2]float64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(samples)
	from := t.pos
	to := from + int64(len(samples))

	for t.pending.Len() > 0 && t.pending[0].start < to {
		t.active = append(t.active, heap.Pop(&t.pending).(*voice))
	}

	live := t.active[:0]
	for _, v := range t.active {
		lo := max(v.start, from)
		hi := min(v.end(), to)
		for p := lo; p < hi; p++ {
			s := v.samples[p-v.start]
			out := &samples[p-from]
			out[0] += s[0]
			out[1] += s[1]
		}
		if v.end() > to {
			live = append(live, v)
		}
	}
	clear(t.active[len(live):])
	t.active = live

	for i := range samples {
		samples[i][0] = clamp(samples[i][0])
		samples[i][1] = clamp(samples[i][1])
	}

	t.pos = to
	return len(samples), true
}

func (t *Timeline) Err() error { return nil }

// convert turns an interleaved buffer into stereo frames at the timeline rate.
func (t *Timeline) convert(buf *domain.PlaybackBuffer) [][2]float64 {
	frames := buf.Frames()
	if frames == 0 || buf.SampleRate <= 0 {
		return nil
	}

	src := make([][2]float64, frames)
	for i := range src {
		switch buf.Channels {
		case 1:
			v := float64(buf.Samples[i])
			src[i] = [2]float64{v, v}
		default:
			src[i] = [2]float64{
				float64(buf.Samples[i*buf.Channels]),
				float64(buf.Samples[i*buf.Channels+1]),
			}
		}
	}

	from := beep.SampleRate(buf.SampleRate)
	if from == t.rate {
		return src
	}

	pos := 0
	var source beep.Streamer = beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if pos >= len(src) {
			return 0, false
		}
		n := copy(out, src[pos:])
		pos += n
		return n, true
	})
	resampled := beep.Resample(resampleQuality, from, t.rate, source)

	dst := make([][2]float64, 0, t.rate.N(from.D(frames))+1)
	chunk := make([][2]float64, 512)
	for {
		n, ok := resampled.Stream(chunk)
		dst = append(dst, chunk[:n]...)
		if !ok {
			break
		}
	}
	return dst
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
