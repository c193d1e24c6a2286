package domain

import "fmt"

type FrameKind string

const (
	FrameKindAudio         FrameKind = "audio"
	FrameKindText          FrameKind = "text"
	FrameKindTranscription FrameKind = "transcription"
	FrameKindMessage       FrameKind = "message"
)

// Frame is one discrete message of the transport schema. The concrete types
// below are the only implementations.
type Frame interface {
	Kind() FrameKind
	Validate() error
}

// AudioFrame carries little-endian 16-bit PCM (or a container the receiver
// can sniff) together with its sample rate and channel count.
type AudioFrame struct {
	ID          uint64
	Name        string
	Samples     []byte
	SampleRate  int
	NumChannels int
	PTS         uint64
}

// NewAudioFrame copies samples into a validated frame.
func NewAudioFrame(samples []byte, sampleRate, numChannels int) (*AudioFrame, error) {
	f := &AudioFrame{
		Samples:     append([]byte(nil), samples...),
		SampleRate:  sampleRate,
		NumChannels: numChannels,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *AudioFrame) Kind() FrameKind { return FrameKindAudio }

func (f *AudioFrame) Validate() error {
	if f.NumChannels <= 0 {
		return fmt.Errorf("%w: audio frame has %d channels", ErrMalformedFrame, f.NumChannels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: audio frame has sample rate %d", ErrMalformedFrame, f.SampleRate)
	}
	if len(f.Samples) == 0 {
		return fmt.Errorf("%w: empty audio payload", ErrMalformedFrame)
	}
	if len(f.Samples)%(2*f.NumChannels) != 0 {
		return fmt.Errorf("%w: %d payload bytes not a multiple of %d",
			ErrMalformedFrame, len(f.Samples), 2*f.NumChannels)
	}
	return nil
}

// SampleCount returns the number of samples per channel in the payload,
// assuming raw 16-bit PCM.
func (f *AudioFrame) SampleCount() int {
	if f.NumChannels <= 0 {
		return 0
	}
	return len(f.Samples) / (2 * f.NumChannels)
}

type TextFrame struct {
	ID   uint64
	Name string
	Text string
}

func (f *TextFrame) Kind() FrameKind { return FrameKindText }

func (f *TextFrame) Validate() error { return nil }

type TranscriptionFrame struct {
	ID        uint64
	Name      string
	Text      string
	UserID    string
	Timestamp string
}

func (f *TranscriptionFrame) Kind() FrameKind { return FrameKindTranscription }

func (f *TranscriptionFrame) Validate() error { return nil }

type MessageFrame struct {
	Data string
}

func (f *MessageFrame) Kind() FrameKind { return FrameKindMessage }

func (f *MessageFrame) Validate() error { return nil }

// AsAudio returns the audio variant of f, or false for every other variant.
func AsAudio(f Frame) (*AudioFrame, bool) {
	a, ok := f.(*AudioFrame)
	return a, ok && a != nil
}
