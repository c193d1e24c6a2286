package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"voicestream/internal/domain"
)

type Format string

const (
	FormatPCM Format = "pcm"
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
	FormatOgg Format = "ogg"
)

var ErrUnsupportedPayload = errors.New("unsupported audio payload")

// Sniff guesses the container of an audio payload from its leading bytes.
// A bare MPEG sync word only counts when it starts a Layer III frame that is
// followed by another frame or ends the payload. Anything unrecognised is
// treated as raw 16-bit PCM.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return FormatOgg
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return FormatMP3
	case isMPEGFrame(data):
		return FormatMP3
	default:
		return FormatPCM
	}
}

func isMPEGSync(data []byte) bool {
	return len(data) >= 4 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

var (
	layer3Bitrates = [2][15]int{
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
	}
	mpegSampleRates = [4][3]int{
		{11025, 12000, 8000},  // MPEG 2.5
		{},                    // reserved
		{22050, 24000, 16000}, // MPEG 2
		{44100, 48000, 32000}, // MPEG 1
	}
)

// mpegFrameLen returns the length in bytes of the Layer III frame whose
// header starts data, or 0 if the header is not a usable Layer III header.
func mpegFrameLen(data []byte) int {
	if !isMPEGSync(data) {
		return 0
	}
	version := int(data[1]>>3) & 0x03
	layer := int(data[1]>>1) & 0x03
	bitrateIdx := int(data[2] >> 4)
	rateIdx := int(data[2]>>2) & 0x03
	padding := int(data[2]>>1) & 0x01
	if version == 1 || layer != 1 || bitrateIdx == 0 || bitrateIdx == 15 || rateIdx == 3 {
		return 0
	}

	table, coeff := 0, 144
	if version != 3 {
		table, coeff = 1, 72
	}
	bitrate := layer3Bitrates[table][bitrateIdx] * 1000
	return coeff*bitrate/mpegSampleRates[version][rateIdx] + padding
}

func isMPEGFrame(data []byte) bool {
	n := mpegFrameLen(data)
	switch {
	case n == 0:
		return false
	case len(data) == n:
		return true
	default:
		return len(data) >= n+4 && mpegFrameLen(data[n:]) > 0
	}
}

// Decoder turns received audio payloads into float32 playback buffers.
//
// Payloads arrive inside audio frames and every inbound frame is checked to
// hold whole 16-bit samples for its declared channel count. WAV, MP3 and Ogg
// payloads must therefore also be a multiple of 2*NumChannels bytes; a
// server sending containers should pad them to that length.
type Decoder struct {
	logger *slog.Logger
}

func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

func (d *Decoder) Decode(ctx context.Context, frame *domain.AudioFrame) (*domain.PlaybackBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame == nil || len(frame.Samples) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrMalformedFrame)
	}

	format := Sniff(frame.Samples)
	var (
		buf *domain.PlaybackBuffer
		err error
	)
	switch format {
	case FormatWAV:
		buf, err = decodeWAV(frame.Samples)
	case FormatOgg:
		buf, err = decodeOgg(frame.Samples)
	case FormatMP3:
		buf, err = decodeMP3(ctx, frame.Samples)
		if err != nil && ctx.Err() == nil && isMPEGSync(frame.Samples) {
			// 0xFFEx is also a perfectly good pair of PCM samples
			d.logger.Debug("payload is not mp3, falling back to pcm", "error", err)
			format = FormatPCM
			buf, err = decodePCM(frame)
		}
	default:
		buf, err = decodePCM(frame)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", format, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodePCM(frame *domain.AudioFrame) (*domain.PlaybackBuffer, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	data := frame.Samples
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(data[2*i:]))) / 32768
	}
	return &domain.PlaybackBuffer{
		Samples:    samples,
		SampleRate: frame.SampleRate,
		Channels:   frame.NumChannels,
	}, nil
}

// recoverDecode turns a panic inside a third-party decoder into an error.
// The MP3 and WAV decoders index into headers they have not fully checked.
func recoverDecode(format Format, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s decoder panicked: %v", ErrUnsupportedPayload, format, r)
	}
}

// checkRIFF walks the chunk headers of a WAV payload and rejects any chunk
// that claims more bytes than the payload holds. go-audio allocates whatever
// a chunk header declares.
func checkRIFF(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("%w: short riff header", ErrUnsupportedPayload)
	}
	var haveFmt, haveData bool
	rest := data[12:]
	for len(rest) >= 8 {
		id := string(rest[:4])
		size := uint64(binary.LittleEndian.Uint32(rest[4:8]))
		rest = rest[8:]
		if size > uint64(len(rest)) {
			return fmt.Errorf("%w: %q chunk claims %d bytes, %d left", ErrUnsupportedPayload, id, size, len(rest))
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return fmt.Errorf("%w: fmt chunk of %d bytes", ErrUnsupportedPayload, size)
			}
			haveFmt = true
		case "data":
			haveData = true
		}
		if size%2 == 1 && size < uint64(len(rest)) {
			size++
		}
		rest = rest[size:]
	}
	if !haveFmt || !haveData {
		return fmt.Errorf("%w: wav without fmt and data chunks", ErrUnsupportedPayload)
	}
	return nil
}

func decodeWAV(data []byte) (_ *domain.PlaybackBuffer, err error) {
	defer recoverDecode(FormatWAV, &err)

	if err := checkRIFF(data); err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav header", ErrUnsupportedPayload)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading wav samples: %w", err)
	}
	if pcm.Format == nil || pcm.Format.NumChannels <= 0 || pcm.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: wav without format", ErrUnsupportedPayload)
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%w: wav format %d", ErrUnsupportedPayload, dec.WavAudioFormat)
	}

	depth := int(dec.BitDepth)
	samples := make([]float32, len(pcm.Data))
	switch depth {
	case 8:
		for i, v := range pcm.Data {
			samples[i] = float32(v-128) / 128
		}
	case 16, 24, 32:
		scale := float32(int64(1) << (depth - 1))
		for i, v := range pcm.Data {
			samples[i] = float32(v) / scale
		}
	default:
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedPayload, depth)
	}

	return &domain.PlaybackBuffer{
		Samples:    samples,
		SampleRate: pcm.Format.SampleRate,
		Channels:   pcm.Format.NumChannels,
	}, nil
}

// checkID3 rejects an ID3v2 tag whose declared size runs past the payload.
func checkID3(data []byte) error {
	if len(data) < 3 || string(data[:3]) != "ID3" {
		return nil
	}
	if len(data) < 10 {
		return fmt.Errorf("%w: short id3 header", ErrUnsupportedPayload)
	}
	var size int
	for _, b := range data[6:10] {
		if b&0x80 != 0 {
			return fmt.Errorf("%w: id3 size is not syncsafe", ErrUnsupportedPayload)
		}
		size = size<<7 | int(b)
	}
	if 10+size > len(data) {
		return fmt.Errorf("%w: id3 tag claims %d bytes, %d left", ErrUnsupportedPayload, size, len(data)-10)
	}
	return nil
}

func decodeMP3(ctx context.Context, data []byte) (_ *domain.PlaybackBuffer, err error) {
	defer recoverDecode(FormatMP3, &err)

	if err := checkID3(data); err != nil {
		return nil, err
	}
	dec, err := gomp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening mp3: %w", err)
	}

	// go-mp3 always yields interleaved stereo s16le.
	var samples []float32
	chunk := make([]byte, 8192)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := dec.Read(chunk)
		for i := 0; i+1 < n; i += 2 {
			samples = append(samples, float32(int16(binary.LittleEndian.Uint16(chunk[i:])))/32768)
		}
		if errors.Is(err, io.EOF) || (n == 0 && err == nil) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading mp3: %w", err)
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: mp3 without audio", ErrUnsupportedPayload)
	}

	return &domain.PlaybackBuffer{
		Samples:    samples,
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}, nil
}

func decodeOgg(data []byte) (_ *domain.PlaybackBuffer, err error) {
	defer recoverDecode(FormatOgg, &err)

	samples, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading ogg vorbis: %w", err)
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: ogg without format", ErrUnsupportedPayload)
	}
	return &domain.PlaybackBuffer{
		Samples:    samples,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}, nil
}
