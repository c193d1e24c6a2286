package pipecat

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"voicestream/internal/domain"
)

// Codec encodes domain frames as the dynamic pipecat Frame message. It holds
// only descriptors and is safe for concurrent use.
type Codec struct {
	frame protoreflect.MessageDescriptor
	oneof protoreflect.OneofDescriptor

	audio         protoreflect.FieldDescriptor
	text          protoreflect.FieldDescriptor
	transcription protoreflect.FieldDescriptor
	message       protoreflect.FieldDescriptor
}

// NewCodec checks that md has the audio variant the pipeline depends on.
// The control variants are optional.
func NewCodec(md protoreflect.MessageDescriptor) (*Codec, error) {
	c := &Codec{frame: md}

	c.audio = md.Fields().ByName("audio")
	if c.audio == nil || c.audio.Message() == nil {
		return nil, fmt.Errorf("%s has no audio message field", md.FullName())
	}
	c.oneof = c.audio.ContainingOneof()
	if c.oneof == nil {
		return nil, fmt.Errorf("%s.audio is not part of a oneof", md.FullName())
	}

	audio := c.audio.Message()
	if err := expectKind(audio, "audio", protoreflect.BytesKind); err != nil {
		return nil, err
	}
	for _, name := range []protoreflect.Name{"sample_rate", "num_channels"} {
		if err := expectInteger(audio, name); err != nil {
			return nil, err
		}
	}

	c.text = variantField(md, c.oneof, "text")
	c.transcription = variantField(md, c.oneof, "transcription")
	c.message = variantField(md, c.oneof, "message")
	return c, nil
}

func (c *Codec) Encode(f domain.Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", domain.ErrMalformedFrame)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.Kind(), err)
	}

	var (
		fd    protoreflect.FieldDescriptor
		inner *dynamicpb.Message
	)
	switch v := f.(type) {
	case *domain.AudioFrame:
		fd = c.audio
		inner = dynamicpb.NewMessage(fd.Message())
		setNumber(inner, "id", v.ID)
		setString(inner, "name", v.Name)
		inner.Set(fd.Message().Fields().ByName("audio"), protoreflect.ValueOfBytes(v.Samples))
		setNumber(inner, "sample_rate", uint64(v.SampleRate))
		setNumber(inner, "num_channels", uint64(v.NumChannels))
		setNumber(inner, "pts", v.PTS)
	case *domain.TextFrame:
		if fd = c.text; fd == nil {
			return nil, fmt.Errorf("schema %s has no text variant", c.frame.FullName())
		}
		inner = dynamicpb.NewMessage(fd.Message())
		setNumber(inner, "id", v.ID)
		setString(inner, "name", v.Name)
		setString(inner, "text", v.Text)
	case *domain.TranscriptionFrame:
		if fd = c.transcription; fd == nil {
			return nil, fmt.Errorf("schema %s has no transcription variant", c.frame.FullName())
		}
		inner = dynamicpb.NewMessage(fd.Message())
		setNumber(inner, "id", v.ID)
		setString(inner, "name", v.Name)
		setString(inner, "text", v.Text)
		setString(inner, "user_id", v.UserID)
		setString(inner, "timestamp", v.Timestamp)
	case *domain.MessageFrame:
		if fd = c.message; fd == nil {
			return nil, fmt.Errorf("schema %s has no message variant", c.frame.FullName())
		}
		inner = dynamicpb.NewMessage(fd.Message())
		setString(inner, "data", v.Data)
	default:
		return nil, fmt.Errorf("unsupported frame type %T", f)
	}

	msg := dynamicpb.NewMessage(c.frame)
	msg.Set(fd, protoreflect.ValueOfMessage(inner))

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s frame: %w", f.Kind(), err)
	}
	return data, nil
}

// Decode returns an error wrapping domain.ErrMalformedFrame for anything that
// is not a valid, populated frame.
func (c *Codec) Decode(data []byte) (domain.Frame, error) {
	msg := dynamicpb.NewMessage(c.frame)
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedFrame, err)
	}

	fd := msg.WhichOneof(c.oneof)
	if fd == nil {
		return nil, fmt.Errorf("%w: no frame variant set", domain.ErrMalformedFrame)
	}
	inner := msg.Get(fd).Message()

	switch fd.Name() {
	case "audio":
		raw := inner.Get(inner.Descriptor().Fields().ByName("audio")).Bytes()
		f := &domain.AudioFrame{
			ID:          getNumber(inner, "id"),
			Name:        getString(inner, "name"),
			Samples:     append([]byte(nil), raw...),
			SampleRate:  int(getNumber(inner, "sample_rate")),
			NumChannels: int(getNumber(inner, "num_channels")),
			PTS:         getNumber(inner, "pts"),
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
		return f, nil
	case "text":
		return &domain.TextFrame{
			ID:   getNumber(inner, "id"),
			Name: getString(inner, "name"),
			Text: getString(inner, "text"),
		}, nil
	case "transcription":
		return &domain.TranscriptionFrame{
			ID:        getNumber(inner, "id"),
			Name:      getString(inner, "name"),
			Text:      getString(inner, "text"),
			UserID:    getString(inner, "user_id"),
			Timestamp: getString(inner, "timestamp"),
		}, nil
	case "message":
		return &domain.MessageFrame{Data: getString(inner, "data")}, nil
	default:
		return nil, fmt.Errorf("%w: unknown variant %s", domain.ErrMalformedFrame, fd.Name())
	}
}

func variantField(md protoreflect.MessageDescriptor, oneof protoreflect.OneofDescriptor, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := md.Fields().ByName(name)
	if fd == nil || fd.Message() == nil || fd.ContainingOneof() != oneof {
		return nil
	}
	return fd
}

func expectKind(md protoreflect.MessageDescriptor, name protoreflect.Name, kind protoreflect.Kind) error {
	fd := md.Fields().ByName(name)
	if fd == nil {
		return fmt.Errorf("%s has no field %s", md.FullName(), name)
	}
	if fd.Kind() != kind || fd.IsList() {
		return fmt.Errorf("%s.%s is %s, want %s", md.FullName(), name, fd.Kind(), kind)
	}
	return nil
}

func expectInteger(md protoreflect.MessageDescriptor, name protoreflect.Name) error {
	fd := md.Fields().ByName(name)
	if fd == nil {
		return fmt.Errorf("%s has no field %s", md.FullName(), name)
	}
	if !isInteger(fd) {
		return fmt.Errorf("%s.%s is %s, want an integer", md.FullName(), name, fd.Kind())
	}
	return nil
}

func isInteger(fd protoreflect.FieldDescriptor) bool {
	if fd.IsList() || fd.IsMap() {
		return false
	}
	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return true
	}
	return false
}

// setNumber writes n into the named integer field, converting to the
// field's width. Fields the schema does not declare are skipped.
func setNumber(m *dynamicpb.Message, name protoreflect.Name, n uint64) {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil || !isInteger(fd) {
		return
	}
	var v protoreflect.Value
	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		v = protoreflect.ValueOfInt32(int32(n))
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		v = protoreflect.ValueOfInt64(int64(n))
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		v = protoreflect.ValueOfUint32(uint32(n))
	default:
		v = protoreflect.ValueOfUint64(n)
	}
	m.Set(fd, v)
}

func getNumber(m protoreflect.Message, name protoreflect.Name) uint64 {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil || !isInteger(fd) {
		return 0
	}
	v := m.Get(fd)
	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		if v.Int() < 0 {
			return 0
		}
		return uint64(v.Int())
	default:
		return v.Uint()
	}
}

func setString(m *dynamicpb.Message, name protoreflect.Name, s string) {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil || fd.Kind() != protoreflect.StringKind || fd.IsList() {
		return
	}
	m.Set(fd, protoreflect.ValueOfString(s))
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil || fd.Kind() != protoreflect.StringKind || fd.IsList() {
		return ""
	}
	return m.Get(fd).String()
}
