package pipecat

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"voicestream/internal/application"
	"voicestream/internal/domain"
)

const DefaultFrameType = "pipecat.Frame"

// Loader resolves the frame message from a compiled FileDescriptorSet
// (protoc --include_imports --descriptor_set_out) or, when Path is empty,
// from the built-in copy of frames.proto.
type Loader struct {
	Path      string
	FrameType string
}

func (l *Loader) Load(ctx context.Context) (application.FrameCodec, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSchemaLoad, err)
	}

	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{framesProto()}}
	if l.Path != "" {
		data, err := os.ReadFile(l.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", domain.ErrSchemaLoad, l.Path, err)
		}
		set = &descriptorpb.FileDescriptorSet{}
		if err := proto.Unmarshal(data, set); err != nil {
			return nil, fmt.Errorf("%w: %s is not a descriptor set: %w", domain.ErrSchemaLoad, l.Path, err)
		}
	}

	files, err := protodesc.NewFiles(set)
	if err != nil {
		return nil, fmt.Errorf("%w: building descriptors: %w", domain.ErrSchemaLoad, err)
	}

	frameType := l.FrameType
	if frameType == "" {
		frameType = DefaultFrameType
	}
	desc, err := files.FindDescriptorByName(protoreflect.FullName(frameType))
	if err != nil {
		return nil, fmt.Errorf("%w: looking up %s: %w", domain.ErrSchemaLoad, frameType, err)
	}
	md, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a message", domain.ErrSchemaLoad, frameType)
	}

	codec, err := NewCodec(md)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSchemaLoad, err)
	}
	return codec, nil
}

// framesProto mirrors pipecat's frames.proto.
func framesProto() *descriptorpb.FileDescriptorProto {
	id := field("id", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT64)
	name := field("name", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING)

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("frames.proto"),
		Package: proto.String("pipecat"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("TextFrame"),
				Field: []*descriptorpb.FieldDescriptorProto{
					id, name,
					field("text", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				},
			},
			{
				Name: proto.String("AudioRawFrame"),
				Field: []*descriptorpb.FieldDescriptorProto{
					id, name,
					field("audio", 3, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
					field("sample_rate", 4, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
					field("num_channels", 5, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
					field("pts", 6, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
				},
			},
			{
				Name: proto.String("TranscriptionFrame"),
				Field: []*descriptorpb.FieldDescriptorProto{
					id, name,
					field("text", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					field("user_id", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					field("timestamp", 5, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				},
			},
			{
				Name: proto.String("MessageFrame"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("data", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				},
			},
			{
				Name: proto.String("Frame"),
				Field: []*descriptorpb.FieldDescriptorProto{
					variant("text", 1, ".pipecat.TextFrame"),
					variant("audio", 2, ".pipecat.AudioRawFrame"),
					variant("transcription", 3, ".pipecat.TranscriptionFrame"),
					variant("message", 4, ".pipecat.MessageFrame"),
				},
				OneofDecl: []*descriptorpb.OneofDescriptorProto{
					{Name: proto.String("frame")},
				},
			},
		},
	}
}

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func variant(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := field(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	f.TypeName = proto.String(typeName)
	f.OneofIndex = proto.Int32(0)
	return f
}
