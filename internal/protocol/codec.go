package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
)

// Version is written into every frame header.
const Version byte = 2

// DefaultCompressThreshold is the body size above which bodies are compressed.
const DefaultCompressThreshold = 4096

const (
	headerSize     = 3
	flagCompressed = 1 << 0
)

var (
	ErrShortFrame         = errors.New("frame shorter than header")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrUnknownType        = errors.New("unknown message type")
)

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
// decoder has no output ceiling and only serves codecs without a body limit.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil)
)

// Codec turns messages into frames and back.
type Codec struct {
	// CompressThreshold is the body size in bytes above which the body is
	// zstd compressed. Zero disables compression.
	CompressThreshold int
	// MaxBodySize bounds the decoded body of a frame. Zero disables the check.
	MaxBodySize int
	// MaxDepth bounds the nesting of packet payloads. Zero disables the check.
	MaxDepth int
}

// NewCodec creates a codec with the given compression threshold and the
// default frame limits.
func NewCodec(compressThreshold int) *Codec {
	return &Codec{
		CompressThreshold: compressThreshold,
		MaxBodySize:       DefaultMaxBodySize,
		MaxDepth:          DefaultMaxDepth,
	}
}

// Encode serializes msg into a single frame.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	var body []byte
	if msg.Type() != TypeEndOfStream {
		var err error
		body, err = sonic.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", msg.Type(), err)
		}
	}

	var flags byte
	if c != nil && c.CompressThreshold > 0 && len(body) > c.CompressThreshold {
		body = encoder.EncodeAll(body, nil)
		flags |= flagCompressed
	}

	frame := make([]byte, headerSize+len(body))
	frame[0] = Version
	frame[1] = byte(msg.Type())
	frame[2] = flags
	copy(frame[headerSize:], body)
	return frame, nil
}

// Decode parses a frame produced by Encode.
func (c *Codec) Decode(frame []byte) (Message, error) {
	if len(frame) < headerSize {
		return nil, ErrShortFrame
	}
	if frame[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, frame[0])
	}

	typ := Type(frame[1])
	body := frame[headerSize:]
	if err := c.checkSize(body); err != nil {
		return nil, err
	}
	if frame[2]&flagCompressed != 0 {
		var err error
		body, err = c.decompress(body)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", typ, err)
		}
		if err := c.checkSize(body); err != nil {
			return nil, err
		}
	}

	var msg Message
	switch typ {
	case TypeConsumerRegistration:
		var m ConsumerRegistration
		if err := unmarshal(body, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypePacketRequest:
		var m PacketRequest
		if err := unmarshal(body, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypePacket:
		var m PacketFrame
		if err := unmarshal(body, &m); err != nil {
			return nil, err
		}
		if err := c.checkDepth(m.Payload); err != nil {
			return nil, err
		}
		msg = m
	case TypeEndOfStream:
		msg = EndOfStream{}
	case TypeSourceAnnouncement:
		var m SourceAnnouncement
		if err := unmarshal(body, &m); err != nil {
			return nil, err
		}
		msg = m
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	return msg, nil
}

func unmarshal(body []byte, v Message) error {
	if err := sonic.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", v.Type(), err)
	}
	return nil
}
