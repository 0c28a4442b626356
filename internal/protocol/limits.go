package protocol

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Frame limits applied by NewCodec.
const (
	DefaultMaxBodySize = 16 * 1024 * 1024
	DefaultMaxDepth    = 64
)

var (
	ErrFrameTooLarge  = errors.New("frame body exceeds size limit")
	ErrPayloadTooDeep = errors.New("payload nesting exceeds depth limit")
)

// MaxFrameSize is the largest encoded frame a reader should accept, or 0 when
// unlimited.
func (c *Codec) MaxFrameSize() int64 {
	if c == nil || c.MaxBodySize <= 0 {
		return 0
	}
	return int64(c.MaxBodySize + headerSize)
}

func (c *Codec) checkSize(body []byte) error {
	if c == nil || c.MaxBodySize <= 0 || len(body) <= c.MaxBodySize {
		return nil
	}
	return fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, len(body), c.MaxBodySize)
}

// limitedDecoders holds one decoder per body limit, keyed by the limit.
var limitedDecoders sync.Map

// decompress inflates a zstd body, aborting once the output passes the body
// limit instead of inflating it fully first.
func (c *Codec) decompress(body []byte) ([]byte, error) {
	limit := 0
	if c != nil {
		limit = c.MaxBodySize
	}
	dec, err := decoderFor(limit)
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(body, nil)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
		return nil, fmt.Errorf("%w: decompressed body over limit %d", ErrFrameTooLarge, limit)
	}
	return out, err
}

func decoderFor(limit int) (*zstd.Decoder, error) {
	if limit <= 0 {
		return decoder, nil
	}
	if dec, ok := limitedDecoders.Load(limit); ok {
		return dec.(*zstd.Decoder), nil
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	actual, loaded := limitedDecoders.LoadOrStore(limit, dec)
	if loaded {
		dec.Close()
	}
	return actual.(*zstd.Decoder), nil
}

func (c *Codec) checkDepth(payload any) error {
	if c == nil || c.MaxDepth <= 0 {
		return nil
	}
	return ValidateDepth(payload, c.MaxDepth)
}

// ValidateDepth rejects decoded JSON values nested deeper than maxDepth.
func ValidateDepth(v any, maxDepth int) error {
	return checkDepth(v, 0, maxDepth)
}

func checkDepth(v any, depth, maxDepth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: limit %d", ErrPayloadTooDeep, maxDepth)
	}
	switch val := v.(type) {
	case map[string]any:
		for _, child := range val {
			if err := checkDepth(child, depth+1, maxDepth); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range val {
			if err := checkDepth(child, depth+1, maxDepth); err != nil {
				return err
			}
		}
	}
	return nil
}
