// Package stream holds the immutable encoder parameters handed to the
// streaming pipeline on every start.
package stream

import (
	"errors"
	"fmt"
	"strconv"
)

// Codec is the video encoder the pipeline should use.
type Codec string

// Supported codecs.
const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
)

var (
	ErrInvalidCodec   = errors.New("codec must be h264 or h265")
	ErrInvalidBitrate = errors.New("bitrate must be a positive integer")
	ErrInvalidGOP     = errors.New("gop must be a positive integer")
)

// ParseCodec converts a CLI value into a Codec. Only the exact lowercase
// names are accepted.
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case CodecH264:
		return CodecH264, nil
	case CodecH265:
		return CodecH265, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCodec, s)
	}
}

// Config is passed unchanged into every pipeline start.
type Config struct {
	Codec      Codec
	BitrateBps int
	GOPSize    int
}

// NewConfig validates and returns a Config.
func NewConfig(codec Codec, bitrateBps, gopSize int) (Config, error) {
	if codec != CodecH264 && codec != CodecH265 {
		return Config{}, fmt.Errorf("%w: %q", ErrInvalidCodec, codec)
	}
	if bitrateBps <= 0 {
		return Config{}, fmt.Errorf("%w: %d", ErrInvalidBitrate, bitrateBps)
	}
	if gopSize <= 0 {
		return Config{}, fmt.Errorf("%w: %d", ErrInvalidGOP, gopSize)
	}
	return Config{Codec: codec, BitrateBps: bitrateBps, GOPSize: gopSize}, nil
}

// ParseArgs builds a Config from the three positional CLI arguments:
// codec, bitrate and gop.
func ParseArgs(args []string) (Config, error) {
	if len(args) != 3 {
		return Config{}, fmt.Errorf("expected 3 arguments (codec bitrate gop), got %d", len(args))
	}

	codec, err := ParseCodec(args[0])
	if err != nil {
		return Config{}, err
	}

	bitrate, err := strconv.Atoi(args[1])
	if err != nil {
		return Config{}, fmt.Errorf("%w: %q", ErrInvalidBitrate, args[1])
	}

	gop, err := strconv.Atoi(args[2])
	if err != nil {
		return Config{}, fmt.Errorf("%w: %q", ErrInvalidGOP, args[2])
	}

	return NewConfig(codec, bitrate, gop)
}

// Args returns the pipeline flags for this config.
func (c Config) Args() []string {
	return []string{
		"--codec", string(c.Codec),
		"--bitrate", strconv.Itoa(c.BitrateBps),
		"--gop", strconv.Itoa(c.GOPSize),
	}
}

// String implements fmt.Stringer.
func (c Config) String() string {
	return fmt.Sprintf("%s %dbps gop=%d", c.Codec, c.BitrateBps, c.GOPSize)
}
