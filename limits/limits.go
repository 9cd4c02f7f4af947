// Package limits provides centralized size limits for the rfm protocol.
// This ensures consistent validation across framing, transfer and the path model.
package limits

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ChunkSize is the payload size of each raw transfer chunk.
	ChunkSize = 1024

	// MaxChunkSize is the largest chunk a receiver accepts before treating the
	// stream as a protocol violation.
	MaxChunkSize = 65536

	// MaxFrameSize bounds one encoded Message. Recursive listings of large
	// trees are the biggest legitimate frames.
	MaxFrameSize = 16 * 1024 * 1024

	// MaxFileNameLength is the maximum allowed file name length in bytes.
	MaxFileNameLength = 255

	// MaxNoiseMessage is the Noise protocol limit for one transport message.
	MaxNoiseMessage = 65535

	// NoiseOverhead is the ChaCha20-Poly1305 authentication tag size added to
	// every encrypted record.
	NoiseOverhead = 16

	// MaxNoisePlaintext is the largest plaintext that fits in one record.
	MaxNoisePlaintext = MaxNoiseMessage - NoiseOverhead
)

var (
	// ErrMessageEmpty indicates an empty frame or name was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates a frame or chunk exceeds its maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidFileName indicates a file name that cannot name a single entry
	ErrInvalidFileName = errors.New("invalid file name")
)

// ValidateSize validates a length against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(size, maxSize int) error {
	if size <= 0 {
		return ErrMessageEmpty
	}
	if size > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, size, maxSize)
	}
	return nil
}

// ValidateFrameSize validates a frame length read from the wire before the
// body is allocated.
func ValidateFrameSize(size uint32) error {
	if size == 0 {
		return ErrMessageEmpty
	}
	if size > MaxFrameSize {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrMessageTooLarge, size, MaxFrameSize)
	}
	return nil
}

// ValidateChunkSize validates a raw transfer chunk length.
func ValidateChunkSize(size uint32) error {
	if size > MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d exceeds limit %d", ErrMessageTooLarge, size, MaxChunkSize)
	}
	return nil
}

// ValidateFileName checks that name denotes exactly one directory entry.
func ValidateFileName(name string) error {
	if name == "" {
		return ErrMessageEmpty
	}
	if len(name) > MaxFileNameLength {
		return fmt.Errorf("%w: name length %d exceeds limit %d", ErrMessageTooLarge, len(name), MaxFileNameLength)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return nil
}
