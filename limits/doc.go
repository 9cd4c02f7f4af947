// Package limits provides centralized size constants and validation functions
// for the rfm protocol.
//
// # Size Hierarchy
//
//   - ChunkSize (1024 bytes): payload of one raw transfer chunk.
//   - MaxChunkSize (64 KiB): largest chunk a receiver will buffer.
//   - MaxFrameSize (16 MiB): largest encoded Message, sized for recursive listings.
//   - MaxNoisePlaintext: largest plaintext record on the encrypted channel.
//
// # Validation Functions
//
//	if err := limits.ValidateFrameSize(length); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// Frame and chunk lengths read from the network must be validated before the
// receive buffer is allocated.
package limits
