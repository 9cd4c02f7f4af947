// Package transport carries rfm messages over a reliable byte stream.
//
// # Framing
//
// Every Message is encoded by the protocol package and sent as one frame:
//
//	u32 big-endian length | body
//
// TCP does not preserve message boundaries, so a receiver always reads the
// 4-byte prefix and then exactly that many bytes (io.ReadFull) before
// decoding. Frames larger than limits.MaxFrameSize are rejected before the
// body is allocated.
//
// Between two frames a Conn may also carry the raw chunk stream of a file
// transfer. Conn implements io.Reader and io.Writer for that purpose; the
// file package owns the chunk format.
//
// # Errors
//
// Failures of the connection itself are returned as *ConnError and are fatal
// to the session (see IsFatal). A frame that arrives intact but does not
// decode returns ErrMalformedMessage and leaves the stream usable.
//
// # Secure channel
//
// SecureClient and SecureServer run a Noise XX handshake (see the noise
// package) and return a SecureConn, a net.Conn that encrypts everything
// written to it in records of `u16 length | ciphertext`. Framing then runs on
// top of the SecureConn unchanged:
//
//	raw, err := transport.Dial(ctx, "127.0.0.1:5000", 5*time.Second)
//	sc, err := transport.SecureClient(raw, keys, pinnedServerKey)
//	conn := transport.NewConn(sc, transport.Options{})
//	err = conn.WriteMessage(protocol.New(protocol.CmdDir))
//
// # Listening
//
// Listen optionally wraps the TCP listener with netutil.LimitListener to cap
// concurrent sessions.
package transport
