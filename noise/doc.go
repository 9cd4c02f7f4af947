// Package noise implements the Noise XX handshake that secures an rfm
// connection.
//
// The handshake uses the flynn/noise library with Curve25519 key exchange,
// ChaCha20-Poly1305 encryption and SHA256 hashing
// (Noise_XX_25519_ChaChaPoly_SHA256). XX fits a file server: neither side
// needs to know the other's static key beforehand, both keys are
// transmitted encrypted, and a client that already knows the server's key
// can pin it by comparing RemoteStaticKey after completion.
//
// Message flow (three messages, initiator is the client):
//
//	-> e
//	<- e, ee, s, es
//	-> s, se
//
// Example:
//
//	hs, err := noise.NewXXHandshake(keys, noise.Initiator)
//	msg1, err := hs.WriteMessage(nil)
//	// send msg1, receive msg2
//	_, err = hs.ReadMessage(msg2)
//	msg3, err := hs.WriteMessage(nil)
//	send, recv, err := hs.CipherStates()
//
// The transport package drives this exchange over a framed connection and
// wraps the resulting cipher states in a net.Conn.
package noise
