// Package crypto holds the static key material used by the rfm secure
// channel.
//
// Keys are Curve25519 pairs as consumed by the Noise XX handshake in the
// noise package. The server keeps its pair in a key file so clients can pin
// its public key across restarts.
//
// Example:
//
//	keys, err := crypto.LoadOrCreateKeyFile("server.key")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Server key:", crypto.Fingerprint(keys.Public))
package crypto
