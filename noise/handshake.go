package noise

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"github.com/opd-ai/rfm/crypto"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeComplete indicates handshake is already complete
	ErrHandshakeComplete = errors.New("handshake already complete")
	// ErrNilKeyPair indicates a handshake was created without a static key
	ErrNilKeyPair = errors.New("static key pair is nil")
)

// HandshakeRole defines whether we're initiating or responding to handshake
type HandshakeRole uint8

const (
	// Initiator starts the handshake (the client)
	Initiator HandshakeRole = iota
	// Responder answers the handshake (the server)
	Responder
)

func (r HandshakeRole) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// CipherSuite is the suite used by every rfm handshake.
var CipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// XXHandshake implements the Noise XX pattern for mutual authentication
// without prior key knowledge.
type XXHandshake struct {
	role       HandshakeRole
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	complete   bool
}

// NewXXHandshake creates a new XX pattern handshake using keys as our static
// identity.
func NewXXHandshake(keys *crypto.KeyPair, role HandshakeRole) (*XXHandshake, error) {
	if keys == nil {
		return nil, ErrNilKeyPair
	}

	staticKey := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(staticKey.Private, keys.Private[:])
	copy(staticKey.Public, keys.Public[:])

	config := noise.Config{
		CipherSuite:   CipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}

	hs, err := noise.NewHandshakeState(config)
	if err != nil {
		crypto.ZeroBytes(staticKey.Private)
		return nil, fmt.Errorf("failed to create XX handshake state: %w", err)
	}

	return &XXHandshake{
		role:  role,
		state: hs,
	}, nil
}

// Role returns our side of the handshake.
func (xx *XXHandshake) Role() HandshakeRole {
	return xx.role
}

// WriteMessage produces the next handshake message carrying payload.
func (xx *XXHandshake) WriteMessage(payload []byte) ([]byte, error) {
	if xx.complete {
		return nil, ErrHandshakeComplete
	}

	message, cs1, cs2, err := xx.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("XX handshake write failed: %w", err)
	}
	xx.finish(cs1, cs2)
	return message, nil
}

// ReadMessage consumes the peer's next handshake message and returns its
// payload.
func (xx *XXHandshake) ReadMessage(message []byte) ([]byte, error) {
	if xx.complete {
		return nil, ErrHandshakeComplete
	}

	payload, cs1, cs2, err := xx.state.ReadMessage(nil, message)
	if err != nil {
		return nil, fmt.Errorf("XX handshake read failed: %w", err)
	}
	xx.finish(cs1, cs2)
	return payload, nil
}

// finish records the cipher states once the final message has been
// processed. cs1 always encrypts initiator to responder traffic.
func (xx *XXHandshake) finish(cs1, cs2 *noise.CipherState) {
	if cs1 == nil || cs2 == nil {
		return
	}
	if xx.role == Initiator {
		xx.sendCipher, xx.recvCipher = cs1, cs2
	} else {
		xx.sendCipher, xx.recvCipher = cs2, cs1
	}
	xx.complete = true
}

// IsComplete returns whether the XX handshake is complete.
func (xx *XXHandshake) IsComplete() bool {
	return xx.complete
}

// CipherStates returns the send and receive cipher states.
func (xx *XXHandshake) CipherStates() (send, recv *noise.CipherState, err error) {
	if !xx.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	return xx.sendCipher, xx.recvCipher, nil
}

// RemoteStaticKey returns the peer's static key after completion.
func (xx *XXHandshake) RemoteStaticKey() ([]byte, error) {
	if !xx.complete {
		return nil, ErrHandshakeNotComplete
	}
	key := make([]byte, len(xx.state.PeerStatic()))
	copy(key, xx.state.PeerStatic())
	return key, nil
}
