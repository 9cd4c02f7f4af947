package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rfm/crypto"
	"github.com/opd-ai/rfm/limits"
	rfmnoise "github.com/opd-ai/rfm/noise"
)

// HandshakeTimeout bounds the whole Noise handshake.
const HandshakeTimeout = 10 * time.Second

// SecureConn is a net.Conn whose traffic is encrypted with the cipher states
// of a completed XX handshake. Each Write is split into records of
// `u16 length | ciphertext`.
type SecureConn struct {
	net.Conn
	send      *noise.CipherState
	recv      *noise.CipherState
	remoteKey []byte

	readMu  sync.Mutex
	pending []byte
	writeMu sync.Mutex
}

// RemoteStaticKey returns the peer's authenticated static key.
func (s *SecureConn) RemoteStaticKey() []byte {
	return append([]byte(nil), s.remoteKey...)
}

// Read decrypts the next record if no plaintext is pending.
func (s *SecureConn) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if len(s.pending) == 0 {
		record, err := readRecord(s.Conn)
		if err != nil {
			return 0, err
		}
		plaintext, err := s.recv.Decrypt(nil, nil, record)
		if err != nil {
			return 0, fmt.Errorf("decrypt record: %w", err)
		}
		s.pending = plaintext
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write encrypts p as one or more records.
func (s *SecureConn) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var out bytes.Buffer
	written := 0
	for written < len(p) {
		end := written + limits.MaxNoisePlaintext
		if end > len(p) {
			end = len(p)
		}
		ciphertext, err := s.send.Encrypt(nil, nil, p[written:end])
		if err != nil {
			return written, fmt.Errorf("encrypt record: %w", err)
		}
		var header [2]byte
		binary.BigEndian.PutUint16(header[:], uint16(len(ciphertext)))
		out.Write(header[:])
		out.Write(ciphertext)
		written = end
	}

	if _, err := s.Conn.Write(out.Bytes()); err != nil {
		return 0, err
	}
	return written, nil
}

func readRecord(r io.Reader) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	record := make([]byte, binary.BigEndian.Uint16(header[:]))
	if _, err := io.ReadFull(r, record); err != nil {
		return nil, err
	}
	return record, nil
}

func writeRecord(w io.Writer, record []byte) error {
	if err := limits.ValidateSize(len(record), limits.MaxNoiseMessage); err != nil {
		return err
	}
	buf := make([]byte, 2+len(record))
	binary.BigEndian.PutUint16(buf, uint16(len(record)))
	copy(buf[2:], record)
	_, err := w.Write(buf)
	return err
}

// SecureClient runs the initiator side of the XX handshake over nc. When
// pinnedKey is non-empty the server's static key must equal it.
func SecureClient(nc net.Conn, keys *crypto.KeyPair, pinnedKey []byte) (*SecureConn, error) {
	hs, err := rfmnoise.NewXXHandshake(keys, rfmnoise.Initiator)
	if err != nil {
		return nil, err
	}

	sc, err := runHandshake(nc, hs, func() error {
		msg1, err := hs.WriteMessage(nil)
		if err != nil {
			return err
		}
		if err := writeRecord(nc, msg1); err != nil {
			return err
		}
		msg2, err := readRecord(nc)
		if err != nil {
			return err
		}
		if _, err := hs.ReadMessage(msg2); err != nil {
			return err
		}
		msg3, err := hs.WriteMessage(nil)
		if err != nil {
			return err
		}
		return writeRecord(nc, msg3)
	})
	if err != nil {
		return nil, err
	}

	if len(pinnedKey) > 0 && !bytes.Equal(pinnedKey, sc.remoteKey) {
		return nil, newConnError("handshake", nc.RemoteAddr().String(), ErrPeerKeyMismatch)
	}
	return sc, nil
}

// SecureServer runs the responder side of the XX handshake over nc.
func SecureServer(nc net.Conn, keys *crypto.KeyPair) (*SecureConn, error) {
	hs, err := rfmnoise.NewXXHandshake(keys, rfmnoise.Responder)
	if err != nil {
		return nil, err
	}

	return runHandshake(nc, hs, func() error {
		msg1, err := readRecord(nc)
		if err != nil {
			return err
		}
		if _, err := hs.ReadMessage(msg1); err != nil {
			return err
		}
		msg2, err := hs.WriteMessage(nil)
		if err != nil {
			return err
		}
		if err := writeRecord(nc, msg2); err != nil {
			return err
		}
		msg3, err := readRecord(nc)
		if err != nil {
			return err
		}
		_, err = hs.ReadMessage(msg3)
		return err
	})
}

func runHandshake(nc net.Conn, hs *rfmnoise.XXHandshake, exchange func() error) (*SecureConn, error) {
	addr := ""
	if ra := nc.RemoteAddr(); ra != nil {
		addr = ra.String()
	}

	if err := nc.SetDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		return nil, newConnError("handshake", addr, err)
	}
	if err := exchange(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "runHandshake",
			"role":     hs.Role().String(),
			"remote":   addr,
			"error":    err.Error(),
		}).Warn("Noise handshake failed")
		return nil, newConnError("handshake", addr, err)
	}
	if err := nc.SetDeadline(time.Time{}); err != nil {
		return nil, newConnError("handshake", addr, err)
	}

	send, recv, err := hs.CipherStates()
	if err != nil {
		return nil, newConnError("handshake", addr, err)
	}
	remote, err := hs.RemoteStaticKey()
	if err != nil {
		return nil, newConnError("handshake", addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "runHandshake",
		"role":       hs.Role().String(),
		"remote":     addr,
		"remote_key": fmt.Sprintf("%x", remote),
	}).Debug("Noise handshake complete")

	return &SecureConn{Conn: nc, send: send, recv: recv, remoteKey: remote}, nil
}
