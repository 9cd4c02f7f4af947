package transport

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
)

// Listen binds a TCP listener. When maxConns is positive, at most that many
// connections are accepted concurrently; further clients wait in the
// kernel backlog until a session ends.
func Listen(addr string, maxConns int) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, newConnError("listen", addr, err)
	}
	if maxConns > 0 {
		listener = netutil.LimitListener(listener, maxConns)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Listen",
		"address":   listener.Addr().String(),
		"max_conns": maxConns,
	}).Info("Listening for connections")
	return listener, nil
}

// Dial connects to a server, giving up after timeout if it is positive.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newConnError("dial", addr, err)
	}
	return conn, nil
}
