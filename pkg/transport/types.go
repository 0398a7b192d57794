// Package transport abstracts the physical connections clients use to reach the server.
// Every accepted Peer is one ordered, reliable byte stream.
package transport

import (
	"context"
	"io"
	"net"
)

type CloseCode int

const (
	CloseNormal CloseCode = iota
	CloseGoingAway
	CloseProtocolError
	CloseRejected
	CloseTimeout
)

func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "normal"
	case CloseGoingAway:
		return "going away"
	case CloseProtocolError:
		return "protocol error"
	case CloseRejected:
		return "rejected"
	case CloseTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

type Peer interface {
	io.Reader
	io.Writer
	Close(code CloseCode, reason string) error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

type Transport interface {
	Listen() error
	Accept(ctx context.Context) (Peer, error)
	Close() error
	Addr() net.Addr
}

// EmptyAddr is reported by transports that are not listening yet.
type EmptyAddr struct{}

func (EmptyAddr) Network() string { return "none" }
func (EmptyAddr) String() string  { return "uninitialized" }
