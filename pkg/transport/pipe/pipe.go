// Package pipe is an in-process transport built on net.Pipe. Tests and embedded clients dial it
// directly instead of going through the network.
package pipe

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/QYUbit/Expanse/pkg/transport"
)

var ErrTransportClosed = errors.New("pipe transport is closed")

type addr string

func (a addr) Network() string { return "pipe" }
func (a addr) String() string  { return string(a) }

type Transport struct {
	name      string
	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func NewTransport(name string) *Transport {
	return &Transport{
		name:  name,
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
}

func (t *Transport) Listen() error {
	return nil
}

// Dial hands the server end of a new pipe to Accept and returns the client end.
func (t *Transport) Dial(ctx context.Context) (net.Conn, error) {
	client, server := net.Pipe()
	select {
	case t.conns <- server:
		return client, nil
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	case <-t.done:
		client.Close()
		server.Close()
		return nil, ErrTransportClosed
	}
}

func (t *Transport) Accept(ctx context.Context) (transport.Peer, error) {
	select {
	case conn := <-t.conns:
		return &Peer{conn: conn, local: addr(t.name)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrTransportClosed
	}
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *Transport) Addr() net.Addr {
	return addr(t.name)
}

type Peer struct {
	conn  net.Conn
	local net.Addr
}

func (p *Peer) Read(b []byte) (int, error) {
	return p.conn.Read(b)
}

func (p *Peer) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

func (p *Peer) Close(transport.CloseCode, string) error {
	return p.conn.Close()
}

func (p *Peer) LocalAddr() net.Addr {
	return p.local
}

func (p *Peer) RemoteAddr() net.Addr {
	return addr(p.local.String() + "-client")
}
