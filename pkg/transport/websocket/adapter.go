// Package websockets serves clients over WebSocket. Every binary message carries exactly one
// length prefixed frame.
package websockets

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/QYUbit/Expanse/pkg/transport"
)

var ErrTransportClosed = errors.New("websocket transport is closed")

var closeCodeMap = map[transport.CloseCode]int{
	transport.CloseNormal:        websocket.CloseNormalClosure,
	transport.CloseGoingAway:     websocket.CloseGoingAway,
	transport.CloseProtocolError: websocket.CloseProtocolError,
	transport.CloseRejected:      websocket.ClosePolicyViolation,
	transport.CloseTimeout:       websocket.CloseGoingAway,
}

type Transport struct {
	address     string
	path        string
	upgrader    *websocket.Upgrader
	connections chan *websocket.Conn

	server    *http.Server
	listener  net.Listener
	done      chan struct{}
	closeOnce sync.Once
}

func NewTransport(addr, path string) *Transport {
	if path == "" {
		path = "/"
	}
	return &Transport{
		address: addr,
		path:    path,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		connections: make(chan *websocket.Conn),
		done:        make(chan struct{}),
	}
}

// Listen binds the address and serves upgrades in the background.
func (t *Transport) Listen() error {
	l, err := net.Listen("tcp", t.address)
	if err != nil {
		return err
	}
	t.listener = l

	mux := http.NewServeMux()
	mux.HandleFunc(t.path, func(w http.ResponseWriter, r *http.Request) {
		if err := t.Upgrade(w, r, nil); err != nil {
			return
		}
	})
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go t.server.Serve(l)
	return nil
}

// Upgrade can also be mounted on an existing http server.
func (t *Transport) Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) error {
	conn, err := t.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		return err
	}

	select {
	case t.connections <- conn:
		return nil
	case <-t.done:
		conn.Close()
		return ErrTransportClosed
	case <-r.Context().Done():
		conn.Close()
		return r.Context().Err()
	}
}

func (t *Transport) Accept(ctx context.Context) (transport.Peer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrTransportClosed
	case conn := <-t.connections:
		return &Peer{conn: conn}, nil
	}
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.server != nil {
			err = t.server.Close()
		}
	})
	return err
}

func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return transport.EmptyAddr{}
	}
	return t.listener.Addr()
}

type Peer struct {
	conn    *websocket.Conn
	reader  io.Reader
	writeMu sync.Mutex
}

// NewPeer wraps a client side connection, as returned by websocket.Dialer.
func NewPeer(conn *websocket.Conn) *Peer {
	return &Peer{conn: conn}
}

// Read streams the content of consecutive binary messages.
func (p *Peer) Read(b []byte) (int, error) {
	for {
		if p.reader == nil {
			typ, r, err := p.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			p.reader = r
		}

		n, err := p.reader.Read(b)
		if errors.Is(err, io.EOF) {
			p.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (p *Peer) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *Peer) Close(code transport.CloseCode, reason string) error {
	wsCode, ok := closeCodeMap[code]
	if !ok {
		wsCode = websocket.CloseNormalClosure
	}

	var lastErr error

	p.writeMu.Lock()
	err := p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(wsCode, reason),
		time.Now().Add(time.Second),
	)
	p.writeMu.Unlock()
	if err != nil {
		lastErr = err
	}

	if err := p.conn.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}

func (p *Peer) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}
