// Package quic serves clients over QUIC. Every client opens one bidirectional stream right after
// the handshake; frames travel on that stream.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/QYUbit/Expanse/pkg/transport"
)

const ALPN = "expanse"

var (
	ErrTransportNotInitialized = errors.New("quic transport has not been initialized")
	ErrTransportClosed         = errors.New("quic transport is closed")
)

var closeCodeMap = map[transport.CloseCode]quic.ApplicationErrorCode{
	transport.CloseNormal:        0x0,
	transport.CloseGoingAway:     0x1,
	transport.CloseProtocolError: 0x2,
	transport.CloseRejected:      0x3,
	transport.CloseTimeout:       0x4,
}

type Transport struct {
	address       string
	tlsCfg        *tls.Config
	quicCfg       *quic.Config
	listener      *quic.Listener
	streamTimeout time.Duration

	peers     chan *Peer
	done      chan struct{}
	closeOnce sync.Once
}

func NewTransport(addr string, tlsCfg *tls.Config, quicCfg *quic.Config) *Transport {
	return &Transport{
		address:       addr,
		tlsCfg:        tlsCfg,
		quicCfg:       quicCfg,
		streamTimeout: time.Second,
		peers:         make(chan *Peer),
		done:          make(chan struct{}),
	}
}

// Listen binds the address and accepts connections in the background.
func (t *Transport) Listen() error {
	l, err := quic.ListenAddr(t.address, t.tlsCfg, t.quicCfg)
	if err != nil {
		return err
	}
	t.listener = l

	go t.acceptLoop()
	return nil
}

func (t *Transport) acceptLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		conn, err := t.listener.Accept(ctx)
		if err != nil {
			return
		}
		go t.awaitStream(ctx, conn)
	}
}

// awaitStream hands conn to Accept once it opened its stream. A connection that stays silent
// for longer than streamTimeout is dropped without holding up others.
func (t *Transport) awaitStream(ctx context.Context, conn *quic.Conn) {
	sctx, cancel := context.WithTimeout(ctx, t.streamTimeout)
	stream, err := conn.AcceptStream(sctx)
	cancel()
	if err != nil {
		conn.CloseWithError(closeCodeMap[transport.CloseTimeout], "no stream opened")
		return
	}

	p := &Peer{conn: conn, stream: stream}
	select {
	case t.peers <- p:
	case <-t.done:
		p.Close(transport.CloseGoingAway, "shutting down")
	}
}

// Accept waits for a connection that opened its first stream.
func (t *Transport) Accept(ctx context.Context) (transport.Peer, error) {
	if t.listener == nil {
		return nil, ErrTransportNotInitialized
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrTransportClosed
	case p := <-t.peers:
		return p, nil
	}
}

func (t *Transport) Close() error {
	if t.listener == nil {
		return ErrTransportNotInitialized
	}
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.listener.Close()
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
	conn   *quic.Conn
	stream *quic.Stream
}

func (p *Peer) Read(b []byte) (int, error) {
	return p.stream.Read(b)
}

func (p *Peer) Write(b []byte) (int, error) {
	return p.stream.Write(b)
}

func (p *Peer) Close(code transport.CloseCode, reason string) error {
	appCode, ok := closeCodeMap[code]
	if !ok {
		appCode = 0x0
	}
	p.stream.Close()
	return p.conn.CloseWithError(appCode, reason)
}

func (p *Peer) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}
