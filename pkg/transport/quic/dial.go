package quic

import (
	"context"
	"crypto/tls"

	"github.com/quic-go/quic-go"
)

// Dial connects to a server and opens the frame stream. QUIC announces a stream with its first
// bytes, so the server only accepts the peer once the client wrote its first frame.
func Dial(ctx context.Context, addr string, tlsCfg *tls.Config, quicCfg *quic.Config) (*Peer, error) {
	if tlsCfg == nil {
		tlsCfg = &tls.Config{InsecureSkipVerify: true}
	}
	if len(tlsCfg.NextProtos) == 0 {
		tlsCfg = tlsCfg.Clone()
		tlsCfg.NextProtos = []string{ALPN}
	}

	conn, err := quic.DialAddr(ctx, addr, tlsCfg, quicCfg)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, err
	}

	return &Peer{conn: conn, stream: stream}, nil
}
