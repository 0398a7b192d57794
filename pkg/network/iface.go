// Package network multiplexes logical sessions over the physical connections of a player.
package network

//go:generate mockgen -source=iface.go -destination=mock_iface_test.go -package=network

// Channel carries frames toward the peer. Ids are connection ids or session ids, depending on
// which side of the SessionMux the channel sits.
type Channel[F any] interface {
	// Send returns false if the addressed session no longer exists.
	Send(sessionID uint32, frame F) bool
	CloseSession(sessionID uint32)
	Valid() bool
}

// Terminal receives frames and session lifecycle events from a Channel.
//
// OpenSession is called while the SessionMux holds its table lock: it must not call back into
// the mux. OnMessageReceived and OnSessionClosed are called without that lock.
type Terminal[F any] interface {
	OpenSession(sessionID uint32) bool
	OnMessageReceived(sessionID uint32, frame F)
	OnSessionClosed(sessionID uint32)
}
