package network

import "errors"

var (
	ErrInvalidConnection = errors.New("connection id is out of range")
	ErrConnectionInUse   = errors.New("connection is already open")
	ErrNoFreeConnection  = errors.New("connection table is exhausted")
	ErrNoFreeSession     = errors.New("session table is exhausted")
	ErrInvalidSession    = errors.New("session does not exist")
	ErrSessionRejected   = errors.New("handler rejected the session")
	ErrChannelDetached   = errors.New("no channel attached")
)
