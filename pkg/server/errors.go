package server

import "errors"

var (
	ErrAlreadyStarted = errors.New("server has already started")
	ErrServerClosed   = errors.New("server is already closed")
	ErrLoginExpected  = errors.New("first frame must be a login request")
	ErrLoginTimeout   = errors.New("login timed out")
	ErrRateLimited    = errors.New("too many login attempts")
)
