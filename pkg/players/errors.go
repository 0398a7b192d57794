package players

import "errors"

var (
	ErrPlayerExists  = errors.New("player already exists")
	ErrUnknownPlayer = errors.New("unknown player")
	ErrEmptyLogin    = errors.New("login is empty")
	ErrInvalidHash   = errors.New("invalid password hash")
)
