package wire

import "errors"

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrWrongWireType = errors.New("field has unexpected wire type")
	ErrEmptyBody     = errors.New("message carries no payload")
)
