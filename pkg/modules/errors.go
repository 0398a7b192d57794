package modules

import "errors"

var (
	ErrRegistryFull     = errors.New("registry is full")
	ErrInvalidSlot      = errors.New("slot does not exist")
	ErrUnexpectedModule = errors.New("slot holds another module")
)
