package clock

import "errors"

var (
	ErrClockTerminated   = errors.New("clock has been terminated")
	ErrDebugTicksPending = errors.New("debug ticks are still pending")
	ErrNotDebugMode      = errors.New("clock is not in debug mode")
)
