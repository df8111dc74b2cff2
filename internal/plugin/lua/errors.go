package lua

import "errors"

var (
	ErrStateClosed = errors.New("lua: state closed")
	ErrNotFunction = errors.New("lua: global is not a function")
)
