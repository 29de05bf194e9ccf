package speck

import "errors"

// ErrDimMismatch is returned when a coefficient buffer's length does
// not match the declared volume dimensions.
var ErrDimMismatch = errors.New("speck: coefficient buffer length does not match dims")
