package persistence

import "errors"

// ErrInvalidInput is returned for entries missing their key.
var ErrInvalidInput = errors.New("invalid input")
