package model

import "errors"

// ErrNotFound is returned by stores when no appointment matches the id.
var ErrNotFound = errors.New("appointment not found")
