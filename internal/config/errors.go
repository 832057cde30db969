package config

import "errors"

// ErrNotFound is returned when a requested record does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with an existing record.
var ErrConflict = errors.New("already exists")
