package repositories

import (
	"errors"
)

var (
	// ErrInvalidData is returned when a record is rejected by the store.
	ErrInvalidData = errors.New("invalid data given")

	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("record not found")

	// ErrDatabase wraps any other storage failure.
	ErrDatabase = errors.New("database error")
)
