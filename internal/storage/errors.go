package storage

import "errors"

// ErrNoIVReadings is returned when no IV readings are found for a symbol
var ErrNoIVReadings = errors.New("no IV readings found")

// ErrNotFound is returned when an analysis does not exist
var ErrNotFound = errors.New("analysis not found")
