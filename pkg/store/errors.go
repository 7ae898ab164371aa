package store

import "errors"

// Sentinel errors the repository layer returns; handlers map these onto
// HTTP status codes. Grounded on the teacher's repository/errors.go.
var (
	ErrNotFound     = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrInvalidInput = errors.New("store: invalid input")
	ErrConflict     = errors.New("store: conflict")
)
