package ingest

import "errors"

var (
	// ErrEmptyDocument means the book produced no sections or no sentence units.
	ErrEmptyDocument = errors.New("document has no extractable text")
	// ErrMalformedExtraction means a provider response did not match the snippet schema.
	ErrMalformedExtraction = errors.New("malformed extraction response")
)
