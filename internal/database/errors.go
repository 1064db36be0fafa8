package database

import "errors"

var (
	// ErrShortCodeExists is returned when an attempt is made to create
	// a new link with a short code that already exists.
	ErrShortCodeExists = errors.New("short code exists")
	// ErrLinkNotFound is returned when an attempt is made to retrieve
	// a link that doesn't exist or isn't owned by the caller.
	ErrLinkNotFound = errors.New("link not found")
	// ErrCacheMiss is returned when the lookup cache has no entry
	// for the requested short code.
	ErrCacheMiss = errors.New("cache miss")
)
