package railcache

import "errors"

var (
	// ErrCacheClosed means the world cache was closed because its world
	// unloaded. Callers must re-resolve through the Index.
	ErrCacheClosed = errors.New("rail cache closed")
	// ErrWorldNotLoaded is returned when asking for a cache of a world the
	// host does not have loaded.
	ErrWorldNotLoaded = errors.New("world not loaded")
	// ErrTypeUnregistered is returned when creating or verifying a record
	// whose track type has been removed from the registry.
	ErrTypeUnregistered = errors.New("track type unregistered")
	// ErrNoneType is returned when a caller asks to create a record of the
	// none type directly.
	ErrNoneType = errors.New("records of the none type are created by discovery only")
)
