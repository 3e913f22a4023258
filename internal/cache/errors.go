package cache

import "errors"

var (
	// ErrAlreadyExists is returned when adding a key that is already cached.
	ErrAlreadyExists = errors.New("cache: key already exists")
	// ErrDoesNotExist is returned when mutating or removing an absent key.
	ErrDoesNotExist = errors.New("cache: key does not exist")
	// ErrAlreadySetup is returned by a second call to GenjiCache.Setup.
	ErrAlreadySetup = errors.New("cache: already set up")
	// ErrCreatorAlreadyExists is returned when a map already lists the creator.
	ErrCreatorAlreadyExists = errors.New("cache: creator already exists on map")
	// ErrCreatorDoesNotExist is returned when removing a creator the map does not list.
	ErrCreatorDoesNotExist = errors.New("cache: creator does not exist on map")
	// ErrInvalidEntry is returned for entries that break a collection invariant.
	ErrInvalidEntry = errors.New("cache: invalid entry")
)
