package models

import "errors"

var (
	// ErrTransientNetwork marks a fetch failure that may succeed on retry.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrExtraction marks a container that could not be turned into a posting.
	ErrExtraction = errors.New("extraction error")
	// ErrEmbeddingBackend marks a failed embedding call.
	ErrEmbeddingBackend = errors.New("embedding backend error")
	// ErrDuplicate is returned by the store when a posting hash already exists.
	ErrDuplicate = errors.New("duplicate key")
	// ErrStorageUnavailable is fatal for the run.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrConfiguration is fatal at startup.
	ErrConfiguration = errors.New("configuration error")
)
