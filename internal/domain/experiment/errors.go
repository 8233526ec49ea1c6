package experiment

import "errors"

// Domain errors for experiment configuration and run persistence.
var (
	// ErrInvalidExperiment indicates an experiment configuration that
	// cannot be run.
	ErrInvalidExperiment = errors.New("invalid experiment config")

	// ErrRunNotFound indicates the requested run does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists indicates a run with the same ID already exists.
	ErrRunExists = errors.New("run already exists")

	// ErrAnchorNotFound indicates no anchor has been saved for the run.
	ErrAnchorNotFound = errors.New("anchor not found")

	// ErrStoreClosed indicates the run store has been closed.
	ErrStoreClosed = errors.New("run store is closed")

	// ErrStoreInitFailed indicates run store initialization failed.
	ErrStoreInitFailed = errors.New("run store initialization failed")

	// ErrTransactionFailed indicates a storage transaction failed.
	ErrTransactionFailed = errors.New("run store transaction failed")

	// ErrSerializationFailed indicates record serialization failed.
	ErrSerializationFailed = errors.New("record serialization failed")
)
