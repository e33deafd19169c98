package controlplane

import "errors"

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCancelled = errors.New("job is already in a terminal state")
	ErrJobNotResumable = errors.New("job is not resumable")
	ErrJobStillOwned   = errors.New("job is still owned by an active worker")
)
