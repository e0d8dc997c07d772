package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnknownTemplate = errors.New("unknown exam template")
	ErrJobNotCompleted = errors.New("job not completed")
)
