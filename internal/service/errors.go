package service

import (
	"errors"
	"fmt"

	"github.com/makeasinger/videogen/internal/pipeline"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrAlreadyExists = errors.New("job already exists")
	ErrJobRunning    = errors.New("job is already running")
	ErrJobNotRunning = errors.New("job is not running")
	ErrInvalidJob    = fmt.Errorf("%w: invalid job", pipeline.ErrValidation)
)
