package models

import "errors"

// ErrJobNotFound is returned by job stores for an unknown id.
var ErrJobNotFound = errors.New("job not found")
