package config

import "errors"

var (
	ErrMissingSender = errors.New("relay sender is required")
	ErrMissingHost   = errors.New("relay host is required")
)
