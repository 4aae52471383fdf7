package usecase

import "errors"

var (
	ErrEngine       = errors.New("engine error")
	ErrFileNotFound = errors.New("file not found")
)
