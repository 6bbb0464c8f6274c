package server

import "errors"

var (
	ErrInternal = errors.New("internal error")
	ErrUpload   = errors.New("failed to read upload")
)
