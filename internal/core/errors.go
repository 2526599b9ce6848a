package core

import "errors"

// Sentinel errors shared by the stores and services. Handlers map them to
// HTTP status codes.
var (
	ErrNotFound           = errors.New("not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrSessionBusy        = errors.New("session is processing another request")
	ErrNotEditable        = errors.New("only user messages can be edited")
	ErrFileRejected       = errors.New("file rejected")
	ErrFileTooLarge       = errors.New("file too large")
	ErrNoText             = errors.New("no text could be extracted")
	ErrInference          = errors.New("inference failed")
)
