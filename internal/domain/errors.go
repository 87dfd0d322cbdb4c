package domain

import "errors"

var (
	// ErrValidation marks input rejected before any subsystem is touched.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyExists is an idempotent outcome, not a failure.
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	// ErrSubsystem wraps a failed OS, database or daemon call.
	ErrSubsystem = errors.New("subsystem failure")
	// ErrReload means the sshd config was written but the daemon did not
	// pick it up. File and running daemon may disagree until the next reload.
	ErrReload   = errors.New("daemon reload failed")
	ErrTooLarge = errors.New("payload too large")
)
