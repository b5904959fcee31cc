// Package apperr defines the sentinel errors shared across the service.
// Boundary layers (HTTP, MCP) map them to responses with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrInvalidRecord marks a malformed diary submission.
	ErrInvalidRecord = errors.New("invalid diary record")

	// ErrConfigurationMissing means the repository location could not be resolved.
	ErrConfigurationMissing = errors.New("repository location is not configured")

	// ErrFilesystem wraps directory creation and file write failures.
	ErrFilesystem = errors.New("filesystem error")

	// ErrToolSpawn means git could not be started at all.
	ErrToolSpawn = errors.New("failed to start external tool")

	// ErrToolExecution means git ran and exited with a failure status.
	ErrToolExecution = errors.New("external tool failed")

	// ErrBusy is returned when another synchronization run holds the guard.
	ErrBusy = errors.New("another update is already running")
)
