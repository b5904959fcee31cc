// Package models defines the domain types shared by storage and the index.
package models

import "time"

// EntryMetadata is a lightweight description of a diary file on disk.
type EntryMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is a diary file parsed back from disk.
type Entry struct {
	Path      string    `json:"path"`
	Date      string    `json:"date"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run status values.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// SyncRun is one recorded synchronization attempt.
type SyncRun struct {
	ID         int64     `json:"id"`
	Date       string    `json:"date"`
	Status     string    `json:"status"`
	FailedStep string    `json:"failed_step,omitempty"`
	Command    string    `json:"command,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
