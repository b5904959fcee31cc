package api

import (
	"github.com/starford/hibi/internal/diaryservice"
	"github.com/starford/hibi/internal/index"
	"github.com/starford/hibi/internal/models"
)

// EntryListItem is a lightweight item in a list response (aliased from the domain layer).
type EntryListItem = diaryservice.EntryListItem

// EntryDetail is the full entry response type.
type EntryDetail = models.Entry

// EntryListResponse wraps paginated entry listings.
type EntryListResponse struct {
	Entries []EntryListItem `json:"entries"`
	Total   int             `json:"total"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results"`
}

// RunListResponse wraps recent synchronization runs.
type RunListResponse struct {
	Runs []models.SyncRun `json:"runs"`
}

// StatusResponse reports the synchronization gate and the last run.
type StatusResponse = diaryservice.Status
