package database

import (
	"time"

	"github.com/oneclickreelsai/studious-system/internal/core"
)

// BatchRun is the persisted record of one finished dispatch run.
type BatchRun struct {
	ID           string
	Niche        string
	Privacy      string
	Destinations []string
	Retry        bool
	StartedAt    time.Time
	FinishedAt   time.Time
	Succeeded    int
	Partial      int
	Failed       int
	Pending      int

	Items []*BatchRunItem
}

// BatchRunItem is the final state of one queue item within a run. Outcomes
// are stored as JSONB, keyed by destination name.
type BatchRunItem struct {
	ItemID   string
	RunID    string
	Filename string
	Title    string
	Status   string
	Error    string
	Outcomes map[string]core.Outcome
}

// Stats holds aggregate upload history statistics.
type Stats struct {
	TotalRuns      int64
	TotalItems     int64
	TotalSucceeded int64
	TotalFailed    int64
}
