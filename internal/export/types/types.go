package types

import (
	"time"

	"github.com/robalyx/answervote/internal/vote"
)

// Snapshot is a copy of the counters and ledger taken for export.
// Records are ordered by answer ID and then username.
type Snapshot struct {
	TakenAt  time.Time
	Counters []*vote.Counters
	Records  []*vote.Record
}

// Manifest describes an export written to disk.
type Manifest struct {
	EngineVersion string    `json:"engineVersion"`
	TakenAt       time.Time `json:"takenAt"`
	Answers       int       `json:"answers"`
	Records       int       `json:"records"`
	Drifted       []string  `json:"drifted"`
	Formats       []string  `json:"formats"`
}
