package core

import (
	"time"

	"github.com/JonMunkholm/stageload/internal/schema"
	"github.com/JonMunkholm/stageload/internal/store"
)

// LoadedAtColumn is the system-managed timestamp column appended to every
// load. It is part of the expected column set, so reconciliation and
// recreation account for it.
const LoadedAtColumn = "updated_at"

// loadedAtSpec is the column specification for LoadedAtColumn.
var loadedAtSpec = schema.Column(LoadedAtColumn, "DATETIME")

// Row is one source record keyed by destination column name. Values are
// typically strings from a reader; nil is SQL NULL.
type Row map[string]any

// Tier identifies a load strategy in the fallback cascade.
type Tier string

const (
	TierNone     Tier = ""
	TierBulkCopy Tier = "bulk_copy"
	TierChunked  Tier = "chunked"
	TierSingle   Tier = "single"
)

// LoadRequest describes one load call.
type LoadRequest struct {
	Table store.Table
	Rows  []Row

	// Spec is the ordered expected column set, without LoadedAtColumn.
	Spec []schema.ColumnSpec

	// ForceRecreate drops and rebuilds the table even when it matches.
	ForceRecreate bool

	// Append keeps existing rows when the table matches instead of
	// truncating it first.
	Append bool

	// DayFirst reads ambiguous dates like 03/04/2025 as 3 April.
	DayFirst bool

	// Source names the input (file name, file type) for logs.
	Source string
}

// RowCount returns the number of rows in the request.
func (r LoadRequest) RowCount() int { return len(r.Rows) }

// LoadResult is the outcome of one load call. Message is written to be
// shown to an operator verbatim.
type LoadResult struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	RowsAffected int64         `json:"rowsAffected"`
	LoadID       string        `json:"loadId"`
	Table        string        `json:"table"`
	Verdict      string        `json:"verdict,omitempty"`
	Tier         Tier          `json:"tier,omitempty"`
	Partial      bool          `json:"partial,omitempty"`
	Code         string        `json:"code,omitempty"`
	Source       string        `json:"source,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"durationNs"`
}
