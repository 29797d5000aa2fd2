// Package ocr runs asynchronous document-understanding jobs against stored
// chunks and turns their block output into plain text.
package ocr

import (
	"context"
	"errors"
)

var (
	// ErrJobFailed is returned when the engine reports a failed job
	ErrJobFailed = errors.New("ocr job failed")
	// ErrJobTimedOut is returned when a job misses the polling deadline
	ErrJobTimedOut = errors.New("ocr job did not finish before the deadline")
	// ErrUnknownJob is returned by engines that no longer hold a job id
	ErrUnknownJob = errors.New("unknown ocr job")
)

// BlockType mirrors the block kinds of the OCR service
type BlockType string

const (
	BlockPage  BlockType = "PAGE"
	BlockLine  BlockType = "LINE"
	BlockWord  BlockType = "WORD"
	BlockTable BlockType = "TABLE"
	BlockCell  BlockType = "CELL"
)

// Relationship links a block to other blocks by id
type Relationship struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

// Cell is a pre-resolved table cell
type Cell struct {
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Text        string `json:"text"`
}

// Block is one unit of OCR output
type Block struct {
	ID            string         `json:"id"`
	Type          BlockType      `json:"type"`
	Text          string         `json:"text,omitempty"`
	RowIndex      int            `json:"rowIndex,omitempty"`
	ColumnIndex   int            `json:"columnIndex,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Cells         []Cell         `json:"cells,omitempty"`
}

// JobKind selects plain line detection or table-aware analysis
type JobKind string

const (
	JobKindText   JobKind = "text"
	JobKindTables JobKind = "tables"
)

// JobStatus is the engine-reported job state
type JobStatus string

const (
	JobInProgress     JobStatus = "IN_PROGRESS"
	JobSucceeded      JobStatus = "SUCCEEDED"
	JobPartialSuccess JobStatus = "PARTIAL_SUCCESS"
	JobFailed         JobStatus = "FAILED"
)

// Done reports whether the job finished with usable output
func (s JobStatus) Done() bool {
	return s == JobSucceeded || s == JobPartialSuccess
}

// Job is the result of one status poll
type Job struct {
	ID      string    `json:"id"`
	Kind    JobKind   `json:"kind"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message,omitempty"`
	Blocks  []Block   `json:"blocks,omitempty"`
}

// Engine submits and polls OCR jobs against stored objects
type Engine interface {
	Start(ctx context.Context, key string, kind JobKind) (string, error)
	Get(ctx context.Context, jobID string, kind JobKind) (*Job, error)
}
