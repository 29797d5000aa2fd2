package model

import "time"

// Redis keys for batch tracking
const (
	RedisKeyBatchState     = "batch:%s:state"     // JSON Batch
	RedisKeyBatchCompleted = "batch:%s:completed" // set of file keys
	RedisKeyBatchFailed    = "batch:%s:failed"    // set of file keys
	RedisKeyBatchFired     = "batch:%s:fired"     // SETNX guard for the done transition
	RedisKeyBatchIndex     = "batches:pending"    // sorted set scored by creation time
)

// BatchStatus represents the lifecycle of an upload batch
type BatchStatus string

const (
	BatchStatusPending BatchStatus = "pending"
	BatchStatusDone    BatchStatus = "done"
)

// Batch groups the files of one upload request. It is done once every
// expected file has either completed extraction or been dead-lettered.
type Batch struct {
	ID          string      `json:"id"`
	Expected    int         `json:"expected"`
	Completed   int         `json:"completed"`
	Failed      int         `json:"failed"`
	FailedFiles []string    `json:"failedFiles,omitempty"`
	Status      BatchStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// Finished reports whether every expected file has been accounted for
func (b *Batch) Finished() bool {
	return b.Expected > 0 && b.Completed+b.Failed >= b.Expected
}
