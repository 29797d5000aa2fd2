package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/cache"
)

// BatchTTL bounds how long batch state is kept
const BatchTTL = 7 * 24 * time.Hour

// ErrBatchNotFound is returned for unknown or expired batch ids
var ErrBatchNotFound = errors.New("batch not found")

// BatchTracker counts finished files per upload batch. The done transition
// is reported to exactly one caller.
type BatchTracker interface {
	Create(ctx context.Context, batchID string, expected int) (*model.Batch, error)
	// Complete records fileKey as finished; fired is true only for the call
	// that moves the batch to done.
	Complete(ctx context.Context, batchID, fileKey string, failed bool) (batch *model.Batch, fired bool, err error)
	// ForceComplete moves a batch to done whatever its counts
	ForceComplete(ctx context.Context, batchID string) (batch *model.Batch, fired bool, err error)
	// Release undoes a done transition whose side effect could not be delivered
	Release(ctx context.Context, batchID string) error
	Get(ctx context.Context, batchID string) (*model.Batch, error)
	// Pending lists batches still pending that were created before cutoff
	Pending(ctx context.Context, cutoff time.Time) ([]string, error)
}

// RedisBatchTracker keeps batch state in Redis: a JSON state document, one
// set per outcome and a SETNX guard for the done transition.
type RedisBatchTracker struct {
	cache *cache.RedisCache
	now   func() time.Time
}

// NewRedisBatchTracker creates a tracker on redisCache
func NewRedisBatchTracker(redisCache *cache.RedisCache) *RedisBatchTracker {
	return &RedisBatchTracker{cache: redisCache, now: time.Now}
}

func batchKey(format, id string) string {
	return fmt.Sprintf(format, id)
}

func (t *RedisBatchTracker) Create(ctx context.Context, batchID string, expected int) (*model.Batch, error) {
	batch := &model.Batch{
		ID:        batchID,
		Expected:  expected,
		Status:    model.BatchStatusPending,
		CreatedAt: t.now().UTC(),
	}
	if err := t.cache.SetJSON(ctx, batchKey(model.RedisKeyBatchState, batchID), batch, BatchTTL); err != nil {
		return nil, fmt.Errorf("failed to store batch %s: %w", batchID, err)
	}
	if err := t.cache.ZAdd(ctx, model.RedisKeyBatchIndex, float64(batch.CreatedAt.Unix()), batchID); err != nil {
		return nil, fmt.Errorf("failed to index batch %s: %w", batchID, err)
	}
	return batch, nil
}

func (t *RedisBatchTracker) state(ctx context.Context, batchID string) (*model.Batch, error) {
	var batch model.Batch
	err := t.cache.GetJSON(ctx, batchKey(model.RedisKeyBatchState, batchID), &batch)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	batch.FailedFiles = nil
	return &batch, nil
}

func (t *RedisBatchTracker) Get(ctx context.Context, batchID string) (*model.Batch, error) {
	batch, err := t.state(ctx, batchID)
	if err != nil {
		return nil, err
	}
	completed, err := t.cache.SCard(ctx, batchKey(model.RedisKeyBatchCompleted, batchID))
	if err != nil {
		return nil, err
	}
	failed, err := t.cache.SMembers(ctx, batchKey(model.RedisKeyBatchFailed, batchID))
	if err != nil {
		return nil, err
	}
	sort.Strings(failed)
	batch.Completed = int(completed)
	batch.Failed = len(failed)
	batch.FailedFiles = failed
	return batch, nil
}

func (t *RedisBatchTracker) Complete(ctx context.Context, batchID, fileKey string, failed bool) (*model.Batch, bool, error) {
	batch, err := t.state(ctx, batchID)
	if err != nil {
		return nil, false, err
	}

	completedKey := batchKey(model.RedisKeyBatchCompleted, batchID)
	failedKey := batchKey(model.RedisKeyBatchFailed, batchID)
	add, remove := completedKey, failedKey
	if failed {
		add, remove = failedKey, completedKey
	}

	addSize, removeSize, err := t.cache.MoveMember(ctx, add, remove, fileKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record %s in batch %s: %w", fileKey, batchID, err)
	}
	if err := t.cache.Expire(ctx, BatchTTL, completedKey, failedKey); err != nil {
		return nil, false, err
	}

	if failed {
		batch.Failed, batch.Completed = int(addSize), int(removeSize)
	} else {
		batch.Completed, batch.Failed = int(addSize), int(removeSize)
	}

	if !batch.Finished() {
		return batch, false, nil
	}
	return t.fire(ctx, batch)
}

func (t *RedisBatchTracker) ForceComplete(ctx context.Context, batchID string) (*model.Batch, bool, error) {
	batch, err := t.Get(ctx, batchID)
	if err != nil {
		return nil, false, err
	}
	return t.fire(ctx, batch)
}

func (t *RedisBatchTracker) fire(ctx context.Context, batch *model.Batch) (*model.Batch, bool, error) {
	won, err := t.cache.SetNX(ctx, batchKey(model.RedisKeyBatchFired, batch.ID), t.now().Unix(), BatchTTL)
	if err != nil {
		return nil, false, fmt.Errorf("failed to guard batch %s: %w", batch.ID, err)
	}
	if !won {
		batch.Status = model.BatchStatusDone
		return batch, false, nil
	}

	doneAt := t.now().UTC()
	batch.Status = model.BatchStatusDone
	batch.CompletedAt = &doneAt
	if err := t.cache.SetJSON(ctx, batchKey(model.RedisKeyBatchState, batch.ID), batch, BatchTTL); err != nil {
		return nil, false, fmt.Errorf("failed to store batch %s: %w", batch.ID, err)
	}
	if err := t.cache.ZRem(ctx, model.RedisKeyBatchIndex, batch.ID); err != nil {
		return nil, false, err
	}
	return batch, true, nil
}

func (t *RedisBatchTracker) Release(ctx context.Context, batchID string) error {
	batch, err := t.state(ctx, batchID)
	if err != nil {
		return err
	}
	batch.Status = model.BatchStatusPending
	batch.CompletedAt = nil
	if err := t.cache.SetJSON(ctx, batchKey(model.RedisKeyBatchState, batchID), batch, BatchTTL); err != nil {
		return err
	}
	if err := t.cache.ZAdd(ctx, model.RedisKeyBatchIndex, float64(batch.CreatedAt.Unix()), batchID); err != nil {
		return err
	}
	return t.cache.Delete(ctx, batchKey(model.RedisKeyBatchFired, batchID))
}

func (t *RedisBatchTracker) Pending(ctx context.Context, cutoff time.Time) ([]string, error) {
	return t.cache.ZRangeByScore(ctx, model.RedisKeyBatchIndex, "-inf", strconv.FormatInt(cutoff.Unix(), 10))
}

// MemoryBatchTracker is the single-process tracker used when Redis is not
// configured
type MemoryBatchTracker struct {
	mu      sync.Mutex
	batches map[string]*memoryBatch
	now     func() time.Time
}

type memoryBatch struct {
	batch   model.Batch
	outcome map[string]bool // fileKey -> failed
	fired   bool
}

// NewMemoryBatchTracker creates an empty tracker
func NewMemoryBatchTracker() *MemoryBatchTracker {
	return &MemoryBatchTracker{batches: make(map[string]*memoryBatch), now: time.Now}
}

func (m *memoryBatch) snapshot() *model.Batch {
	b := m.batch
	b.Completed, b.Failed, b.FailedFiles = 0, 0, nil
	for key, failed := range m.outcome {
		if failed {
			b.Failed++
			b.FailedFiles = append(b.FailedFiles, key)
		} else {
			b.Completed++
		}
	}
	sort.Strings(b.FailedFiles)
	return &b
}

func (t *MemoryBatchTracker) Create(ctx context.Context, batchID string, expected int) (*model.Batch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mb := &memoryBatch{
		batch: model.Batch{
			ID:        batchID,
			Expected:  expected,
			Status:    model.BatchStatusPending,
			CreatedAt: t.now().UTC(),
		},
		outcome: make(map[string]bool),
	}
	t.batches[batchID] = mb
	return mb.snapshot(), nil
}

func (t *MemoryBatchTracker) Get(ctx context.Context, batchID string) (*model.Batch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mb, ok := t.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	return mb.snapshot(), nil
}

func (t *MemoryBatchTracker) Complete(ctx context.Context, batchID, fileKey string, failed bool) (*model.Batch, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mb, ok := t.batches[batchID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	mb.outcome[fileKey] = failed
	if !mb.snapshot().Finished() {
		return mb.snapshot(), false, nil
	}
	return t.fireLocked(mb)
}

func (t *MemoryBatchTracker) ForceComplete(ctx context.Context, batchID string) (*model.Batch, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mb, ok := t.batches[batchID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	return t.fireLocked(mb)
}

func (t *MemoryBatchTracker) fireLocked(mb *memoryBatch) (*model.Batch, bool, error) {
	if mb.fired {
		return mb.snapshot(), false, nil
	}
	doneAt := t.now().UTC()
	mb.fired = true
	mb.batch.Status = model.BatchStatusDone
	mb.batch.CompletedAt = &doneAt
	return mb.snapshot(), true, nil
}

func (t *MemoryBatchTracker) Release(ctx context.Context, batchID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	mb, ok := t.batches[batchID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	mb.fired = false
	mb.batch.Status = model.BatchStatusPending
	mb.batch.CompletedAt = nil
	return nil
}

func (t *MemoryBatchTracker) Pending(ctx context.Context, cutoff time.Time) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for id, mb := range t.batches {
		if !mb.fired && !mb.batch.CreatedAt.After(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
