package services

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletion_BatchFiresOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	batches := NewMemoryBatchTracker()
	publisher := &recordingPublisher{}
	detector := NewCompletionDetector(batches, publisher, nil)

	const files = 25
	_, err := batches.Create(ctx, "b", files)
	require.NoError(t, err)

	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < files; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := model.FilesPrefix + uuid.NewString() + ".pdf"
			// every file is reported twice, as a redelivery would
			for j := 0; j < 2; j++ {
				ok, err := detector.FileDone(ctx, key, "b", i%5 == 0)
				assert.NoError(t, err)
				if ok {
					fired.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 1, publisher.count())

	batch, err := batches.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusDone, batch.Status)
	assert.Equal(t, 20, batch.Completed)
	assert.Equal(t, 5, batch.Failed)
	assert.NotNil(t, batch.CompletedAt)
}

func TestCompletion_PublishFailureReleasesBatch(t *testing.T) {
	ctx := context.Background()
	batches := NewMemoryBatchTracker()
	publisher := &recordingPublisher{err: assert.AnError}
	detector := NewCompletionDetector(batches, publisher, nil)

	_, err := batches.Create(ctx, "b", 1)
	require.NoError(t, err)

	fired, err := detector.FileDone(ctx, "Files/a.pdf", "b", false)
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, fired)

	batch, err := batches.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusPending, batch.Status)

	// the redelivered message gets to publish
	publisher.err = nil
	fired, err = detector.FileDone(ctx, "Files/a.pdf", "b", false)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, 1, publisher.count())
}

func TestCompletion_BatchlessFileUsesQueueDepth(t *testing.T) {
	ctx := context.Background()
	publisher := &recordingPublisher{}
	queue := &recordingQueue{depth: 2}
	detector := NewCompletionDetector(NewMemoryBatchTracker(), publisher, queue)

	fired, err := detector.FileDone(ctx, "Files/a.pdf", "", false)
	require.NoError(t, err)
	assert.False(t, fired)

	queue.depth = 0
	fired, err = detector.FileDone(ctx, "Files/b.pdf", "", false)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, []string{SyncMessage}, publisher.published)
}

func TestCompletion_UnknownBatchFallsBackToDepth(t *testing.T) {
	publisher := &recordingPublisher{}
	detector := NewCompletionDetector(NewMemoryBatchTracker(), publisher, &recordingQueue{})

	fired, err := detector.FileDone(context.Background(), "Files/a.pdf", "expired", false)
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestCompletion_BatchExpiredForcesOnce(t *testing.T) {
	ctx := context.Background()
	batches := NewMemoryBatchTracker()
	publisher := &recordingPublisher{}
	detector := NewCompletionDetector(batches, publisher, nil)

	_, err := batches.Create(ctx, "stale", 3)
	require.NoError(t, err)
	_, err = detector.FileDone(ctx, "Files/a.pdf", "stale", false)
	require.NoError(t, err)

	fired, err := detector.BatchExpired(ctx, "stale")
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = detector.BatchExpired(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, fired)

	// a late file does not publish again
	fired, err = detector.FileDone(ctx, "Files/b.pdf", "stale", false)
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, 1, publisher.count())
}

func TestFailedMessageHook_CountsFileAgainstBatch(t *testing.T) {
	ctx := context.Background()
	batches := NewMemoryBatchTracker()
	publisher := &recordingPublisher{}
	files := newTestGORMStore(t)
	detector := NewCompletionDetector(batches, publisher, nil)

	_, err := batches.Create(ctx, "b", 2)
	require.NoError(t, err)
	registerTestFile(t, files, model.FileRecord{FileKey: "Files/a.pdf", BatchID: "b"})
	registerTestFile(t, files, model.FileRecord{FileKey: "Files/b.pdf", BatchID: "b"})

	hook := detector.FailedMessageHook(files)
	hook(ctx, []byte(`{"fileKey":"Files/a.pdf","batchId":"b"}`), assert.AnError)
	// storage notification without a batch id: the file record supplies it
	hook(ctx, []byte(`{"Records":[{"eventName":"ObjectCreated:Put","s3":{"object":{"key":"Files/b.pdf"}}}]}`), assert.AnError)

	batch, err := batches.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Failed)
	assert.Equal(t, []string{"Files/a.pdf", "Files/b.pdf"}, batch.FailedFiles)
	assert.Equal(t, model.BatchStatusDone, batch.Status)
	assert.Equal(t, 1, publisher.count())

	rec, err := files.GetFileRecord(ctx, "Files/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusFailed, rec.Status)
}

func TestMemoryBatchTracker_Pending(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryBatchTracker()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tracker.now = func() time.Time { return now.Add(-2 * time.Hour) }
	_, err := tracker.Create(ctx, "old", 1)
	require.NoError(t, err)
	tracker.now = func() time.Time { return now }
	_, err = tracker.Create(ctx, "new", 1)
	require.NoError(t, err)

	ids, err := tracker.Pending(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	_, _, err = tracker.ForceComplete(ctx, "old")
	require.NoError(t, err)
	ids, err = tracker.Pending(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryBatchTracker_UnknownBatch(t *testing.T) {
	_, _, err := NewMemoryBatchTracker().Complete(context.Background(), "missing", "Files/a.pdf", false)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestRedisBatchTracker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	redisCache, err := cache.NewRedisCache(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisCache.Close() })

	tracker := NewRedisBatchTracker(redisCache)
	id := "test-" + uuid.NewString()
	_, err = tracker.Create(ctx, id, 2)
	require.NoError(t, err)

	batch, fired, err := tracker.Complete(ctx, id, "Files/a.pdf", true)
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, 1, batch.Failed)

	got, err := tracker.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Files/a.pdf"}, got.FailedFiles)

	// a retried file moves from failed to completed
	batch, fired, err = tracker.Complete(ctx, id, "Files/a.pdf", false)
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, 1, batch.Completed)
	assert.Equal(t, 0, batch.Failed)

	got, err = tracker.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.FailedFiles)

	_, fired, err = tracker.Complete(ctx, id, "Files/b.pdf", false)
	require.NoError(t, err)
	assert.True(t, fired)

	_, fired, err = tracker.Complete(ctx, id, "Files/b.pdf", false)
	require.NoError(t, err)
	assert.False(t, fired)

	require.NoError(t, tracker.Release(ctx, id))
	_, fired, err = tracker.ForceComplete(ctx, id)
	require.NoError(t, err)
	assert.True(t, fired)
}
