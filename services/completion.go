package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/gofiber/fiber/v2/log"
)

// SyncMessage is the body published on the sync topic
const SyncMessage = "Sync"

// Publisher delivers the sync signal
type Publisher interface {
	Publish(ctx context.Context, message string) error
}

// DepthReader reports how many messages are still waiting in a queue
type DepthReader interface {
	ApproximateDepth(ctx context.Context) (int, error)
}

// CompletionDetector decides when a knowledge-base sync should be triggered.
// Files that belong to a batch are counted against it and the sync fires on
// the batch's done transition. Files without a batch fall back to checking
// that the extraction queue has drained.
type CompletionDetector struct {
	batches   BatchTracker
	publisher Publisher
	depth     DepthReader
}

// NewCompletionDetector creates a detector. depth may be nil, in which case
// batchless files never trigger a sync.
func NewCompletionDetector(batches BatchTracker, publisher Publisher, depth DepthReader) *CompletionDetector {
	return &CompletionDetector{batches: batches, publisher: publisher, depth: depth}
}

// FileDone records the outcome of one file and publishes the sync signal
// when it completes the work. It returns whether a signal was published.
func (d *CompletionDetector) FileDone(ctx context.Context, fileKey, batchID string, failed bool) (bool, error) {
	if batchID != "" && d.batches != nil {
		batch, fired, err := d.batches.Complete(ctx, batchID, fileKey, failed)
		switch {
		case errors.Is(err, ErrBatchNotFound):
			log.Warnf("[Completion] Batch %s for %s is unknown, falling back to queue depth", batchID, fileKey)
		case err != nil:
			return false, err
		case !fired:
			log.Debugf("[Completion] Batch %s at %d/%d (+%d failed)", batchID, batch.Completed, batch.Expected, batch.Failed)
			return false, nil
		default:
			log.Infof("[Completion] Batch %s done: %d completed, %d failed", batchID, batch.Completed, batch.Failed)
			if err := d.publishForBatch(ctx, batchID); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	return d.publishIfDrained(ctx)
}

// BatchExpired force-completes a stale batch and publishes once
func (d *CompletionDetector) BatchExpired(ctx context.Context, batchID string) (bool, error) {
	batch, fired, err := d.batches.ForceComplete(ctx, batchID)
	if err != nil {
		return false, err
	}
	if !fired {
		return false, nil
	}
	log.Warnf("[Completion] Batch %s forced done at %d/%d (+%d failed)", batchID, batch.Completed, batch.Expected, batch.Failed)
	if err := d.publishForBatch(ctx, batchID); err != nil {
		return false, err
	}
	return true, nil
}

func (d *CompletionDetector) publishForBatch(ctx context.Context, batchID string) error {
	if err := d.publisher.Publish(ctx, SyncMessage); err != nil {
		if relErr := d.batches.Release(ctx, batchID); relErr != nil {
			log.Errorf("[Completion] Failed to release batch %s after publish error: %v", batchID, relErr)
		}
		return fmt.Errorf("failed to publish sync for batch %s: %w", batchID, err)
	}
	return nil
}

func (d *CompletionDetector) publishIfDrained(ctx context.Context) (bool, error) {
	if d.depth == nil {
		return false, nil
	}
	depth, err := d.depth.ApproximateDepth(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read queue depth: %w", err)
	}
	if depth > 0 {
		log.Debugf("[Completion] %d messages still queued, not syncing", depth)
		return false, nil
	}
	if err := d.publisher.Publish(ctx, SyncMessage); err != nil {
		return false, fmt.Errorf("failed to publish sync: %w", err)
	}
	log.Infof("[Completion] Extraction queue drained, sync published")
	return true, nil
}

// FailedMessageHook counts the files named by a dead-lettered message as
// failed so their batch can still finish. It understands OCR and
// extraction payloads as well as storage notifications.
func (d *CompletionDetector) FailedMessageHook(files FileStore) DeadLetterHook {
	return func(ctx context.Context, body []byte, cause error) {
		var ref struct {
			FileKey string `json:"fileKey"`
			BatchID string `json:"batchId"`
		}
		var keys []string
		if err := json.Unmarshal(body, &ref); err == nil && ref.FileKey != "" {
			keys = []string{model.ObjectKey(ref.FileKey)}
		} else if uploaded, err := model.ParseUploadEvent(body); err == nil {
			keys = uploaded
		}
		if len(keys) == 0 {
			log.Warnf("[Completion] Dead-lettered message names no file: %v", cause)
			return
		}

		for _, key := range keys {
			batchID := ref.BatchID
			if rec, err := files.GetFileRecord(ctx, key); err == nil {
				if batchID == "" {
					batchID = rec.BatchID
				}
				if err := files.UpdateFileStatus(ctx, key, model.FileStatusFailed); err != nil {
					log.Warnf("[Completion] Failed to mark %s failed: %v", key, err)
				}
			}
			if _, err := d.FileDone(ctx, key, batchID, true); err != nil {
				log.Errorf("[Completion] Failed to record failure of %s: %v", key, err)
			}
		}
	}
}
