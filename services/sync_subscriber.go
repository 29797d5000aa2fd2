package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/gofiber/fiber/v2/log"
)

// snsEnvelope is the body SQS receives from an SNS subscription without raw
// message delivery
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// SyncSubscriber starts a knowledge-base ingestion for every sync signal
type SyncSubscriber struct {
	index IndexSyncer
}

// NewSyncSubscriber creates a sync subscriber
func NewSyncSubscriber(index IndexSyncer) *SyncSubscriber {
	return &SyncSubscriber{index: index}
}

// HandleMessage starts an ingestion job when body carries the sync signal.
// Other bodies are acknowledged and ignored.
func (s *SyncSubscriber) HandleMessage(ctx context.Context, body []byte) error {
	signal, err := syncSignal(body)
	if err != nil {
		return Permanent(err)
	}
	if signal != SyncMessage {
		log.Warnf("[Sync] Ignoring unexpected message %q", signal)
		return nil
	}

	jobID, err := s.index.StartSync(ctx)
	if err != nil {
		return err
	}
	log.Infof("[Sync] Started knowledge base ingestion job %s", jobID)
	return nil
}

func syncSignal(body []byte) (string, error) {
	text := strings.TrimSpace(string(body))
	if !strings.HasPrefix(text, "{") {
		return text, nil
	}
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidMessage, err)
	}
	return strings.TrimSpace(env.Message), nil
}
