package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/services"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/amazon"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/llm"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/ocr"
	"github.com/gofiber/fiber/v2/log"
)

// SetupAndRunWorkers runs the queue consumers until SIGINT or SIGTERM
func SetupAndRunWorkers() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	consumers, err := buildConsumers(p)
	if err != nil {
		return err
	}
	log.Infof("Starting %d consumers", len(consumers))
	return services.RunConsumers(ctx, consumers...)
}

func buildConsumers(p *pipeline) ([]*services.Consumer, error) {
	env := p.env

	uploadQueue, err := amazon.NewQueue(p.sess, env.UPLOAD_QUEUE_URL, env.VISIBILITY_TIMEOUT)
	if err != nil {
		return nil, fmt.Errorf("upload queue: %w", err)
	}
	ocrQueue, err := amazon.NewQueue(p.sess, env.OCR_QUEUE_URL, env.VISIBILITY_TIMEOUT)
	if err != nil {
		return nil, fmt.Errorf("ocr queue: %w", err)
	}
	extractionQueue, err := amazon.NewQueue(p.sess, env.EXTRACTION_QUEUE_URL, env.VISIBILITY_TIMEOUT)
	if err != nil {
		return nil, fmt.Errorf("extraction queue: %w", err)
	}

	var dlq services.MessageSender
	if env.DEAD_LETTER_QUEUE_URL != "" {
		q, err := amazon.NewQueue(p.sess, env.DEAD_LETTER_QUEUE_URL, env.VISIBILITY_TIMEOUT)
		if err != nil {
			return nil, fmt.Errorf("dead-letter queue: %w", err)
		}
		dlq = q
	} else {
		log.Warn("DEAD_LETTER_QUEUE_URL not set, exhausted messages are dropped after logging")
	}

	// batchless files fall back to the extraction backlog
	completion := p.completion(extractionQueue)
	if completion == nil {
		return nil, fmt.Errorf("SYNC_TOPIC_ARN must be configured to run the pipeline workers")
	}

	client, err := newLLMClient(p)
	if err != nil {
		return nil, err
	}

	ocrCfg := services.DefaultOCRWorkerConfig()
	ocrCfg.Poll.Deadline = env.OCR_POLL_DEADLINE
	ocrCfg.ChunkParallel = env.OCR_CHUNK_PARALLEL

	splitter := services.NewSplitterService(p.objects, p.store, ocrQueue, services.ChunkConfig{PagesPerChunk: env.PAGES_PER_CHUNK})
	ocrWorker := services.NewOCRWorker(p.objects, p.store, newOCREngine(p), extractionQueue, ocrCfg)
	extraction := services.NewExtractionService(p.objects, p.store, p.store, client, completion)
	failed := completion.FailedMessageHook(p.store)

	stages := []struct {
		name    string
		queue   *amazon.Queue
		handler services.Handler
	}{
		{"upload", uploadQueue, splitter.HandleUploadEvent},
		{"ocr", ocrQueue, ocrWorker.HandleMessage},
		{"extraction", extractionQueue, extraction.HandleMessage},
	}

	consumers := make([]*services.Consumer, 0, len(stages)+1)
	for _, stage := range stages {
		c, err := services.NewConsumer(stage.queue, dlq, stage.handler, consumerConfig(p, stage.name))
		if err != nil {
			return nil, err
		}
		consumers = append(consumers, c.OnDeadLetter(failed))
	}

	if env.SYNC_QUEUE_URL != "" && p.kb != nil {
		syncQueue, err := amazon.NewQueue(p.sess, env.SYNC_QUEUE_URL, env.VISIBILITY_TIMEOUT)
		if err != nil {
			return nil, fmt.Errorf("sync queue: %w", err)
		}
		c, err := services.NewConsumer(syncQueue, dlq, services.NewSyncSubscriber(p.kb).HandleMessage, consumerConfig(p, "sync"))
		if err != nil {
			return nil, err
		}
		consumers = append(consumers, c)
	} else {
		log.Warn("Sync subscriber disabled: SYNC_QUEUE_URL or knowledge base not configured")
	}

	return consumers, nil
}

func consumerConfig(p *pipeline, name string) services.ConsumerConfig {
	cfg := services.DefaultConsumerConfig(name)
	cfg.PoolSize = p.env.WORKER_POOL_SIZE
	cfg.MaxReceiveCount = p.env.MAX_RECEIVE_COUNT
	cfg.HandlerTimeout = p.env.VISIBILITY_TIMEOUT
	return cfg
}

func newLLMClient(p *pipeline) (llm.Client, error) {
	switch p.env.LLM_PROVIDER {
	case "openai":
		if p.env.INFERENCE_BASE_URL == "" || p.env.INFERENCE_MODEL == "" {
			return nil, fmt.Errorf("INFERENCE_BASE_URL and INFERENCE_MODEL must be configured for LLM_PROVIDER=openai")
		}
		return llm.NewInferenceClient(llm.InferenceConfig{
			APIKey:  p.env.INFERENCE_API_KEY,
			BaseURL: p.env.INFERENCE_BASE_URL,
			Model:   p.env.INFERENCE_MODEL,
		}), nil
	case "bedrock", "":
		return llm.NewBedrockClient(p.sess, p.env.BEDROCK_MODEL_ID), nil
	}
	return nil, fmt.Errorf("unknown LLM_PROVIDER %q", p.env.LLM_PROVIDER)
}

func newOCREngine(p *pipeline) ocr.Engine {
	if p.env.OCR_PROVIDER == "local" {
		log.Info("[OCR] Using the embedded text layer engine")
		return ocr.NewLocalEngine(p.objects)
	}
	return ocr.NewTextractEngine(p.sess, p.objects.Bucket())
}
