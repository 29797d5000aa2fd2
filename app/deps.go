package app

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/config"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/database"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/amazon"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/cache"
	"github.com/gofiber/fiber/v2/log"
)

// pipeline holds the clients shared by the API server and the workers
type pipeline struct {
	env      *config.EnviornmentVariable
	store    *database.GORMStore
	redis    *cache.RedisCache
	sess     *session.Session
	objects  *amazon.ObjectStore
	batches  services.BatchTracker
	kb       *amazon.KnowledgeBase
	notifier *amazon.Notifier
}

func buildPipeline() (*pipeline, error) {
	// Load ENV
	if err := config.LoadENV(); err != nil {
		log.Warnf("No .env file loaded: %v", err)
	}
	env, err := config.Get()
	if err != nil {
		return nil, err
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := store.Init(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	p := &pipeline{env: env, store: store}

	if env.REDIS_URL != "" {
		p.redis, err = cache.NewRedisCache(env.REDIS_URL)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		p.batches = services.NewRedisBatchTracker(p.redis)
	} else {
		log.Warn("REDIS_URL not set, batches are tracked in process memory")
		p.batches = services.NewMemoryBatchTracker()
	}

	p.sess, err = amazon.NewSession(amazon.ConfigFromEnv(env))
	if err != nil {
		p.Close()
		return nil, err
	}
	p.objects, err = amazon.NewObjectStore(p.sess, env.BUCKET_NAME)
	if err != nil {
		p.Close()
		return nil, err
	}

	if kb, err := amazon.NewKnowledgeBase(p.sess, env.KNOWLEDGE_BASE_ID, env.DATA_SOURCE_ID); err == nil {
		p.kb = kb
	} else {
		log.Warnf("Knowledge base disabled: %v", err)
	}
	if notifier, err := amazon.NewNotifier(p.sess, env.SYNC_TOPIC_ARN); err == nil {
		p.notifier = notifier
	} else {
		log.Warnf("Sync topic disabled: %v", err)
	}

	return p, nil
}

// indexRemover returns the knowledge base as an optional dependency
func (p *pipeline) indexRemover() services.IndexDocumentRemover {
	if p.kb == nil {
		return nil
	}
	return p.kb
}

// completion builds the detector, or nil when no sync topic is configured.
// depth may be nil.
func (p *pipeline) completion(depth services.DepthReader) *services.CompletionDetector {
	if p.notifier == nil {
		return nil
	}
	return services.NewCompletionDetector(p.batches, p.notifier, depth)
}

func (p *pipeline) Close() {
	if p.redis != nil {
		_ = p.redis.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
