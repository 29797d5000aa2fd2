package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/amazon"
	"github.com/gofiber/fiber/v2/log"
	"github.com/panjf2000/ants/v2"
)

// MessageQueue is the receive side of a queue
type MessageQueue interface {
	Receive(ctx context.Context, max int, wait time.Duration) ([]amazon.Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, d time.Duration) error
}

// Handler processes one message body
type Handler func(ctx context.Context, body []byte) error

// DeadLetterHook runs once for every message moved to the dead-letter queue
type DeadLetterHook func(ctx context.Context, body []byte, cause error)

// Dead-letter message attributes
const (
	AttrError        = "error"
	AttrErrorType    = "errorType"
	AttrSourceQueue  = "sourceQueue"
	AttrReceiveCount = "receiveCount"
)

const maxErrorAttrLen = 1024

// ConsumerConfig tunes one consumer loop
type ConsumerConfig struct {
	Name            string
	PoolSize        int
	BatchSize       int
	WaitTime        time.Duration
	HandlerTimeout  time.Duration // matches the queue visibility timeout
	MaxReceiveCount int
	RetryBackoff    time.Duration // visibility after the first failure, doubled per receive
	ErrorBackoff    time.Duration // pause after a failed receive
}

// DefaultConsumerConfig returns the default configuration for queue name
func DefaultConsumerConfig(name string) ConsumerConfig {
	return ConsumerConfig{
		Name:            name,
		PoolSize:        4,
		BatchSize:       10,
		WaitTime:        20 * time.Second,
		HandlerTimeout:  300 * time.Second,
		MaxReceiveCount: 5,
		RetryBackoff:    30 * time.Second,
		ErrorBackoff:    5 * time.Second,
	}
}

// Consumer long-polls a queue and dispatches messages to a bounded pool.
// Successful messages are deleted. Failed ones are left for redelivery
// until the receive count reaches MaxReceiveCount or the error is
// permanent; they are then copied to the dead-letter queue and deleted.
type Consumer struct {
	queue        MessageQueue
	dlq          MessageSender
	handler      Handler
	onDeadLetter DeadLetterHook
	cfg          ConsumerConfig
	pool         *ants.Pool
	wg           sync.WaitGroup
}

// NewConsumer creates a consumer. dlq may be nil, in which case exhausted
// messages are logged and deleted.
func NewConsumer(queue MessageQueue, dlq MessageSender, handler Handler, cfg ConsumerConfig) (*Consumer, error) {
	def := DefaultConsumerConfig(cfg.Name)
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}
	if cfg.MaxReceiveCount <= 0 {
		cfg.MaxReceiveCount = def.MaxReceiveCount
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}

	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s pool: %w", cfg.Name, err)
	}
	return &Consumer{
		queue:   queue,
		dlq:     dlq,
		handler: handler,
		cfg:     cfg,
		pool:    pool,
	}, nil
}

// OnDeadLetter registers a hook for dead-lettered messages
func (c *Consumer) OnDeadLetter(hook DeadLetterHook) *Consumer {
	c.onDeadLetter = hook
	return c
}

// Run polls until ctx is cancelled, then waits for in-flight messages
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("[Consumer] %s started with %d workers", c.cfg.Name, c.cfg.PoolSize)
	defer func() {
		c.wg.Wait()
		c.pool.Release()
		log.Infof("[Consumer] %s stopped", c.cfg.Name)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := c.queue.Receive(ctx, c.cfg.BatchSize, c.cfg.WaitTime)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("[Consumer] %s receive failed: %v", c.cfg.Name, err)
			if sleepErr := sleepCtx(ctx, c.cfg.ErrorBackoff); sleepErr != nil {
				return nil
			}
			continue
		}

		for _, msg := range msgs {
			c.wg.Add(1)
			// Submit blocks while every worker is busy
			if err := c.pool.Submit(func() {
				defer c.wg.Done()
				c.Handle(ctx, msg)
			}); err != nil {
				c.wg.Done()
				log.Errorf("[Consumer] %s could not schedule message %s: %v", c.cfg.Name, msg.ID, err)
			}
		}
	}
}

// Handle processes one received message to its final queue action
func (c *Consumer) Handle(ctx context.Context, msg amazon.Message) {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandlerTimeout)
	defer cancel()

	started := time.Now()
	err := c.invoke(hctx, msg.Body)
	if err == nil {
		if delErr := c.queue.Delete(ctx, msg.ReceiptHandle); delErr != nil {
			log.Errorf("[Consumer] %s processed %s but could not delete it: %v", c.cfg.Name, msg.ID, delErr)
			return
		}
		log.Debugf("[Consumer] %s handled %s in %s", c.cfg.Name, msg.ID, time.Since(started).Round(time.Millisecond))
		return
	}

	errType, recoverable := ClassifyError(err)
	if recoverable && msg.ReceiveCount < c.cfg.MaxReceiveCount {
		log.Warnf("[Consumer] %s message %s failed (%s, receive %d/%d), will retry: %v",
			c.cfg.Name, msg.ID, errType, msg.ReceiveCount, c.cfg.MaxReceiveCount, err)
		c.delayRetry(ctx, msg)
		return
	}

	log.Errorf("[Consumer] %s message %s failed (%s, receive %d, recoverable=%t), dead-lettering: %v",
		c.cfg.Name, msg.ID, errType, msg.ReceiveCount, recoverable, err)
	c.deadLetter(ctx, msg, err, errType)
}

func (c *Consumer) invoke(ctx context.Context, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Consumer] %s handler panic: %v\n%s", c.cfg.Name, r, debug.Stack())
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return c.handler(ctx, body)
}

func (c *Consumer) delayRetry(ctx context.Context, msg amazon.Message) {
	if c.cfg.RetryBackoff <= 0 {
		return
	}
	delay := c.cfg.RetryBackoff
	for i := 1; i < msg.ReceiveCount && delay < c.cfg.HandlerTimeout; i++ {
		delay *= 2
	}
	if delay > c.cfg.HandlerTimeout {
		delay = c.cfg.HandlerTimeout
	}
	if err := c.queue.ChangeVisibility(ctx, msg.ReceiptHandle, delay); err != nil {
		log.Warnf("[Consumer] %s could not delay retry of %s: %v", c.cfg.Name, msg.ID, err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg amazon.Message, cause error, errType ErrorType) {
	if c.dlq != nil {
		reason := cause.Error()
		if len(reason) > maxErrorAttrLen {
			reason = reason[:maxErrorAttrLen]
		}
		attrs := map[string]string{
			AttrError:        reason,
			AttrErrorType:    string(errType),
			AttrSourceQueue:  c.cfg.Name,
			AttrReceiveCount: strconv.Itoa(msg.ReceiveCount),
		}
		if err := c.dlq.Send(ctx, msg.Body, c.cfg.Name, attrs); err != nil {
			// keep the original so it is redelivered and dead-lettered later
			log.Errorf("[Consumer] %s could not dead-letter %s: %v", c.cfg.Name, msg.ID, err)
			return
		}
	}

	if c.onDeadLetter != nil {
		c.onDeadLetter(ctx, msg.Body, cause)
	}

	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		log.Errorf("[Consumer] %s dead-lettered %s but could not delete it: %v", c.cfg.Name, msg.ID, err)
	}
}

// RunConsumers runs every consumer until ctx is cancelled
func RunConsumers(ctx context.Context, consumers ...*Consumer) error {
	var wg sync.WaitGroup
	errs := make([]error, len(consumers))
	for i, c := range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Run(ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
