package ocr

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// PollState is a step of the job lifecycle driven by Poller
type PollState string

const (
	StateSubmitted PollState = "submitted"
	StatePolling   PollState = "polling"
	StateSucceeded PollState = "succeeded"
	StateFailed    PollState = "failed"
	StateTimedOut  PollState = "timed_out"
)

// PollConfig bounds how a job is waited on
type PollConfig struct {
	InitialBackoff time.Duration // first wait after submission
	MaxBackoff     time.Duration // cap on a single wait
	Deadline       time.Duration // wall-clock budget from submission
}

// DefaultPollConfig fits inside the 300s queue visibility window
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Deadline:       4 * time.Minute,
	}
}

// CalculateBackoff returns initial * 2^attempt, capped at MaxBackoff
func CalculateBackoff(attempt int, cfg PollConfig) time.Duration {
	if attempt > 30 {
		return cfg.MaxBackoff
	}
	backoff := cfg.InitialBackoff * time.Duration(1<<uint(attempt))
	if backoff > cfg.MaxBackoff || backoff <= 0 {
		return cfg.MaxBackoff
	}
	return backoff
}

// Poller submits a job and waits for a terminal state
type Poller struct {
	engine Engine
	cfg    PollConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller over engine
func NewPoller(engine Engine, cfg PollConfig) *Poller {
	def := DefaultPollConfig()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = def.Deadline
	}
	return &Poller{
		engine: engine,
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Run starts a kind job on key and polls it to completion
func (p *Poller) Run(ctx context.Context, key string, kind JobKind) (*Job, error) {
	var (
		state    = StateSubmitted
		jobID    string
		job      *Job
		attempt  int
		deadline time.Time
	)

	for {
		switch state {
		case StateSubmitted:
			id, err := p.engine.Start(ctx, key, kind)
			if err != nil {
				return nil, fmt.Errorf("failed to start %s job for %s: %w", kind, key, err)
			}
			jobID = id
			deadline = p.now().Add(p.cfg.Deadline)
			state = StatePolling

		case StatePolling:
			remaining := deadline.Sub(p.now())
			if remaining <= 0 {
				state = StateTimedOut
				continue
			}
			wait := CalculateBackoff(attempt, p.cfg)
			if wait > remaining {
				wait = remaining
			}
			if err := p.sleep(ctx, wait); err != nil {
				return nil, err
			}
			attempt++

			polled, err := p.engine.Get(ctx, jobID, kind)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Warnf("[OCR] Poll %d of %s job %s failed: %v", attempt, kind, jobID, err)
				continue
			}
			job = polled
			switch {
			case job.Status.Done():
				state = StateSucceeded
			case job.Status == JobFailed:
				state = StateFailed
			}

		case StateSucceeded:
			log.Debugf("[OCR] %s job %s for %s succeeded after %d polls", kind, jobID, key, attempt)
			return job, nil

		case StateFailed:
			return nil, fmt.Errorf("%w: %s job %s for %s: %s", ErrJobFailed, kind, jobID, key, job.Message)

		case StateTimedOut:
			return nil, fmt.Errorf("%w: %s job %s for %s after %s", ErrJobTimedOut, kind, jobID, key, p.cfg.Deadline)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
