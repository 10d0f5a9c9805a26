package results

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tapduel/go/internal/duel/outcome"
)

// ErrQueueFull is logged when a result arrives faster than the recorders drain.
var ErrQueueFull = errors.New("results queue full")

// WorkerConfig tunes the background recorder loop.
type WorkerConfig struct {
	QueueSize     int
	RecordTimeout time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
}

// DefaultWorkerConfig returns the default loop settings.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		QueueSize:     64,
		RecordTimeout: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// Worker hands finished matches to slow recorders off the session's goroutine.
// Its Callback never blocks.
type Worker struct {
	recorders []Recorder
	config    WorkerConfig
	queue     chan outcome.MatchResult

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewWorker creates a worker that feeds every result to each recorder.
func NewWorker(cfg WorkerConfig, recorders ...Recorder) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultWorkerConfig().QueueSize
	}
	return &Worker{
		recorders: recorders,
		config:    cfg,
		queue:     make(chan outcome.MatchResult, cfg.QueueSize),
	}
}

// Callback enqueues the result. A full queue drops it with a warning.
func (w *Worker) Callback() outcome.Callback {
	return func(res outcome.MatchResult) {
		select {
		case w.queue <- res:
		default:
			log.Warn().Err(ErrQueueFull).Str("match_id", res.MatchID.String()).Msg("dropping match result")
		}
	}
}

// Start runs the loop until ctx is done. Queued results are drained first.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("results worker already running")
	}
	w.running = true
	w.wg.Add(1)
	go w.run(ctx)
	log.Info().Int("recorders", len(w.recorders)).Msg("results worker started")
	return nil
}

// Wait blocks until the loop has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case res := <-w.queue:
			w.process(context.Background(), res)
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case res := <-w.queue:
			w.process(context.Background(), res)
		default:
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, res outcome.MatchResult) {
	for _, r := range w.recorders {
		if err := w.recordWithRetry(ctx, r, res); err != nil {
			log.Error().Err(err).
				Str("match_id", res.MatchID.String()).
				Str("recorder", fmt.Sprintf("%T", r)).
				Msg("failed to record match result")
		}
	}
}

func (w *Worker) recordWithRetry(ctx context.Context, r Recorder, res outcome.MatchResult) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		err := w.recordOnce(ctx, r, res)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn().Err(err).
			Str("match_id", res.MatchID.String()).
			Int("attempt", attempt+1).
			Msg("failed to record match result, retrying")
	}
	return fmt.Errorf("after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}

func (w *Worker) recordOnce(ctx context.Context, r Recorder, res outcome.MatchResult) error {
	if w.config.RecordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.RecordTimeout)
		defer cancel()
	}
	return r.Record(ctx, res)
}
