package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/stayware/cohost-platform/pkg/logging"
)

const (
	defaultWorkerCount  = 2
	defaultWaitSeconds  = 2
	defaultBatchSize    = 5
	maxWaitSeconds      = 20
	maxReceiveBatchSize = 10
)

// Worker consumes conversation jobs from the queue and invokes the engine.
type Worker struct {
	engine *Engine
	queue  queueClient
	logger *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// NewWorker constructs a queue consumer around the engine.
func NewWorker(engine *Engine, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if engine == nil {
		panic("conversation: engine cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		engine: engine,
		queue:  queue,
		logger: logger,
		cfg:    cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleJob(ctx, msg)
		}
	}
}

func (w *Worker) handleJob(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode conversation job", "error", err)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	var err error
	switch payload.Kind {
	case jobTypeInbound:
		if payload.Message == nil {
			w.logger.Error("inbound job missing message", "job_id", payload.ID)
			w.deleteMessage(msg.ReceiptHandle)
			return
		}
		err = w.engine.HandleMessage(ctx, *payload.Message)
	case jobTypeBookingUpdate:
		if payload.BookingUpdate == nil {
			w.logger.Error("booking update job missing event", "job_id", payload.ID)
			w.deleteMessage(msg.ReceiptHandle)
			return
		}
		err = w.engine.HandleBookingUpdate(ctx, *payload.BookingUpdate)
	case jobTypeHumanResolve:
		if payload.Resolve == nil {
			w.logger.Error("resolve job missing event", "job_id", payload.ID)
			w.deleteMessage(msg.ReceiptHandle)
			return
		}
		err = w.engine.ResolveByHuman(ctx, *payload.Resolve)
		if errors.Is(err, ErrStaleTransition) {
			// Already resolved or never escalated; nothing to redo.
			err = nil
		}
	default:
		w.logger.Error("unknown conversation job kind", "kind", payload.Kind, "job_id", payload.ID)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Leave the message on the queue; SQS redelivers after the
		// visibility timeout.
		w.logger.Error("conversation job failed",
			"job_id", payload.ID,
			"kind", payload.Kind,
			"error", err,
		)
		return
	}
	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation job", "error", err)
	}
}
