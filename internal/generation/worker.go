package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mrkniai/backend/internal/logging"
	"github.com/mrkniai/backend/internal/models"
)

// RecordSaver persists generation records.
type RecordSaver interface {
	Save(ctx context.Context, rec models.GenerationRecord) error
}

// WorkerConfig controls the concurrency characteristics of the worker.
type WorkerConfig struct {
	QueueSize int
	Workers   int
	// Slack is added to the poller budget to bound a whole task.
	Slack time.Duration
}

// Worker finishes image generations in the background: poll, materialize, persist.
type Worker struct {
	poller       *Poller
	materializer *Materializer
	records      RecordSaver
	logger       *slog.Logger
	slack        time.Duration

	jobs   chan *models.ImageGeneration
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var (
	// ErrWorkerClosed is returned by Enqueue after Shutdown.
	ErrWorkerClosed = errors.New("generation worker closed")
	// ErrQueueFull is returned by Enqueue when every queue slot is taken.
	ErrQueueFull = errors.New("generation queue is full")
)

// NewWorker starts cfg.Workers goroutines draining a bounded queue.
func NewWorker(poller *Poller, materializer *Materializer, records RecordSaver, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Slack <= 0 {
		cfg.Slack = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		poller:       poller,
		materializer: materializer,
		records:      records,
		logger:       logger,
		slack:        cfg.Slack,
		jobs:         make(chan *models.ImageGeneration, cfg.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
	}

	w.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go w.run()
	}

	return w
}

// Enqueue schedules rec for completion. It never waits for a queue slot: a full queue
// returns ErrQueueFull.
func (w *Worker) Enqueue(ctx context.Context, rec *models.ImageGeneration) error {
	if rec == nil {
		return errors.New("enqueue: nil generation")
	}
	copied := *rec

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return ErrWorkerClosed
	default:
	}

	select {
	case w.jobs <- &copied:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown cancels in-flight tasks and waits for the workers to exit.
func (w *Worker) Shutdown(ctx context.Context) error {
	// Queued jobs are dropped; their rows keep the status recorded at submission.
	w.once.Do(w.cancel)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case rec := <-w.jobs:
			w.Process(w.ctx, rec)
		}
	}
}

// Process runs one generation to completion under a deadline derived from the poll budget.
func (w *Worker) Process(parent context.Context, rec *models.ImageGeneration) {
	if w.poller == nil || w.materializer == nil || w.records == nil {
		w.logger.Error("generation worker missing dependencies", "hasPoller", w.poller != nil, "hasMaterializer", w.materializer != nil, "hasRecords", w.records != nil)
		return
	}

	ctx, cancel := context.WithTimeout(parent, w.poller.Budget()+w.slack)
	defer cancel()

	ctx = logging.WithLogger(ctx, w.logger.With("generation_id", rec.ID, "user_id", rec.UserID))
	ctx, span := logging.StartSpan(ctx, "generation.finalize")

	outcome, err := w.poller.Poll(ctx, rec.ID)
	if err != nil {
		// Shutdown: the remote job keeps running and the row keeps its last status.
		span.EndErr(fmt.Errorf("poll interrupted: %w", err))
		return
	}

	if err := w.apply(ctx, rec, outcome); err != nil {
		span.EndErr(err)
		return
	}
	rec.UpdatedAt = time.Now().UTC()

	if err := w.persist(rec); err != nil {
		span.EndErr(err)
		return
	}
	span.Logger().Info("generation finalized", "status", rec.Status)
	span.End()
}

// apply moves rec to the state outcome describes. It returns an error, leaving rec
// untouched, when shutdown interrupts materialization.
func (w *Worker) apply(ctx context.Context, rec *models.ImageGeneration, outcome Outcome) error {
	switch o := outcome.(type) {
	case Succeeded:
		assets, err := w.materializer.Materialize(ctx, rec.UserID, rec.ID, o.Outputs)
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("materialize interrupted: %w", ctx.Err())
		}
		if err != nil {
			rec.Status = models.StatusFailed
			rec.Error = fmt.Sprintf("the model finished but its images could not be saved: %v", err)
			rec.FailureCode = models.FailureAssetsUnavailable
			return nil
		}
		rec.Status = models.StatusSucceeded
		rec.Error = ""
		rec.FailureCode = ""
		rec.Assets = assets
	case Failed:
		rec.Status = models.StatusFailed
		rec.Error = o.Reason
		rec.FailureCode = ""
	case Canceled:
		rec.Status = models.StatusCanceled
		rec.Error = "generation was canceled"
		rec.FailureCode = ""
	case TimedOut:
		rec.Status = models.StatusFailed
		rec.Error = fmt.Sprintf("timed out waiting for the model after %d status checks", o.Attempts)
		rec.FailureCode = models.FailureTimedOut
	default:
		rec.Status = outcome.Status()
	}
	return nil
}

func (w *Worker) persist(rec *models.ImageGeneration) error {
	// The worker context may already be canceled; the final write gets its own budget.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.records.Save(ctx, rec); err != nil {
		return fmt.Errorf("persist generation %s: %w", rec.ID, err)
	}
	return nil
}
