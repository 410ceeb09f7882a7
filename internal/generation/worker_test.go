package generation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrkniai/backend/internal/models"
	"github.com/mrkniai/backend/internal/replicate"
	"github.com/mrkniai/backend/internal/repositories"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingImage(id string) *models.ImageGeneration {
	return &models.ImageGeneration{
		ID:        id,
		UserID:    "user-1",
		Prompt:    "a lighthouse at dusk",
		Model:     "flux-schnell",
		ModelName: "FLUX Schnell",
		Status:    models.StatusStarting,
		CreatedAt: time.Now().UTC(),
	}
}

func loadImage(t *testing.T, store *repositories.MemoryStore, id string) *models.ImageGeneration {
	t.Helper()
	rec, err := store.Get(context.Background(), "user-1", models.KindImage, id)
	require.NoError(t, err)
	img, ok := rec.(*models.ImageGeneration)
	require.True(t, ok)
	return img
}

func TestWorkerFinalizesSucceededGeneration(t *testing.T) {
	srv := newAssetServer(t)
	store := repositories.NewMemoryStore()
	rec := pendingImage("job-1")
	require.NoError(t, store.Save(context.Background(), rec))

	getter := &scriptedGetter{steps: []step{
		{pred: replicate.Prediction{Status: replicate.StatusProcessing}},
		{pred: replicate.Prediction{Status: replicate.StatusSucceeded, Output: replicate.Output{srv.URL + "/out-0.png", srv.URL + "/out-1"}}},
	}}
	poller := NewPoller(getter, time.Millisecond, 5)
	assets := &assetStoreStub{}
	worker := NewWorker(poller, NewMaterializer(assets, srv.Client()), store, WorkerConfig{QueueSize: 1, Workers: 1}, discardLogger())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = worker.Shutdown(ctx)
	}()

	require.NoError(t, worker.Enqueue(context.Background(), rec))

	waitForCondition(t, func() bool {
		return loadImage(t, store, "job-1").Status == models.StatusSucceeded
	}, 2*time.Second)

	img := loadImage(t, store, "job-1")
	assert.Len(t, img.OutputURLs(), 2)
	assert.Empty(t, img.Error)
	assert.Len(t, assets.Keys(), 2)
}

func TestWorkerProcessOutcomes(t *testing.T) {
	srv := newAssetServer(t)

	cases := []struct {
		name      string
		steps     []step
		status    models.GenerationStatus
		errSubstr string
		code      models.FailureCode
	}{
		{
			name:      "provider failure",
			steps:     []step{{pred: replicate.Prediction{Status: replicate.StatusFailed, Error: []byte(`"out of memory"`)}}},
			status:    models.StatusFailed,
			errSubstr: "out of memory",
		},
		{
			name:      "canceled",
			steps:     []step{{pred: replicate.Prediction{Status: replicate.StatusCanceled}}},
			status:    models.StatusCanceled,
			errSubstr: "canceled",
		},
		{
			name:      "budget exhausted",
			steps:     []step{{pred: replicate.Prediction{Status: replicate.StatusProcessing}}},
			status:    models.StatusFailed,
			errSubstr: "timed out",
			code:      models.FailureTimedOut,
		},
		{
			name:      "all downloads fail",
			steps:     []step{{pred: replicate.Prediction{Status: replicate.StatusSucceeded, Output: replicate.Output{srv.URL + "/gone-0", srv.URL + "/gone-1"}}}},
			status:    models.StatusFailed,
			errSubstr: "could not be saved",
			code:      models.FailureAssetsUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := repositories.NewMemoryStore()
			rec := pendingImage("job-1")
			require.NoError(t, store.Save(context.Background(), rec))

			poller := NewPoller(&scriptedGetter{steps: tc.steps}, time.Millisecond, 3)
			worker := &Worker{
				poller:       poller,
				materializer: NewMaterializer(&assetStoreStub{}, srv.Client()),
				records:      store,
				logger:       discardLogger(),
				slack:        time.Second,
			}

			worker.Process(context.Background(), rec)

			img := loadImage(t, store, "job-1")
			assert.Equal(t, tc.status, img.Status)
			assert.Contains(t, img.Error, tc.errSubstr)
			assert.Equal(t, tc.code, img.FailureCode)
			assert.Empty(t, img.OutputURLs())
		})
	}
}

func TestWorkerInterruptedPollLeavesRecord(t *testing.T) {
	store := repositories.NewMemoryStore()
	rec := pendingImage("job-1")
	require.NoError(t, store.Save(context.Background(), rec))

	poller := NewPoller(&scriptedGetter{steps: []step{{pred: replicate.Prediction{Status: replicate.StatusProcessing}}}}, time.Hour, 3)
	worker := &Worker{poller: poller, materializer: NewMaterializer(nil, nil), records: store, logger: discardLogger(), slack: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	worker.Process(ctx, rec)

	assert.Equal(t, models.StatusStarting, loadImage(t, store, "job-1").Status)
}

// shutdownGetter reports success and cancels the worker context in the same call, as a
// server shutdown landing between the last poll and the downloads would.
type shutdownGetter struct {
	cancel context.CancelFunc
	output string
}

func (g *shutdownGetter) GetPrediction(_ context.Context, id string) (replicate.Prediction, error) {
	g.cancel()
	return replicate.Prediction{ID: id, Status: replicate.StatusSucceeded, Output: replicate.Output{g.output}}, nil
}

func TestWorkerShutdownDuringMaterializeLeavesRecord(t *testing.T) {
	srv := newAssetServer(t)
	store := repositories.NewMemoryStore()
	rec := pendingImage("job-1")
	require.NoError(t, store.Save(context.Background(), rec))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	getter := &shutdownGetter{cancel: cancel, output: srv.URL + "/out-0.png"}
	assets := &assetStoreStub{}
	worker := &Worker{
		poller:       NewPoller(getter, time.Millisecond, 3),
		materializer: NewMaterializer(assets, srv.Client()),
		records:      store,
		logger:       discardLogger(),
		slack:        time.Second,
	}

	worker.Process(ctx, rec)

	img := loadImage(t, store, "job-1")
	assert.Equal(t, models.StatusStarting, img.Status)
	assert.Empty(t, img.Error)
	assert.Empty(t, img.FailureCode)
	assert.Empty(t, assets.Keys())
}

// blockingGetter never answers until its context ends.
type blockingGetter struct {
	once    sync.Once
	started chan struct{}
}

func newBlockingGetter() *blockingGetter {
	return &blockingGetter{started: make(chan struct{})}
}

func (g *blockingGetter) GetPrediction(ctx context.Context, _ string) (replicate.Prediction, error) {
	g.once.Do(func() { close(g.started) })
	<-ctx.Done()
	return replicate.Prediction{}, ctx.Err()
}

func TestWorkerEnqueueDoesNotWaitForFullQueue(t *testing.T) {
	getter := newBlockingGetter()
	worker := NewWorker(NewPoller(getter, time.Millisecond, 3), NewMaterializer(nil, nil), repositories.NewMemoryStore(), WorkerConfig{QueueSize: 1, Workers: 1}, discardLogger())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = worker.Shutdown(ctx)
	}()

	require.NoError(t, worker.Enqueue(context.Background(), pendingImage("job-1")))
	select {
	case <-getter.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not pick up the first job")
	}
	require.NoError(t, worker.Enqueue(context.Background(), pendingImage("job-2")))

	done := make(chan error, 1)
	go func() {
		done <- worker.Enqueue(context.Background(), pendingImage("job-3"))
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}

func TestWorkerRejectsAfterShutdown(t *testing.T) {
	worker := NewWorker(NewPoller(&scriptedGetter{}, time.Millisecond, 1), NewMaterializer(nil, nil), repositories.NewMemoryStore(), WorkerConfig{}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, worker.Shutdown(ctx))

	err := worker.Enqueue(context.Background(), pendingImage("job-1"))
	assert.ErrorIs(t, err, ErrWorkerClosed)
}

func waitForCondition(t *testing.T, predicate func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
