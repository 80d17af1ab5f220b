package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenrril/pharmastore/internal/domain"
)

type blockingRunner struct {
	started chan struct{}
}

func (b blockingRunner) Run(ctx context.Context, req domain.IngestRequest, progress domain.ProgressFunc) *domain.IngestResult {
	progress(domain.Progress{Current: 1, Total: 2})
	close(b.started)
	<-ctx.Done()
	return &domain.IngestResult{Status: domain.RunCancelled}
}

func TestRunRegistry_Lifecycle(t *testing.T) {
	runner := blockingRunner{started: make(chan struct{})}
	reg := NewRunRegistry(context.Background(), runner)

	id := reg.Start(domain.IngestRequest{PharmacyID: "ph-1"})
	<-runner.started

	info, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, RunRunning, info.State)
	assert.Equal(t, "ph-1", info.PharmacyID)
	assert.Equal(t, domain.Progress{Current: 1, Total: 2}, info.Progress)
	assert.Nil(t, info.Result)

	require.NoError(t, reg.Cancel(id))
	reg.Wait()

	info, err = reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, RunFinished, info.State)
	require.NotNil(t, info.Result)
	assert.Equal(t, domain.RunCancelled, info.Result.Status)
	assert.NotNil(t, info.FinishedAt)

	// finished runs can be cancelled again harmlessly
	assert.NoError(t, reg.Cancel(id))
}

func TestRunRegistry_UnknownRun(t *testing.T) {
	reg := NewRunRegistry(context.Background(), blockingRunner{started: make(chan struct{})})
	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, reg.Cancel("nope"), domain.ErrNotFound)
}

func TestRunRegistry_PrunesFinishedRuns(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := blockingRunner{started: make(chan struct{})}
	reg := NewRunRegistry(base, first)
	reg.Retention = -1

	id := reg.Start(domain.IngestRequest{PharmacyID: "ph-1"})
	<-first.started
	require.NoError(t, reg.Cancel(id))
	reg.Wait()

	next := blockingRunner{started: make(chan struct{})}
	reg.Runner = next
	id2 := reg.Start(domain.IngestRequest{PharmacyID: "ph-1"})
	<-next.started

	_, err := reg.Get(id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = reg.Get(id2)
	assert.NoError(t, err)

	// cancelling the base context stops every run
	cancel()
	reg.Wait()
	info, err := reg.Get(id2)
	require.NoError(t, err)
	assert.Equal(t, RunFinished, info.State)
}

type panicRunner struct{}

func (panicRunner) Run(ctx context.Context, req domain.IngestRequest, progress domain.ProgressFunc) *domain.IngestResult {
	panic("sheet parser blew up")
}

func TestRunRegistry_PanickingRunRecordedAsFailed(t *testing.T) {
	reg := NewRunRegistry(context.Background(), panicRunner{})

	id := reg.Start(domain.IngestRequest{PharmacyID: "ph-1"})
	reg.Wait()

	info, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, RunFinished, info.State)
	require.NotNil(t, info.Result)
	assert.Equal(t, domain.RunFailed, info.Result.Status)
	assert.False(t, info.Result.Success)
	assert.NotNil(t, info.Result.UploadedProductIDs)
}

type causeRunner struct {
	started chan struct{}
	cause   chan error
}

func (c causeRunner) Run(ctx context.Context, req domain.IngestRequest, progress domain.ProgressFunc) *domain.IngestResult {
	close(c.started)
	<-ctx.Done()
	c.cause <- context.Cause(ctx)
	return &domain.IngestResult{Status: domain.RunCancelled}
}

func TestRunRegistry_CancelCause(t *testing.T) {
	base, stop := context.WithCancelCause(context.Background())
	defer stop(nil)

	user := causeRunner{started: make(chan struct{}), cause: make(chan error, 1)}
	reg := NewRunRegistry(base, user)
	id := reg.Start(domain.IngestRequest{PharmacyID: "ph-1"})
	<-user.started
	require.NoError(t, reg.Cancel(id))
	assert.ErrorIs(t, <-user.cause, domain.ErrCancelledByUser)
	reg.Wait()

	shutdown := causeRunner{started: make(chan struct{}), cause: make(chan error, 1)}
	reg.Runner = shutdown
	reg.Start(domain.IngestRequest{PharmacyID: "ph-2"})
	<-shutdown.started
	stop(domain.ErrShuttingDown)
	assert.ErrorIs(t, <-shutdown.cause, domain.ErrShuttingDown)
	reg.Wait()
}
