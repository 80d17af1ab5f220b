package usecase

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/phenrril/pharmastore/internal/domain"
)

type RunState string

const (
	RunRunning  RunState = "running"
	RunFinished RunState = "finished"
)

const defaultRunRetention = time.Hour

// Runner executes one ingestion run synchronously.
type Runner interface {
	Run(ctx context.Context, req domain.IngestRequest, progress domain.ProgressFunc) *domain.IngestResult
}

type RunInfo struct {
	ID         string               `json:"id"`
	PharmacyID string               `json:"pharmacyId"`
	State      RunState             `json:"state"`
	Progress   domain.Progress      `json:"progress"`
	Result     *domain.IngestResult `json:"result,omitempty"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt *time.Time           `json:"finishedAt,omitempty"`
}

type runEntry struct {
	info   RunInfo
	cancel context.CancelCauseFunc
}

// RunRegistry runs ingestions in background goroutines and keeps their
// progress and results for polling. Finished runs are kept for Retention.
type RunRegistry struct {
	Runner    Runner
	Retention time.Duration

	base context.Context
	mu   sync.Mutex
	runs map[string]*runEntry
	wg   sync.WaitGroup
}

// NewRunRegistry derives every run context from base; cancelling base cancels all runs.
func NewRunRegistry(base context.Context, runner Runner) *RunRegistry {
	return &RunRegistry{
		Runner:    runner,
		Retention: defaultRunRetention,
		base:      base,
		runs:      map[string]*runEntry{},
	}
}

func (r *RunRegistry) Start(req domain.IngestRequest) string {
	id := uuid.NewString()
	ctx, cancel := context.WithCancelCause(r.base)

	r.mu.Lock()
	r.pruneLocked(time.Now())
	r.runs[id] = &runEntry{
		info: RunInfo{
			ID:         id,
			PharmacyID: req.PharmacyID,
			State:      RunRunning,
			StartedAt:  time.Now(),
		},
		cancel: cancel,
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel(nil)
		res := r.run(ctx, id, req)

		now := time.Now()
		r.mu.Lock()
		if e, ok := r.runs[id]; ok {
			e.info.State = RunFinished
			e.info.Result = res
			e.info.FinishedAt = &now
		}
		r.mu.Unlock()
		log.Debug().Str("run_id", id).Str("status", string(res.Status)).Msg("run finished")
	}()
	return id
}

// run keeps a panicking runner from taking the process down; the run is
// recorded as failed instead.
func (r *RunRegistry) run(ctx context.Context, id string, req domain.IngestRequest) (res *domain.IngestResult) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Bytes("stack", debug.Stack()).Str("run_id", id).Msg("ingestion run panic")
			res = nil
		}
		if res == nil {
			res = &domain.IngestResult{
				Status:             domain.RunFailed,
				Message:            "Upload failed unexpectedly.",
				UploadedProductIDs: []string{},
				FailedProducts:     []domain.FailedProduct{},
			}
		}
	}()
	return r.Runner.Run(ctx, req, func(p domain.Progress) {
		r.mu.Lock()
		if e, ok := r.runs[id]; ok {
			e.info.Progress = p
		}
		r.mu.Unlock()
	})
}

func (r *RunRegistry) Get(id string) (RunInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[id]
	if !ok {
		return RunInfo{}, domain.ErrNotFound
	}
	return e.info, nil
}

// Cancel signals a running ingestion; cancelling a finished run is a no-op.
func (r *RunRegistry) Cancel(id string) error {
	r.mu.Lock()
	e, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	e.cancel(domain.ErrCancelledByUser)
	return nil
}

// Wait blocks until every started run has returned.
func (r *RunRegistry) Wait() {
	r.wg.Wait()
}

func (r *RunRegistry) pruneLocked(now time.Time) {
	for id, e := range r.runs {
		if e.info.FinishedAt != nil && now.Sub(*e.info.FinishedAt) > r.Retention {
			delete(r.runs, id)
		}
	}
}
