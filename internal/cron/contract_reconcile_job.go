package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/rgbgroup/infinity-backend/pkg/logger"
)

const (
	defaultStaleContractAge   = 30 * time.Minute
	defaultStaleContractBatch = 50
)

type staleContractReconciler interface {
	ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// ContractReconcileJobParams configure the stale contract sweep.
type ContractReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler staleContractReconciler
	OlderThan  time.Duration
	Batch      int
}

// NewContractReconcileJob builds the job that inquires the gateway about
// contracts whose callback never arrived and resolves them either way.
func NewContractReconcileJob(params ContractReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	olderThan := params.OlderThan
	if olderThan <= 0 {
		olderThan = defaultStaleContractAge
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultStaleContractBatch
	}
	return &contractReconcileJob{
		logg:       params.Logger,
		reconciler: params.Reconciler,
		olderThan:  olderThan,
		batch:      batch,
	}, nil
}

type contractReconcileJob struct {
	logg       *logger.Logger
	reconciler staleContractReconciler
	olderThan  time.Duration
	batch      int
}

func (j *contractReconcileJob) Name() string { return "contract-reconcile" }

func (j *contractReconcileJob) Run(ctx context.Context) error {
	resolved, err := j.reconciler.ReconcileStale(ctx, j.olderThan, j.batch)
	if err != nil {
		return fmt.Errorf("reconcile stale contracts: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"older_than": j.olderThan.String(),
		"resolved":   resolved,
	})
	j.logg.Info(logCtx, "stale contract sweep complete")
	return nil
}
