package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rgbgroup/infinity-backend/pkg/logger"
)

type fakeStaleReconciler struct {
	lastOlderThan time.Duration
	lastLimit     int
	resolved      int
	err           error
}

func (f *fakeStaleReconciler) ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	f.lastOlderThan = olderThan
	f.lastLimit = limit
	if f.err != nil {
		return 0, f.err
	}
	return f.resolved, nil
}

func TestContractReconcileJobSweepsWithDefaults(t *testing.T) {
	reconciler := &fakeStaleReconciler{resolved: 3}
	job, err := NewContractReconcileJob(ContractReconcileJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Reconciler: reconciler,
	})
	if err != nil {
		t.Fatalf("NewContractReconcileJob: %v", err)
	}
	if got := job.Name(); got != "contract-reconcile" {
		t.Fatalf("unexpected job name %q", got)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reconciler.lastOlderThan != defaultStaleContractAge {
		t.Fatalf("expected olderThan %s, got %s", defaultStaleContractAge, reconciler.lastOlderThan)
	}
	if reconciler.lastLimit != defaultStaleContractBatch {
		t.Fatalf("expected batch %d, got %d", defaultStaleContractBatch, reconciler.lastLimit)
	}
}

func TestContractReconcileJobHonorsOverrides(t *testing.T) {
	reconciler := &fakeStaleReconciler{}
	job, err := NewContractReconcileJob(ContractReconcileJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Reconciler: reconciler,
		OlderThan:  5 * time.Minute,
		Batch:      7,
	})
	if err != nil {
		t.Fatalf("NewContractReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reconciler.lastOlderThan != 5*time.Minute {
		t.Fatalf("expected olderThan 5m, got %s", reconciler.lastOlderThan)
	}
	if reconciler.lastLimit != 7 {
		t.Fatalf("expected batch 7, got %d", reconciler.lastLimit)
	}
}

func TestContractReconcileJobPropagatesError(t *testing.T) {
	job, err := NewContractReconcileJob(ContractReconcileJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Reconciler: &fakeStaleReconciler{err: errors.New("gateway down")},
	})
	if err != nil {
		t.Fatalf("NewContractReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestContractReconcileJobRequiresReconciler(t *testing.T) {
	_, err := NewContractReconcileJob(ContractReconcileJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
