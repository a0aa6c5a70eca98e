package cron

import (
	"context"
	"fmt"

	"github.com/rgbgroup/infinity-backend/pkg/logger"
)

const defaultRefundSettleBatch = 20

type refundSettler interface {
	SettleDue(ctx context.Context, limit int) (int, error)
}

// RefundSettleJobParams configure the pending refund sweep.
type RefundSettleJobParams struct {
	Logger  *logger.Logger
	Settler refundSettler
	Batch   int
}

// NewRefundSettleJob builds the job that pushes pending refunds through
// wallet credit or gateway reversal.
func NewRefundSettleJob(params RefundSettleJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("settler required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultRefundSettleBatch
	}
	return &refundSettleJob{
		logg:    params.Logger,
		settler: params.Settler,
		batch:   batch,
	}, nil
}

type refundSettleJob struct {
	logg    *logger.Logger
	settler refundSettler
	batch   int
}

func (j *refundSettleJob) Name() string { return "refund-settle" }

func (j *refundSettleJob) Run(ctx context.Context) error {
	settled, err := j.settler.SettleDue(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("settle due refunds: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"settled": settled})
	j.logg.Info(logCtx, "refund settlement sweep complete")
	return nil
}
