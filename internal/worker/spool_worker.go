package worker

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/assetgen/api/internal/service"
	"github.com/assetgen/api/internal/spool"
)

// spoolCleanupSpec runs the janitor once an hour.
const spoolCleanupSpec = "@every 1h"

// SpoolWorker removes staged smart-object files nobody retried in time
type SpoolWorker struct {
	spool  *spool.Spool
	maxAge time.Duration
	now    func() time.Time
}

// NewSpoolWorker creates a new spool janitor
func NewSpoolWorker(s *spool.Spool, maxAge time.Duration) *SpoolWorker {
	return &SpoolWorker{
		spool:  s,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// ProcessTask handles spool cleanup task processing
func (w *SpoolWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	removed, err := w.spool.Sweep(w.now(), w.maxAge)
	if err != nil {
		return err
	}
	if removed > 0 {
		log.Printf("Spool cleanup removed %d batches from %s", removed, w.spool.Dir())
	}
	return nil
}

// RegisterSpoolCleanup schedules the periodic cleanup task
func RegisterSpoolCleanup(scheduler *asynq.Scheduler) (string, error) {
	return scheduler.Register(spoolCleanupSpec,
		asynq.NewTask(service.TaskTypeSpoolCleanup, nil),
		asynq.Queue(service.QueueMaintenance),
		asynq.MaxRetry(0),
	)
}
