package tasks

import (
	"context"
)

// Processor runs one work item to a terminal state.
type Processor interface {
	Process(ctx context.Context, item WorkItem) (Result, error)
}

// SchedulerInterface is what the process entry point and the ops API use.
//
//	scheduler := NewScheduler(store, pipeline, Options{...})
//	scheduler.Start()
//	defer scheduler.Stop()
type SchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(ctx context.Context, item WorkItem) error
	Stats() Stats
}
