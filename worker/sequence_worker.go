package worker

import (
	"context"
	"log"
	"time"

	"vitalpath/engine"
)

type SequenceWorker struct {
	Scheduler *engine.Scheduler
	Interval  time.Duration
	Logger    *log.Logger
}

func NewSequenceWorker(scheduler *engine.Scheduler, interval time.Duration, logger *log.Logger) *SequenceWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SequenceWorker{
		Scheduler: scheduler,
		Interval:  interval,
		Logger:    logger,
	}
}

func (sw *SequenceWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Println("Sequence worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sequence worker shutting down...")
			return
		case <-ticker.C:
			if err := sw.Scheduler.RunPass(ctx, time.Now().UTC()); err != nil {
				sw.Logger.Printf("Scheduler pass failed: %v", err)
			}
		}
	}
}
