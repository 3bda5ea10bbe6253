package app

import (
	"context"
	"log"
	"time"

	"github.com/coursekit/enrolflow/internal/enrol/domain"
)

const (
	defaultDispatchInterval = 15 * time.Second
	defaultSweepInterval    = time.Hour
	defaultDispatchBatch    = 32
)

// OutboxProcessor drains due notification jobs through a callback.
type OutboxProcessor interface {
	ProcessOutbox(ctx context.Context, now time.Time, limit int, execute func(context.Context, domain.NotificationJob) error) (int, error)
}

// JobExecutor renders and delivers one claimed notification job.
type JobExecutor interface {
	Execute(ctx context.Context, job domain.NotificationJob) error
}

// SweepRunner performs one expiration sweep pass.
type SweepRunner interface {
	Run(ctx context.Context) (string, error)
}

// StartDispatchWorker drains the notification outbox on an interval.
// It returns a cancel func and a channel closed when the loop exits.
func StartDispatchWorker(outbox OutboxProcessor, executor JobExecutor, interval time.Duration, batch int) (context.CancelFunc, chan struct{}) {
	if outbox == nil || executor == nil {
		return nil, nil
	}
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	if batch <= 0 {
		batch = defaultDispatchBatch
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		runDispatchLoop(ctx, outbox, executor, interval, batch)
	}()

	return cancel, done
}

func runDispatchLoop(ctx context.Context, outbox OutboxProcessor, executor JobExecutor, interval time.Duration, batch int) {
	dispatch := func() {
		delivered, err := outbox.ProcessOutbox(ctx, time.Now().UTC(), batch, executor.Execute)
		if err != nil {
			log.Printf("notification dispatch failed: %v", err)
			return
		}
		if delivered > 0 {
			log.Printf("notification dispatch: %d jobs delivered", delivered)
		}
	}

	dispatch()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dispatch()
		}
	}
}

// StartSweepWorker runs the expiration sweeper on an interval.
// It returns a cancel func and a channel closed when the loop exits.
func StartSweepWorker(sweep SweepRunner, interval time.Duration) (context.CancelFunc, chan struct{}) {
	if sweep == nil {
		return nil, nil
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		runSweepLoop(ctx, sweep, interval)
	}()

	return cancel, done
}

func runSweepLoop(ctx context.Context, sweep SweepRunner, interval time.Duration) {
	pass := func() {
		summary, err := sweep.Run(ctx)
		if err != nil {
			log.Printf("membership sweep failed: %v", err)
			return
		}
		log.Printf("membership sweep: %s", summary)
	}

	pass()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass()
		}
	}
}
