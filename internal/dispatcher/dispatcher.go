// Package dispatcher runs the background loop that drains the work item queue
// and executes each job, independent of any HTTP request lifetime.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shineum/mailr/internal/metrics"
	"github.com/shineum/mailr/internal/workqueue"
)

// ErrAlreadyRunning is returned by Start on a running dispatcher.
var ErrAlreadyRunning = errors.New("dispatcher already running")

// dequeueBackoff is how long a loop waits after a failed dequeue.
const dequeueBackoff = 100 * time.Millisecond

// State is the lifecycle state of a Dispatcher.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Source is the consuming side of the work item queue.
type Source interface {
	Dequeue(ctx context.Context) (workqueue.WorkItem, error)
}

// Config configures a Dispatcher.
type Config struct {
	// Workers is the number of loops draining the queue. Defaults to 1.
	Workers int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// PanicError wraps a value recovered from a panicking job.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

// Dispatcher executes queued jobs one at a time per worker. A failing job is
// logged with its tag and never stops the loop; jobs are not retried here.
type Dispatcher struct {
	source  Source
	workers int
	log     *slog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	state      State
	stopLoops  context.CancelFunc
	cancelJobs context.CancelFunc
	done       chan struct{}
}

// New creates a stopped Dispatcher reading from source.
func New(source Source, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Dispatcher{
		source:  source,
		workers: cfg.Workers,
		log:     cfg.Logger.With("component", "dispatcher"),
		metrics: cfg.Metrics,
		state:   StateStopped,
	}
}

// Start spawns the worker loops. They run until ctx is cancelled or Stop is
// called, whichever comes first.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateStopped {
		return ErrAlreadyRunning
	}

	// Loops stop dequeuing on loopCtx; jobs run on jobCtx, which Stop only
	// cancels once its grace period is over.
	loopCtx, stopLoops := context.WithCancel(ctx)
	jobCtx, cancelJobs := context.WithCancel(ctx)
	done := make(chan struct{})
	d.stopLoops = stopLoops
	d.cancelJobs = cancelJobs
	d.done = done
	d.state = StateRunning

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.loop(loopCtx, jobCtx, worker)
		}(i)
	}

	go func() {
		wg.Wait()
		stopLoops()
		cancelJobs()
		d.mu.Lock()
		d.state = StateStopped
		d.mu.Unlock()
		close(done)
	}()

	d.log.Info("dispatcher started", "workers", d.workers)
	return nil
}

// Stop signals the loops to stop requesting work and waits for them to exit.
// Jobs still queued stay in the queue. An in-flight job keeps running until
// ctx expires; its context is then cancelled, Stop returns ctx.Err() and the
// job is abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.state == StateStopped {
		d.mu.Unlock()
		return nil
	}
	if d.state == StateRunning {
		d.state = StateStopping
	}
	d.stopLoops()
	cancelJobs, done := d.cancelJobs, d.done
	d.mu.Unlock()

	d.log.Info("stopping dispatcher")

	select {
	case <-done:
		d.log.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		cancelJobs()
		d.log.Warn("dispatcher shutdown timeout reached, abandoning in-flight job")
		return ctx.Err()
	}
}

// State reports the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Done is closed once every loop started by the last Start has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return d.done
}

func (d *Dispatcher) loop(loopCtx, jobCtx context.Context, worker int) {
	log := d.log.With("worker", worker)

	for {
		if loopCtx.Err() != nil {
			return
		}

		item, err := d.source.Dequeue(loopCtx)
		if err != nil {
			if loopCtx.Err() != nil {
				log.Debug("dispatcher loop exiting")
				return
			}
			log.Error("dequeue failed", "error", err, "retry_in", dequeueBackoff)
			select {
			case <-loopCtx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}

		d.execute(jobCtx, log, item)
	}
}

// execute runs one job, containing any error or panic to this item.
func (d *Dispatcher) execute(ctx context.Context, log *slog.Logger, item workqueue.WorkItem) {
	start := time.Now()
	err := run(ctx, item.Job)
	elapsed := time.Since(start)

	if err != nil {
		d.metrics.JobProcessed(metrics.OutcomeFaulted, elapsed)

		attrs := []any{"tag", item.Tag, "elapsed", elapsed, "error", err}
		var pe *PanicError
		if errors.As(err, &pe) {
			attrs = append(attrs, "stack", string(pe.Stack))
		}
		log.Error("job faulted", attrs...)
		return
	}

	d.metrics.JobProcessed(metrics.OutcomeCompleted, elapsed)
	log.Debug("job completed", "tag", item.Tag, "elapsed", elapsed)
}

func run(ctx context.Context, job workqueue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return job(ctx)
}
