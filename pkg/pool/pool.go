// Package pool implements the worker pool (C3): a bounded set of uci.Workers, some reserved
// for low-latency "live" tasks, dispatched from a priority-aware FIFO queue with per-task
// timeout, bounded retry, and crashed-worker restart.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/herohde/stockpool/pkg/uci"
	"github.com/seekerror/logw"
	"go.uber.org/atomic"
)

// Config configures the pool. All fields except MaxRetries are set from the environment in
// cmd/stockpool (§4.2, §10.3).
type Config struct {
	EnginePath       string
	PoolSize         int
	ReservedForLive  int
	ThreadsPerWorker int
	HashPerWorkerMB  int
	MaxQueueSize     int
	TaskTimeout      time.Duration
	MaxRetries       int
}

func (c Config) withDefaults() Config {
	if c.PoolSize == 0 {
		c.PoolSize = 4
	}
	if c.ReservedForLive == 0 {
		c.ReservedForLive = 1
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = 200
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	return c
}

type slot struct {
	w        *uci.Worker
	reserved bool
	current  *task
}

func (s *slot) idle() bool { return s.w.Status() == uci.StatusIdle }

// Pool owns M workers and a bounded FIFO task queue. Exported methods are safe for concurrent
// use; all shared state (queue, worker assignment) is serialized under mu, and no lock is held
// across engine I/O (§5).
type Pool struct {
	cfg Config

	mu          sync.Mutex
	slots       []*slot
	queue       []*task
	shuttingDown bool

	completed, failed atomic.Uint64
}

// New creates the pool, spawns and boots all configured workers, and returns once every
// worker has completed (or failed) its boot protocol. A worker that fails to boot is left
// crashed rather than aborting the whole pool, so a partially-available engine fleet can still
// serve traffic.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()
	if cfg.ReservedForLive >= cfg.PoolSize {
		return nil, fmt.Errorf("pool: reservedForLive (%v) must be < poolSize (%v)", cfg.ReservedForLive, cfg.PoolSize)
	}

	p := &Pool{cfg: cfg}

	for i := 0; i < cfg.PoolSize; i++ {
		id := fmt.Sprintf("worker-%d", i)
		w := uci.New(id, uci.Options{
			Path:    cfg.EnginePath,
			Threads: cfg.ThreadsPerWorker,
			HashMB:  cfg.HashPerWorkerMB,
		})

		s := &slot{w: w, reserved: i < cfg.ReservedForLive}
		p.slots = append(p.slots, s)

		if err := w.Start(ctx); err != nil {
			logw.Errorf(ctx, "Worker %v failed to start: %v", id, err)
			continue
		}
	}

	logw.Infof(ctx, "Pool started: size=%v reserved=%v", cfg.PoolSize, cfg.ReservedForLive)
	return p, nil
}

// Analyze submits a request and blocks until it completes, fails terminally, or ctx is done.
func (p *Pool) Analyze(ctx context.Context, req Request) (uci.Result, error) {
	t, err := p.enqueue(req)
	if err != nil {
		return uci.Result{}, err
	}

	select {
	case out := <-t.resultCh:
		return out.result, out.err
	case <-ctx.Done():
		return uci.Result{}, ctx.Err()
	}
}

func (p *Pool) enqueue(req Request) (*task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shuttingDown {
		return nil, ErrPoolShuttingDown
	}
	if len(p.queue) >= p.cfg.MaxQueueSize {
		return nil, ErrQueueFull
	}

	t := newTask(req, p.cfg.MaxRetries)
	p.queue = append(p.queue, t)
	p.dispatchLocked()
	return t, nil
}

// dispatchLocked walks the queue in FIFO order, assigning each task to an eligible idle
// worker if one is available, per §4.2's dispatch rule. Caller must hold mu.
func (p *Pool) dispatchLocked() {
	var remaining []*task
	for _, t := range p.queue {
		s := p.pickWorkerLocked(t.req.Priority)
		if s == nil {
			remaining = append(remaining, t)
			continue
		}
		p.startLocked(s, t)
	}
	p.queue = remaining
}

// pickWorkerLocked implements §4.2: live prefers a reserved idle worker, else any idle worker;
// batch only ever claims a non-reserved idle worker. Caller must hold mu.
func (p *Pool) pickWorkerLocked(priority Priority) *slot {
	if priority == PriorityLive {
		for _, s := range p.slots {
			if s.reserved && s.idle() {
				return s
			}
		}
		for _, s := range p.slots {
			if !s.reserved && s.idle() {
				return s
			}
		}
		return nil
	}

	for _, s := range p.slots {
		if !s.reserved && s.idle() {
			return s
		}
	}
	return nil
}

// startLocked marks the worker busy and runs the task asynchronously. Caller must hold mu.
func (p *Pool) startLocked(s *slot, t *task) {
	s.current = t

	taskCtx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(p.cfg.TaskTimeout, cancel)

	go func() {
		defer timer.Stop()
		defer cancel()

		opt := uci.AnalyzeOptions{Depth: t.req.Depth, MultiPV: t.req.MultiPV}
		if t.req.TimeLimit > 0 {
			opt.TimeLimit = optionalDuration(t.req.TimeLimit)
		}

		// On TaskTimeout, the worker sends stop and resolves with best-so-far if the engine
		// responds in time (§4.2 "TaskTimeout": success, not an error); only if nothing comes
		// back within its own grace window does it surface as a crash, handled below exactly
		// like any other worker crash.
		result, err := s.w.Analyze(taskCtx, t.req.FEN, opt, t.req.Progress)
		p.onTaskDone(s, t, result, err)
	}()
}

func (p *Pool) onTaskDone(s *slot, t *task, result uci.Result, err error) {
	p.mu.Lock()

	s.current = nil

	if p.shuttingDown {
		p.mu.Unlock()
		t.resultCh <- taskOutcome{err: ErrPoolShuttingDown}
		return
	}

	if err != nil && isRetryable(err) {
		go p.restart(context.Background(), s)

		if t.retries < t.maxRetries {
			t.retries++
			p.queue = append([]*task{t}, p.queue...) // re-enqueue at front (§4.2 step 4)
			p.dispatchLocked()
			p.mu.Unlock()
			return
		}
	}

	if err != nil {
		p.failed.Inc()
	} else {
		p.completed.Inc()
	}

	p.dispatchLocked()
	p.mu.Unlock()

	t.resultCh <- taskOutcome{result: result, err: err}
}

func isRetryable(err error) bool {
	return errors.Is(err, uci.ErrEngineClosedUnexpectedly) ||
		errors.Is(err, uci.ErrEngineNotReady) ||
		errors.Is(err, uci.ErrEngineShuttingDown)
}

func (p *Pool) restart(ctx context.Context, s *slot) {
	if err := s.w.Restart(ctx); err != nil {
		logw.Errorf(ctx, "Worker %v restart failed: %v", s.w.ID(), err)
		return
	}

	p.mu.Lock()
	p.dispatchLocked()
	p.mu.Unlock()
}

// NewGame broadcasts "ucinewgame" to every idle, non-reserved worker (§4.2 bulk operations).
// Called once per game before submitting its plies.
func (p *Pool) NewGame(ctx context.Context) {
	p.mu.Lock()
	var targets []*uci.Worker
	for _, s := range p.slots {
		if !s.reserved && s.idle() {
			targets = append(targets, s.w)
		}
	}
	p.mu.Unlock()

	for _, w := range targets {
		if err := w.NewGame(ctx); err != nil {
			logw.Warningf(ctx, "NewGame on %v failed: %v", w.ID(), err)
		}
	}
}

// StopLiveTask finds the busy reserved worker, if any, and asks it to stop (§4.2 bulk
// operations; used when a live session issues a newer request).
func (p *Pool) StopLiveTask(ctx context.Context) {
	p.mu.Lock()
	var target *uci.Worker
	for _, s := range p.slots {
		if s.reserved && s.w.Status() == uci.StatusBusy {
			target = s.w
			break
		}
	}
	p.mu.Unlock()

	if target != nil {
		target.Stop(ctx)
	}
}

// Stats reports current pool health (§4.2 "Stats").
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s Stats
	s.QueueLength = len(p.queue)
	s.Completed = p.completed.Load()
	s.Failed = p.failed.Load()

	for _, slot := range p.slots {
		s.Total++
		if slot.reserved {
			s.ReservedTotal++
		}
		switch slot.w.Status() {
		case uci.StatusIdle:
			s.Idle++
			if slot.reserved {
				s.ReservedIdle++
			}
		case uci.StatusBusy:
			s.Busy++
		case uci.StatusCrashed:
			s.Crashed++
		case uci.StatusRestarting:
			s.Restarting++
		}
	}
	return s
}

// Shutdown rejects all queued and in-flight tasks with ErrPoolShuttingDown and asks every
// worker to quit (§5 pool shutdown).
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.shuttingDown = true
	pending := p.queue
	p.queue = nil
	slots := append([]*slot(nil), p.slots...)
	p.mu.Unlock()

	for _, t := range pending {
		t.resultCh <- taskOutcome{err: ErrPoolShuttingDown}
	}

	var wg sync.WaitGroup
	for _, s := range slots {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.w.Shutdown(ctx); err != nil {
				logw.Errorf(ctx, "Worker %v shutdown error: %v", s.w.ID(), err)
			}
		}()
	}
	wg.Wait()

	logw.Infof(ctx, "Pool shut down")
	return nil
}
