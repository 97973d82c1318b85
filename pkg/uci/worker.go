package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/lang"
	"github.com/seekerror/stdlib/pkg/util/contextx"
	"github.com/seekerror/stdlib/pkg/util/iox"
)

// Status is a worker's lifecycle state, per the C2 data model.
type Status int

const (
	StatusInitializing Status = iota
	StatusIdle
	StatusBusy
	StatusCrashed
	StatusRestarting
	StatusShutdown
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusCrashed:
		return "crashed"
	case StatusRestarting:
		return "restarting"
	case StatusShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Options configures a worker's engine subprocess.
type Options struct {
	// Path is the engine binary path.
	Path string
	// Threads is sent as "setoption name Threads value <n>" during boot, if > 0.
	Threads int
	// HashMB is sent as "setoption name Hash value <n>" during boot, if > 0.
	HashMB int

	// InitTimeout bounds uciok/readyok waits during boot. Default 15s.
	InitTimeout time.Duration
	// HeartbeatTimeout is the max silence (no parsed line) while busy before a forced
	// restart. Default 60s.
	HeartbeatTimeout time.Duration
	// MaxRestarts is the number of consecutive restart attempts before giving up. Default 3.
	MaxRestarts int
	// RestartBackoff is the delay between consecutive restart attempts. Default 2s.
	RestartBackoff time.Duration
	// ShutdownGrace bounds each phase (quit, SIGTERM) of the shutdown escalation. Default 5s.
	ShutdownGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.InitTimeout == 0 {
		o.InitTimeout = 15 * time.Second
	}
	if o.HeartbeatTimeout == 0 {
		o.HeartbeatTimeout = 60 * time.Second
	}
	if o.MaxRestarts == 0 {
		o.MaxRestarts = 3
	}
	if o.RestartBackoff == 0 {
		o.RestartBackoff = 2 * time.Second
	}
	if o.ShutdownGrace == 0 {
		o.ShutdownGrace = 5 * time.Second
	}
	return o
}

// AnalyzeOptions are the per-task parameters for one analysis.
type AnalyzeOptions struct {
	Depth     int
	MultiPV   int
	TimeLimit lang.Optional[time.Duration]
}

// Worker owns one engine subprocess and drives it through the UCI protocol. It runs one
// analysis at a time; a call to Analyze while another is running fails with ErrEngineNotReady,
// so the pool (C3) keeps only one task in flight per worker (§4.1, §5).
type Worker struct {
	id  string
	opt Options

	mu     sync.Mutex
	status Status
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	lastMultiPV int

	restartAttempts int
	completed, failed uint64

	pulse  *iox.Pulse
	closed iox.AsyncCloser

	progress chan<- []PVLine // set only while a task with a progress sink is running
}

// New creates a worker. Call Start to spawn and boot the subprocess.
func New(id string, opt Options) *Worker {
	return &Worker{
		id:     id,
		opt:    opt.withDefaults(),
		status: StatusInitializing,
		pulse:  iox.NewPulse(),
		closed: iox.NewAsyncCloser(),
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() string {
	return w.id
}

// Status returns the worker's current lifecycle state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stats returns the worker's cumulative completed/failed task counters.
func (w *Worker) Stats() (completed, failed uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completed, w.failed
}

// Start spawns the subprocess and runs the boot protocol (§4.1): uci/uciok, configuration
// options, isready/readyok. Transitions to idle on success.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.spawn(ctx); err != nil {
		w.status = StatusCrashed
		return err
	}
	if err := w.boot(ctx); err != nil {
		w.status = StatusCrashed
		return err
	}

	w.status = StatusIdle
	go w.heartbeatLoop(ctx)

	logw.Infof(ctx, "Worker %v started: %v", w.id, w.opt.Path)
	return nil
}

func (w *Worker) spawn(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, w.opt.Path)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrEngineStartFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrEngineStartFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrEngineStartFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineStartFailed, err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.lines = make(chan string, 256)

	go w.readLines(ctx, stdout)
	go w.readStderr(ctx, stderr)

	return nil
}

func (w *Worker) readLines(ctx context.Context, r io.Reader) {
	defer close(w.lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if contextx.IsCancelled(ctx) {
			return
		}

		line := scanner.Text()
		logw.Debugf(ctx, "[%v] << %v", w.id, line)
		w.pulse.Emit()

		select {
		case w.lines <- line:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) readStderr(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logw.Warningf(ctx, "[%v] stderr: %v", w.id, scanner.Text())
	}
}

func (w *Worker) send(ctx context.Context, line string) error {
	logw.Debugf(ctx, "[%v] >> %v", w.id, line)
	_, err := fmt.Fprintf(w.stdin, "%v\n", line)
	return err
}

// boot runs the §4.1 boot protocol. Caller must hold mu.
func (w *Worker) boot(ctx context.Context) error {
	if err := w.send(ctx, "uci"); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineStartFailed, err)
	}
	if !w.waitFor(ctx, "uciok", w.opt.InitTimeout) {
		return ErrEngineInitTimeout
	}

	if w.opt.Threads > 0 {
		_ = w.send(ctx, formatSetOption("Threads", w.opt.Threads))
	}
	if w.opt.HashMB > 0 {
		_ = w.send(ctx, formatSetOption("Hash", w.opt.HashMB))
	}
	_ = w.send(ctx, formatSetOption("MultiPV", 1))
	w.lastMultiPV = 1

	if err := w.send(ctx, "isready"); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineStartFailed, err)
	}
	if !w.waitFor(ctx, "readyok", w.opt.InitTimeout) {
		return ErrEngineInitTimeout
	}
	return nil
}

func (w *Worker) waitFor(ctx context.Context, token string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				return false
			}
			if line == token {
				return true
			}
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// heartbeatLoop forces a restart if busy with no parsed line for HeartbeatTimeout (§4.1).
func (w *Worker) heartbeatLoop(ctx context.Context) {
	wctx, cancel := contextx.WithQuitCancel(ctx, w.closed.Closed())
	defer cancel()

	t := time.NewTimer(w.opt.HeartbeatTimeout)
	defer t.Stop()

	for {
		select {
		case <-w.pulse.Chan():
			if !t.Stop() {
				<-t.C
			}
			t.Reset(w.opt.HeartbeatTimeout)
		case <-t.C:
			w.mu.Lock()
			busy := w.status == StatusBusy
			w.mu.Unlock()
			if busy {
				logw.Warningf(ctx, "Worker %v heartbeat timeout while busy; forcing restart", w.id)
				_ = w.Restart(ctx)
			}
			t.Reset(w.opt.HeartbeatTimeout)
		case <-wctx.Done():
			return
		}
	}
}

// Analyze runs one analysis to completion (§4.1 analysis protocol). progress, if non-nil,
// receives a snapshot of in-progress PV lines at most every 200ms; it is never closed by
// Analyze and sends are non-blocking (a slow consumer just misses intermediate frames).
func (w *Worker) Analyze(ctx context.Context, fen string, opt AnalyzeOptions, progress chan<- []PVLine) (Result, error) {
	w.mu.Lock()
	if w.status != StatusIdle {
		status := w.status
		w.mu.Unlock()
		if status == StatusShutdown {
			return Result{}, ErrEngineShuttingDown
		}
		return Result{}, ErrEngineNotReady
	}
	w.status = StatusBusy
	w.mu.Unlock()

	result, err := w.runAnalysis(ctx, fen, opt, progress)

	w.mu.Lock()
	if err != nil && isFatal(err) {
		w.status = StatusCrashed
		w.failed++
	} else {
		if w.status == StatusBusy {
			w.status = StatusIdle
		}
		if err != nil {
			w.failed++
		} else {
			w.completed++
			w.restartAttempts = 0
		}
	}
	w.mu.Unlock()

	return result, err
}

func isFatal(err error) bool {
	return errors.Is(err, ErrEngineClosedUnexpectedly)
}

func (w *Worker) runAnalysis(ctx context.Context, fenStr string, opt AnalyzeOptions, progress chan<- []PVLine) (Result, error) {
	multiPV := opt.MultiPV
	if multiPV <= 0 {
		multiPV = 1
	}
	if multiPV != w.lastMultiPV {
		if err := w.send(ctx, formatSetOption("MultiPV", multiPV)); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrEngineClosedUnexpectedly, err)
		}
		w.lastMultiPV = multiPV
	}

	if err := w.send(ctx, fmt.Sprintf("position fen %v", fenStr)); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEngineClosedUnexpectedly, err)
	}

	depth := opt.Depth
	if depth <= 0 {
		depth = 15
	}
	if err := w.send(ctx, fmt.Sprintf("go depth %v", depth)); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEngineClosedUnexpectedly, err)
	}

	// wctx ties analysis cancellation to both the caller's ctx (the pool's per-task deadline)
	// and worker shutdown, so Shutdown interrupts an in-flight analysis cooperatively instead
	// of only via process kill.
	wctx, cancel := contextx.WithQuitCancel(ctx, w.closed.Closed())
	defer cancel()

	lines := map[int]*LineState{}
	progressTick := time.NewTicker(200 * time.Millisecond)
	defer progressTick.Stop()

	graceTimer := time.NewTimer(24 * time.Hour) // armed only after stop is sent
	graceTimer.Stop()
	defer graceTimer.Stop()
	stopSent := false

	arm := func() {
		if stopSent {
			return
		}
		stopSent = true
		_ = w.send(ctx, "stop")
		graceTimer.Reset(2 * time.Second)
	}

	// timeLimitFired is the task's own TimeLimit expiry (§4.1 item 5): "on expiry, send stop;
	// if no bestmove arrives within an additional 2s, treat as crash." It is independent of the
	// pool's much coarser TaskTimeout carried on ctx, so a short TimeLimit still gets its own
	// ~TimeLimit+2s grace-then-crash even when the pool's per-task deadline is far longer.
	var timeLimitFired chan struct{}
	if tl, ok := opt.TimeLimit.V(); ok && tl > 0 {
		timeLimitFired = make(chan struct{}, 1)
		timer := time.AfterFunc(tl, func() {
			select {
			case timeLimitFired <- struct{}{}:
			default:
			}
		})
		defer timer.Stop()
	}

	// doneCh is nil'd out once stop has been sent, so the select does not spin on the
	// already-closed Done() channel (a closed channel is always select-ready) while graceTimer
	// runs its 2s.
	doneCh := wctx.Done()

	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				return Result{}, ErrEngineClosedUnexpectedly
			}

			if move, ponder, isBest := parseBestMove(line); isBest {
				if move == "(none)" {
					return Result{}, ErrNoLegalMoves
				}

				pv := snapshot(lines)
				return Result{
					Lines:      pv,
					BestMove:   move,
					PonderMove: ponder,
					Depth:      maxDepth(pv),
				}, nil
			}

			mergeInfoLine(lines, line)

		case <-progressTick.C:
			if progress != nil {
				snap := snapshot(lines)
				select {
				case progress <- snap:
				default:
				}
			}

		case <-timeLimitFired:
			arm()

		case <-graceTimer.C:
			return Result{}, ErrEngineClosedUnexpectedly

		case <-doneCh:
			arm()
			doneCh = nil
		}
	}
}

func maxDepth(lines []PVLine) int {
	d := 0
	for _, l := range lines {
		if l.Depth > d {
			d = l.Depth
		}
	}
	return d
}

// Stop sends "stop" to the engine (cooperative cancellation of the in-flight analysis, if
// any). It is a no-op if the worker is not busy.
func (w *Worker) Stop(ctx context.Context) {
	w.mu.Lock()
	busy := w.status == StatusBusy
	w.mu.Unlock()
	if busy {
		_ = w.send(ctx, "stop")
	}
}

// NewGame sends "ucinewgame", clearing any cross-game transposition state. Only valid while
// idle; ignored otherwise (§4.2 bulk operation semantics select eligible workers before
// calling this).
func (w *Worker) NewGame(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusIdle {
		return nil
	}
	return w.send(ctx, "ucinewgame")
}

// Restart attempts to recycle a crashed (or misbehaving) worker's subprocess, honoring the
// consecutive-attempt budget and back-off (§4.1 restart policy; §9 intra-worker vs. pool-level
// agreement).
func (w *Worker) Restart(ctx context.Context) error {
	w.mu.Lock()
	if w.restartAttempts >= w.opt.MaxRestarts {
		w.status = StatusCrashed
		w.mu.Unlock()
		logw.Errorf(ctx, "Worker %v exhausted %v restart attempts; engine-failed", w.id, w.opt.MaxRestarts)
		return fmt.Errorf("%w: restart budget exhausted", ErrEngineClosedUnexpectedly)
	}
	w.restartAttempts++
	w.status = StatusRestarting
	attempt := w.restartAttempts
	w.mu.Unlock()

	w.killProcess()

	logw.Warningf(ctx, "Restarting worker %v (attempt %v/%v)", w.id, attempt, w.opt.MaxRestarts)
	time.Sleep(w.opt.RestartBackoff)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.spawn(ctx); err != nil {
		w.status = StatusCrashed
		return err
	}
	if err := w.boot(ctx); err != nil {
		w.status = StatusCrashed
		return err
	}
	w.status = StatusIdle
	return nil
}

func (w *Worker) killProcess() {
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
		_, _ = w.cmd.Process.Wait()
	}
}

// Shutdown sends "quit", waits for exit, then escalates to SIGTERM/SIGKILL (§4.1). Idempotent.
func (w *Worker) Shutdown(ctx context.Context) error {
	if !w.closed.IsClosed() {
		w.closed.Close()
	}

	w.mu.Lock()
	w.status = StatusShutdown
	cmd := w.cmd
	w.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = w.send(ctx, "quit")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(w.opt.ShutdownGrace):
	}

	logw.Warningf(ctx, "Worker %v did not quit cleanly; terminating", w.id)
	_ = cmd.Process.Signal(terminateSignal())

	select {
	case <-done:
		return nil
	case <-time.After(w.opt.ShutdownGrace):
	}

	logw.Errorf(ctx, "Worker %v did not terminate; killing", w.id)
	_ = cmd.Process.Kill()
	<-done
	return nil
}
