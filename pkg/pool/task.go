package pool

import (
	"time"

	"github.com/google/uuid"
	"github.com/herohde/stockpool/pkg/uci"
)

// Priority selects a task's queue class: live tasks get preferential access to reserved
// capacity, batch tasks never take a reserved worker while any non-reserved worker is idle
// (§4.2 dispatch rule).
type Priority int

const (
	PriorityBatch Priority = iota
	PriorityLive
)

func (p Priority) String() string {
	if p == PriorityLive {
		return "live"
	}
	return "batch"
}

// Request is the caller-facing shape of one analysis submission.
type Request struct {
	FEN       string
	Depth     int
	MultiPV   int
	TimeLimit time.Duration
	Priority  Priority

	// Progress, if non-nil, receives streaming PV snapshots while the task runs (§4.1
	// streaming progress; §9 callback-to-channel redesign). The caller owns the channel.
	Progress chan<- []uci.PVLine
}

// task is the internal queue element (§3 "Task"): a Request plus bookkeeping the dispatcher
// needs (id, retry count, enqueue time, and the channel the submitter awaits).
type task struct {
	id         string
	req        Request
	enqueuedAt time.Time
	retries    int
	maxRetries int

	resultCh chan taskOutcome
}

type taskOutcome struct {
	result uci.Result
	err    error
}

func newTask(req Request, maxRetries int) *task {
	return &task{
		id:         uuid.NewString(),
		req:        req,
		enqueuedAt: time.Now(),
		maxRetries: maxRetries,
		resultCh:   make(chan taskOutcome, 1),
	}
}

// Stats summarizes pool health for monitoring/health endpoints (§4.2 "Stats").
type Stats struct {
	Total, Idle, Busy, Crashed, Restarting int
	ReservedTotal, ReservedIdle            int
	QueueLength                            int
	Completed, Failed                      uint64
}
