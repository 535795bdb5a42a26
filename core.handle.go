package syncany

import (
	"context"
	"sync"
	"sync/atomic"
)

type Status string

const (
	// StatusRunning only appears in progress notifications.
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusAborting  Status = "aborting"
	StatusCancelled Status = "cancelled"
)

type Result struct {
	OK           bool           `json:"ok"`
	Status       Status         `json:"status"`
	LastSequence SequenceNumber `json:"last_seq"`
	Batches      int            `json:"batches"`
	DocsWritten  int            `json:"docs_written"`
}

type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateStreaming
	StateDraining
	StateComplete
	StateAborted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateComplete || s == StateAborted || s == StateCancelled
}

// Replication is the handle of one run. It reaches exactly one terminal
// state; Done is closed at that moment.
type Replication struct {
	replicationId string
	sessionId     string

	state atomic.Int32

	cancelled    atomic.Bool
	cancelCh     chan struct{}
	cancelOnce   sync.Once
	cancelFeed   context.CancelFunc
	finalizeOnce sync.Once

	done   chan struct{}
	result Result
	err    error

	progress *progressQueue
}

func newReplication(replicationId, sessionId string, progressBuffer int) *Replication {
	return &Replication{
		replicationId: replicationId,
		sessionId:     sessionId,
		cancelCh:      make(chan struct{}),
		done:          make(chan struct{}),
		progress:      newProgressQueue(progressBuffer),
	}
}

func (r *Replication) ReplicationId() string {
	return r.replicationId
}

func (r *Replication) SessionId() string {
	return r.sessionId
}

func (r *Replication) State() State {
	return State(r.state.Load())
}

func (r *Replication) setState(s State) {
	for {
		cur := r.state.Load()
		if State(cur).Terminal() {
			return
		}
		if r.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Cancel asks the run to stop at its next observation point. A batch already
// in the sink is finished and checkpointed first.
func (r *Replication) Cancel() {
	r.cancelOnce.Do(func() {
		r.cancelled.Store(true)
		close(r.cancelCh)
		if r.cancelFeed != nil {
			r.cancelFeed()
		}
	})
}

func (r *Replication) isCancelled() bool {
	return r.cancelled.Load()
}

func (r *Replication) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run is terminal. A failed run returns a *SyncError;
// complete and cancelled runs return a nil error.
func (r *Replication) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result is the final result once Done is closed.
func (r *Replication) Result() Result {
	select {
	case <-r.done:
		return r.result
	default:
		return Result{Status: StatusRunning}
	}
}

// Progress delivers one snapshot per sink invocation and is closed after
// the run is terminal. Once called, the channel must be drained or released
// with StopProgress.
func (r *Replication) Progress() <-chan Result {
	return r.progress.subscribe()
}

// StopProgress drops undelivered snapshots and closes the Progress channel.
// Later snapshots are discarded.
func (r *Replication) StopProgress() {
	r.progress.stop()
}

// finalize is idempotent; only the first terminal outcome is kept.
func (r *Replication) finalize(state State, result Result, err error) bool {
	applied := false
	r.finalizeOnce.Do(func() {
		applied = true
		r.result = result
		r.err = err
		r.state.Store(int32(state))
		close(r.done)
		r.progress.close()
	})
	return applied
}

type progressQueue struct {
	sync.Mutex
	items      []Result
	closed     bool
	stopped    bool
	subscribed bool
	signal     chan struct{}
	halt       chan struct{}
	out        chan Result
}

func newProgressQueue(buffer int) *progressQueue {
	return &progressQueue{
		signal: make(chan struct{}, 1),
		halt:   make(chan struct{}),
		out:    make(chan Result, buffer),
	}
}

// push never blocks the pipeline.
func (q *progressQueue) push(r Result) {
	q.Lock()
	if q.closed || q.stopped {
		q.Unlock()
		return
	}
	q.items = append(q.items, r)
	q.Unlock()
	q.notify()
}

func (q *progressQueue) close() {
	q.Lock()
	q.closed = true
	q.Unlock()
	q.notify()
}

func (q *progressQueue) stop() {
	q.Lock()
	defer q.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	q.items = nil
	close(q.halt)
}

func (q *progressQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *progressQueue) subscribe() <-chan Result {
	q.Lock()
	defer q.Unlock()
	if !q.subscribed {
		q.subscribed = true
		go q.deliver()
	}
	return q.out
}

func (q *progressQueue) deliver() {
	defer close(q.out)
	for {
		q.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.Unlock()

		for _, r := range items {
			select {
			case <-q.halt:
				return
			default:
			}
			select {
			case q.out <- r:
			case <-q.halt:
				return
			}
		}
		if closed && len(items) == 0 {
			return
		}
		if len(items) == 0 {
			select {
			case <-q.signal:
			case <-q.halt:
				return
			}
		}
	}
}
