package syncany

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/meidoworks/nekoq-syncany/logging"
)

const (
	DefaultBatchSize      = 100
	DefaultProgressBuffer = 16
)

type Options struct {
	ReplicationId string
	// BatchSize is the maximum number of change entries per sink call.
	// Zero means DefaultBatchSize.
	BatchSize int
	// ProgressBuffer is the capacity of the channel returned by Progress.
	ProgressBuffer int
	Logger         *logrus.Entry
}

func (o *Options) normalize() error {
	if o.ReplicationId == "" {
		return &ConfigurationError{Field: "ReplicationId", Err: ErrMissingReplicationId}
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchSize < 0 {
		return &ConfigurationError{Field: "BatchSize", Err: ErrInvalidBatchSize}
	}
	if o.ProgressBuffer <= 0 {
		o.ProgressBuffer = DefaultProgressBuffer
	}
	if o.Logger == nil {
		o.Logger = logging.Module("syncany")
	}
	return nil
}

// run is the controller state of one replication.
type run struct {
	handle    *Replication
	src       Source
	cps       CheckpointStore
	batchSize int
	log       *logrus.Entry

	ctx     context.Context
	feedCtx context.Context

	// queue carries sealed batches from the feed to the pipeline. The feed
	// side closes it. On a feed failure feedErr is set and feedFailed closed
	// first, so batches still queued are discarded.
	queue      chan *Batch
	feedErr    error
	feedFailed chan struct{}

	pipe *pipeline
}

// StartSync validates opts and starts a replication from src into sink,
// resuming at the checkpoint stored in cps under opts.ReplicationId.
// Invalid options return a *ConfigurationError before any collaborator is
// used. Cancelling ctx has the same effect as Replication.Cancel.
func StartSync(ctx context.Context, src Source, cps CheckpointStore, sink SinkFunc, opts Options) (*Replication, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, &ConfigurationError{Field: "sink", Err: ErrMissingSink}
	}
	if src == nil || cps == nil {
		return nil, &ConfigurationError{Field: "source", Err: ErrMissingCollaborator}
	}

	sessionId := uuid.NewString()
	handle := newReplication(opts.ReplicationId, sessionId, opts.ProgressBuffer)
	log := opts.Logger.WithFields(logrus.Fields{
		"replication_id": opts.ReplicationId,
		"session_id":     sessionId,
	})

	base := context.WithoutCancel(ctx)
	feedCtx, cancelFeed := context.WithCancel(base)
	handle.cancelFeed = cancelFeed

	rn := &run{
		handle:    handle,
		src:       src,
		cps:       cps,
		batchSize: opts.BatchSize,
		log:       log,
		ctx:       base,
		feedCtx:   feedCtx,
		queue:      make(chan *Batch, 1),
		feedFailed: make(chan struct{}),
		pipe: &pipeline{
			ctx:           base,
			replicationId: opts.ReplicationId,
			sessionId:     sessionId,
			resolver:      NewResolver(src),
			sink:          sink,
			cps:           cps,
			progress:      handle.progress,
			log:           log,
		},
	}

	stop := context.AfterFunc(ctx, handle.Cancel)
	go func() {
		defer stop()
		defer cancelFeed()
		rn.loop()
	}()
	return handle, nil
}

func (rn *run) loop() {
	h := rn.handle
	h.setState(StateInitializing)
	rn.log.Info("replication start")

	since, err := rn.cps.GetCheckpoint(rn.ctx, h.replicationId)
	if err != nil {
		rn.abort(&stageError{kind: ErrorKindCheckpointRead, err: errors.Wrap(err, "read checkpoint")})
		return
	}
	rn.pipe.checkpointed = since
	rn.pipe.result = Result{OK: true, Status: StatusRunning, LastSequence: since}
	rn.log.WithField("seq", since).Info("checkpoint loaded")

	if h.isCancelled() {
		rn.cancel()
		return
	}

	h.setState(StateStreaming)
	go rn.streamFeed(since)

	for {
		if h.isCancelled() {
			rn.cancel()
			return
		}
		select {
		case b, ok := <-rn.queue:
			if !ok {
				rn.feedClosed()
				return
			}
			if h.isCancelled() {
				rn.cancel()
				return
			}
			if rn.failed() {
				rn.abort(&stageError{kind: ErrorKindFeed, err: rn.feedErr})
				return
			}
			if se := rn.pipe.process(b); se != nil {
				rn.abort(se)
				return
			}
		case <-rn.feedFailed:
			if h.isCancelled() {
				rn.cancel()
				return
			}
			rn.abort(&stageError{kind: ErrorKindFeed, err: rn.feedErr})
			return
		case <-h.cancelCh:
			rn.cancel()
			return
		}
	}
}

func (rn *run) feedClosed() {
	if rn.handle.isCancelled() {
		rn.cancel()
		return
	}
	if rn.failed() {
		rn.abort(&stageError{kind: ErrorKindFeed, err: rn.feedErr})
		return
	}
	res := rn.pipe.completed()
	if rn.handle.finalize(StateComplete, res, nil) {
		rn.log.WithFields(logrus.Fields{
			"seq":     res.LastSequence,
			"batches": res.Batches,
			"docs":    res.DocsWritten,
		}).Info("replication complete")
	}
}

func (rn *run) abort(se *stageError) {
	rn.handle.cancelFeed()
	res, err := rn.pipe.aborted(se)
	if rn.handle.finalize(StateAborted, res, err) {
		rn.log.WithFields(logrus.Fields{
			"seq":  res.LastSequence,
			"kind": se.kind,
		}).WithError(se.err).Error("replication aborted")
	}
}

func (rn *run) cancel() {
	res := rn.pipe.cancelled()
	if rn.handle.finalize(StateCancelled, res, nil) {
		rn.log.WithField("seq", res.LastSequence).Info("replication cancelled")
	}
}

// halted reports whether the feed side should stop producing.
func (rn *run) halted() bool {
	if rn.handle.isCancelled() {
		return true
	}
	select {
	case <-rn.handle.done:
		return true
	default:
		return false
	}
}

// failed reports whether the feed side gave up with an error. feedErr is
// only read after this returns true.
func (rn *run) failed() bool {
	select {
	case <-rn.feedFailed:
		return true
	default:
		return false
	}
}

func (rn *run) fail(err error) {
	rn.feedErr = err
	close(rn.feedFailed)
}

func (rn *run) emit(b *Batch) {
	select {
	case rn.queue <- b:
	case <-rn.handle.cancelCh:
	case <-rn.handle.done:
	}
}

// streamFeed pages through the change feed until a page comes back empty.
// Batches sealed while reading a page are handed to the pipeline only after
// the page request succeeds; a failed page drops them all.
func (rn *run) streamFeed(since SequenceNumber) {
	defer close(rn.queue)

	var sealed []*Batch
	batcher := NewBatcher(rn.batchSize, func(b *Batch) {
		sealed = append(sealed, b)
	})
	opts := FeedOptions{
		Limit:          rn.batchSize,
		MainBranchOnly: true,
	}
	for {
		if rn.halted() {
			return
		}
		page, err := rn.src.Changes(rn.feedCtx, since, opts, func(entry ChangeEntry) error {
			if rn.halted() {
				return ErrCancelled
			}
			batcher.OnChange(entry)
			return nil
		})
		if err != nil {
			if rn.halted() {
				return
			}
			rn.fail(errors.Wrapf(err, "changes since %d", since))
			return
		}
		batcher.SealIfDue(true)
		if page.Entries > 0 && page.LastSequence <= since {
			rn.fail(errors.Errorf("feed did not advance past %d", since))
			return
		}
		for _, b := range sealed {
			rn.emit(b)
		}
		sealed = sealed[:0]
		if page.Entries == 0 {
			rn.handle.setState(StateDraining)
			return
		}
		since = page.LastSequence
	}
}
