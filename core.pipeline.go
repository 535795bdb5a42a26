package syncany

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Stage int

const (
	StageQueued Stage = iota
	StageResolving
	StageSinking
	StageCheckpointing
	StageDone
	StageAborted
)

func (s Stage) String() string {
	switch s {
	case StageQueued:
		return "queued"
	case StageResolving:
		return "resolving"
	case StageSinking:
		return "sinking"
	case StageCheckpointing:
		return "checkpointing"
	case StageDone:
		return "done"
	case StageAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// pipeline drains sealed batches one at a time. It owns the in-flight batch
// and the run result; nothing else mutates them while the run is live.
type pipeline struct {
	ctx           context.Context
	replicationId string
	sessionId     string

	resolver *Resolver
	sink     SinkFunc
	cps      CheckpointStore
	progress *progressQueue
	log      *logrus.Entry

	stage        Stage
	inflight     *Batch
	result       Result
	checkpointed SequenceNumber
}

type stageError struct {
	kind ErrorKind
	err  error
}

func (p *pipeline) process(b *Batch) *stageError {
	p.inflight = b
	defer func() {
		p.inflight = nil
	}()

	p.stage = StageResolving
	docs, err := p.resolver.Resolve(p.ctx, b)
	if err != nil {
		p.stage = StageAborted
		return &stageError{kind: ErrorKindFetch, err: err}
	}

	if len(docs) > 0 {
		p.stage = StageSinking
		if err := p.invokeSink(docs); err != nil {
			p.stage = StageAborted
			return &stageError{kind: ErrorKindSink, err: err}
		}
		p.result.Batches++
		p.result.DocsWritten += len(docs)
		p.result.LastSequence = b.HighWatermark
		p.progress.push(p.snapshot())
	} else {
		p.log.WithField("seq", b.HighWatermark).Debug("batch resolved to no documents, skip sink")
	}

	p.stage = StageCheckpointing
	err = p.cps.WriteCheckpoint(p.ctx, Checkpoint{
		ReplicationId: p.replicationId,
		Sequence:      b.HighWatermark,
		SessionId:     p.sessionId,
	})
	if err != nil {
		p.stage = StageAborted
		return &stageError{kind: ErrorKindCheckpointWrite, err: errors.Wrapf(err, "write checkpoint %d", b.HighWatermark)}
	}
	if b.HighWatermark > p.checkpointed {
		p.checkpointed = b.HighWatermark
	}
	p.result.LastSequence = p.checkpointed
	p.stage = StageDone

	p.log.WithFields(logrus.Fields{
		"seq":     b.HighWatermark,
		"changes": b.Len(),
		"docs":    len(docs),
	}).Debug("batch done")
	return nil
}

func (p *pipeline) invokeSink(docs []*Document) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("sink panic: %v", rec)
		}
	}()
	return p.sink(p.ctx, docs)
}

func (p *pipeline) snapshot() Result {
	r := p.result
	r.Status = StatusRunning
	return r
}

func (p *pipeline) aborted(se *stageError) (Result, error) {
	res := p.result
	res.OK = false
	res.Status = StatusAborting
	res.LastSequence = p.checkpointed
	return res, &SyncError{Kind: se.kind, Result: res, Err: se.err}
}

// cancelled results are not ok: the run stopped before the feed was exhausted.
func (p *pipeline) cancelled() Result {
	res := p.result
	res.OK = false
	res.Status = StatusCancelled
	res.LastSequence = p.checkpointed
	return res
}

func (p *pipeline) completed() Result {
	res := p.result
	res.OK = true
	res.Status = StatusComplete
	res.LastSequence = p.checkpointed
	return res
}
