package syncany

import (
	"context"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
)

type (
	SequenceNumber  = iface.SequenceNumber
	DocumentId      = iface.DocumentId
	ChangeEntry     = iface.ChangeEntry
	ChangeEntryFunc = iface.ChangeEntryFunc
	FeedOptions     = iface.FeedOptions
	FeedPage        = iface.FeedPage
	ChangeFeed      = iface.ChangeFeed
	Document        = iface.Document
	DocumentFetcher = iface.DocumentFetcher
	Source          = iface.Source
	Checkpoint      = iface.Checkpoint
	CheckpointStore = iface.CheckpointStore
	DocumentStore   = iface.DocumentStore
)

const LowestSequence = iface.LowestSequence

// SinkFunc consumes the resolved documents of one batch. Returning an error
// (or panicking) aborts the replication.
type SinkFunc func(ctx context.Context, docs []*Document) error
