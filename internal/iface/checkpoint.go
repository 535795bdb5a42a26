package iface

import "context"

type Checkpoint struct {
	ReplicationId string         `cbor:"1,keyasint" json:"replication_id"`
	Sequence      SequenceNumber `cbor:"2,keyasint" json:"seq"`
	SessionId     string         `cbor:"3,keyasint" json:"session_id"`
}

type CheckpointStore interface {
	// GetCheckpoint returns LowestSequence when nothing was recorded yet.
	GetCheckpoint(ctx context.Context, replicationId string) (SequenceNumber, error)
	// WriteCheckpoint is idempotent and never moves a checkpoint backwards.
	WriteCheckpoint(ctx context.Context, cp Checkpoint) error
}
