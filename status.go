package syncany

import (
	"context"

	"github.com/pkg/errors"
)

type SyncState struct {
	ReplicationId  string         `json:"replication_id"`
	Checkpoint     SequenceNumber `json:"checkpoint"`
	UpdateSequence SequenceNumber `json:"update_seq"`
	InSync         bool           `json:"in_sync"`
}

// SyncStatus compares the stored checkpoint of replicationId with the
// latest change of src.
func SyncStatus(ctx context.Context, src Source, cps CheckpointStore, replicationId string) (SyncState, error) {
	if replicationId == "" {
		return SyncState{}, &ConfigurationError{Field: "ReplicationId", Err: ErrMissingReplicationId}
	}
	cp, err := cps.GetCheckpoint(ctx, replicationId)
	if err != nil {
		return SyncState{}, errors.Wrap(err, "read checkpoint")
	}
	seq, err := src.UpdateSequence(ctx)
	if err != nil {
		return SyncState{}, errors.Wrap(err, "read update sequence")
	}
	return SyncState{
		ReplicationId:  replicationId,
		Checkpoint:     cp,
		UpdateSequence: seq,
		InSync:         cp >= seq,
	}, nil
}
