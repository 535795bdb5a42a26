// Package checkpoint stores the last processed sequence of a named
// replication. Every store keeps the recorded sequence monotonic: a write
// carrying a lower sequence than the stored one is accepted and ignored.
package checkpoint

import (
	"github.com/pkg/errors"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
)

var ErrMissingReplicationId = errors.New("replication id is required")

// Record is the persisted form of a checkpoint.
type Record struct {
	Sequence  iface.SequenceNumber `cbor:"1,keyasint"`
	SessionId string               `cbor:"2,keyasint"`
}

func validate(cp iface.Checkpoint) error {
	if cp.ReplicationId == "" {
		return ErrMissingReplicationId
	}
	if cp.Sequence < iface.LowestSequence {
		return errors.Errorf("negative checkpoint sequence %d", cp.Sequence)
	}
	return nil
}
