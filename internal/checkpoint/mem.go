package checkpoint

import (
	"context"
	"sync"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
)

var _ iface.CheckpointStore = new(MemStore)

type MemStore struct {
	sync.Mutex
	records map[string]Record
}

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

func (m *MemStore) GetCheckpoint(ctx context.Context, replicationId string) (iface.SequenceNumber, error) {
	if replicationId == "" {
		return 0, ErrMissingReplicationId
	}
	m.Lock()
	defer m.Unlock()
	return m.records[replicationId].Sequence, nil
}

func (m *MemStore) WriteCheckpoint(ctx context.Context, cp iface.Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	if cur, ok := m.records[cp.ReplicationId]; ok && cur.Sequence > cp.Sequence {
		return nil
	}
	m.records[cp.ReplicationId] = Record{Sequence: cp.Sequence, SessionId: cp.SessionId}
	return nil
}

// Session returns the session id that wrote the current checkpoint.
func (m *MemStore) Session(replicationId string) string {
	m.Lock()
	defer m.Unlock()
	return m.records[replicationId].SessionId
}
