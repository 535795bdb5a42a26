package checkpoint

import (
	"context"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
)

var _ iface.CheckpointStore = new(KVStore)

// KVStore keeps checkpoints as cbor records in a KV storage, one key per
// replication id. Keys are hex encoded so any id fits the storage key format.
type KVStore struct {
	sync.Mutex
	kv iface.KVStorage
}

func NewKVStore(kv iface.KVStorage) *KVStore {
	return &KVStore{kv: kv}
}

const kvKeyPrefix = "checkpoint_"

// KeyLister is implemented by KV storages able to enumerate their keys.
type KeyLister interface {
	Keys(prefix string) []string
}

func kvKey(replicationId string) []byte {
	return []byte(kvKeyPrefix + hex.EncodeToString([]byte(replicationId)))
}

// ReplicationIds lists the replication ids holding a checkpoint. It needs a
// storage implementing KeyLister.
func (k *KVStore) ReplicationIds() ([]string, error) {
	lister, ok := k.kv.(KeyLister)
	if !ok {
		return nil, errors.New("kv storage cannot list keys")
	}
	k.Lock()
	defer k.Unlock()
	var ids []string
	for _, key := range lister.Keys(kvKeyPrefix) {
		id, err := hex.DecodeString(strings.TrimPrefix(key, kvKeyPrefix))
		if err != nil {
			return nil, errors.Wrapf(err, "decode checkpoint key %s", key)
		}
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	return ids, nil
}

func (k *KVStore) read(replicationId string) (Record, bool, error) {
	dat, found, err := k.kv.Get(kvKey(replicationId))
	if err != nil {
		return Record{}, false, errors.Wrap(err, "read checkpoint")
	}
	if !found {
		return Record{}, false, nil
	}
	var rec Record
	if err := cbor.Unmarshal(dat, &rec); err != nil {
		return Record{}, false, errors.Wrap(err, "decode checkpoint")
	}
	return rec, true, nil
}

func (k *KVStore) GetCheckpoint(ctx context.Context, replicationId string) (iface.SequenceNumber, error) {
	if replicationId == "" {
		return 0, ErrMissingReplicationId
	}
	k.Lock()
	defer k.Unlock()
	rec, _, err := k.read(replicationId)
	if err != nil {
		return 0, err
	}
	return rec.Sequence, nil
}

func (k *KVStore) WriteCheckpoint(ctx context.Context, cp iface.Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	k.Lock()
	defer k.Unlock()

	rec, found, err := k.read(cp.ReplicationId)
	if err != nil {
		return err
	}
	if found && rec.Sequence > cp.Sequence {
		return nil
	}
	dat, err := cbor.Marshal(Record{Sequence: cp.Sequence, SessionId: cp.SessionId})
	if err != nil {
		return err
	}
	return errors.Wrap(k.kv.Put(kvKey(cp.ReplicationId), dat), "write checkpoint")
}
