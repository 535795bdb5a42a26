package checkpoint

import (
	"context"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
)

var _ iface.CheckpointStore = new(RedisStore)

// RedisStore keeps one cbor encoded Record per replication id under
// Prefix+id. The compare-and-set runs in a WATCH transaction.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewRedisStore(config *RedisStoreConfig) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	}), config.Prefix)
}

func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "syncany:checkpoint:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(replicationId string) string {
	return r.prefix + replicationId
}

func getRecord(ctx context.Context, c redis.Cmdable, key string) (Record, bool, error) {
	dat, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := cbor.Unmarshal(dat, &rec); err != nil {
		return Record{}, false, errors.Wrap(err, "decode checkpoint")
	}
	return rec, true, nil
}

func (r *RedisStore) GetCheckpoint(ctx context.Context, replicationId string) (iface.SequenceNumber, error) {
	if replicationId == "" {
		return 0, ErrMissingReplicationId
	}
	rec, _, err := getRecord(ctx, r.client, r.key(replicationId))
	if err != nil {
		return 0, errors.Wrap(err, "redis get checkpoint")
	}
	return rec.Sequence, nil
}

func (r *RedisStore) WriteCheckpoint(ctx context.Context, cp iface.Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	dat, err := cbor.Marshal(Record{Sequence: cp.Sequence, SessionId: cp.SessionId})
	if err != nil {
		return err
	}
	key := r.key(cp.ReplicationId)
	const retryCnt = 3
	for i := 0; i < retryCnt; i++ {
		err = r.client.Watch(ctx, func(tx *redis.Tx) error {
			rec, found, err := getRecord(ctx, tx, key)
			if err != nil {
				return err
			}
			if found && rec.Sequence > cp.Sequence {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, dat, 0)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	return errors.Wrap(err, "redis write checkpoint")
}
