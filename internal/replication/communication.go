package replication

import (
	"context"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
	"github.com/meidoworks/nekoq-syncany/logging"
)

const (
	CommandChanges        = "SYNC.CHANGES"
	CommandFetch          = "SYNC.FETCH"
	CommandUpdateSeq      = "SYNC.UPDATESEQ"
	CommandCheckpointGet  = "SYNC.CHECKPOINT.GET"
	CommandCheckpointPut  = "SYNC.CHECKPOINT.PUT"
	DefaultChangesLimit   = 1000
	replyOK               = "OK"
	replicationModuleName = "replication"
)

var _log = logging.Module(replicationModuleName)

// ChangesReply is the cbor payload of a SYNC.CHANGES reply.
type ChangesReply struct {
	LastSequence iface.SequenceNumber `cbor:"1,keyasint"`
	Entries      []iface.ChangeEntry  `cbor:"2,keyasint"`
}

// Resp2SyncHandler serves a Source and a CheckpointStore to remote
// replicators over RESP2.
type Resp2SyncHandler struct {
	Source      iface.Source
	Checkpoints iface.CheckpointStore
}

func (r Resp2SyncHandler) Register(reg iface.RespRegister) {
	if r.Source != nil {
		reg.AddCommandHandler(CommandChanges, r.changes)
		reg.AddCommandHandler(CommandFetch, r.fetch)
		reg.AddCommandHandler(CommandUpdateSeq, r.updateSeq)
	}
	if r.Checkpoints != nil {
		reg.AddCommandHandler(CommandCheckpointGet, r.checkpointGet)
		reg.AddCommandHandler(CommandCheckpointPut, r.checkpointPut)
	}
}

func parseInt(arg iface.RespArg) (int64, error) {
	return strconv.ParseInt(string(arg), 10, 64)
}

// SYNC.CHANGES since [limit]
func (r Resp2SyncHandler) changes(args []iface.RespArg) (iface.RespResult, error) {
	if len(args) < 2 {
		return iface.RespErrorResult("lack arguments"), nil
	}
	since, err := parseInt(args[1])
	if err != nil {
		return iface.RespErrorResult("invalid sequence"), nil
	}
	limit := int64(DefaultChangesLimit)
	if len(args) > 2 {
		if limit, err = parseInt(args[2]); err != nil || limit <= 0 {
			return iface.RespErrorResult("invalid limit"), nil
		}
		if limit > DefaultChangesLimit {
			limit = DefaultChangesLimit
		}
	}

	reply := new(ChangesReply)
	page, err := r.Source.Changes(context.Background(), iface.SequenceNumber(since), iface.FeedOptions{
		Limit:          int(limit),
		MainBranchOnly: true,
	}, func(entry iface.ChangeEntry) error {
		reply.Entries = append(reply.Entries, entry)
		return nil
	})
	if err != nil {
		_log.WithError(err).Error("read changes failed")
		return iface.RespErrorResult("read changes failed"), nil
	}
	reply.LastSequence = page.LastSequence
	dat, err := cbor.Marshal(reply)
	if err != nil {
		return nil, err
	}
	return iface.RespValueResult(dat), nil
}

// SYNC.FETCH id [id ...]
func (r Resp2SyncHandler) fetch(args []iface.RespArg) (iface.RespResult, error) {
	ids := make([]iface.DocumentId, 0, len(args)-1)
	for _, a := range args[1:] {
		ids = append(ids, iface.DocumentId(a))
	}
	docs, err := r.Source.FetchDocuments(context.Background(), ids)
	if err != nil {
		_log.WithError(err).Error("fetch documents failed")
		return iface.RespErrorResult("fetch documents failed"), nil
	}
	vals := make([][]byte, len(docs))
	for i, d := range docs {
		if d == nil {
			continue
		}
		if vals[i], err = cbor.Marshal(d); err != nil {
			return nil, err
		}
	}
	return iface.RespBulkArrayResult(vals), nil
}

func (r Resp2SyncHandler) updateSeq([]iface.RespArg) (iface.RespResult, error) {
	seq, err := r.Source.UpdateSequence(context.Background())
	if err != nil {
		_log.WithError(err).Error("read update sequence failed")
		return iface.RespErrorResult("read update sequence failed"), nil
	}
	return iface.RespInt64Result(int64(seq)), nil
}

// SYNC.CHECKPOINT.GET replication_id
func (r Resp2SyncHandler) checkpointGet(args []iface.RespArg) (iface.RespResult, error) {
	if len(args) < 2 {
		return iface.RespErrorResult("lack arguments"), nil
	}
	seq, err := r.Checkpoints.GetCheckpoint(context.Background(), string(args[1]))
	if err != nil {
		_log.WithError(err).Error("read checkpoint failed")
		return iface.RespErrorResult("read checkpoint failed"), nil
	}
	return iface.RespInt64Result(int64(seq)), nil
}

// SYNC.CHECKPOINT.PUT cbor(checkpoint)
func (r Resp2SyncHandler) checkpointPut(args []iface.RespArg) (iface.RespResult, error) {
	if len(args) < 2 {
		return iface.RespErrorResult("lack arguments"), nil
	}
	var cp iface.Checkpoint
	if err := cbor.Unmarshal(args[1], &cp); err != nil {
		return iface.RespErrorResult("checkpoint invalid"), nil
	}
	if err := r.Checkpoints.WriteCheckpoint(context.Background(), cp); err != nil {
		_log.WithError(err).WithField("replication_id", cp.ReplicationId).Error("write checkpoint failed")
		return iface.RespErrorResult("write checkpoint failed"), nil
	}
	return iface.RespStringResult(replyOK), nil
}

var (
	_ iface.Source          = new(Resp2Client)
	_ iface.CheckpointStore = new(Resp2Client)
)

// Resp2Client reads a remote source and checkpoint store served by
// Resp2SyncHandler.
type Resp2Client struct {
	addr string

	client *redis.Client
}

func NewResp2Client(addr string) *Resp2Client {
	c := new(Resp2Client)
	c.addr = addr
	c.client = redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return c
}

func (r *Resp2Client) Close() error {
	return r.client.Close()
}

func (r *Resp2Client) Changes(ctx context.Context, since iface.SequenceNumber, opts iface.FeedOptions, fn iface.ChangeEntryFunc) (iface.FeedPage, error) {
	args := []interface{}{CommandChanges, int64(since)}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
	}
	dat, err := r.client.Do(ctx, args...).Text()
	if err != nil {
		return iface.FeedPage{}, errors.Wrap(err, "remote changes")
	}
	reply := new(ChangesReply)
	if err := cbor.Unmarshal([]byte(dat), reply); err != nil {
		return iface.FeedPage{}, errors.Wrap(err, "decode changes reply")
	}

	page := iface.FeedPage{LastSequence: since}
	for _, e := range reply.Entries {
		if err := ctx.Err(); err != nil {
			return iface.FeedPage{}, err
		}
		if err := fn(e); err != nil {
			return iface.FeedPage{}, err
		}
		page.Entries++
	}
	if reply.LastSequence > since {
		page.LastSequence = reply.LastSequence
	}
	return page, nil
}

func (r *Resp2Client) FetchDocuments(ctx context.Context, ids []iface.DocumentId) ([]*iface.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, CommandFetch)
	for _, id := range ids {
		args = append(args, string(id))
	}
	vals, err := r.client.Do(ctx, args...).Slice()
	if err != nil {
		return nil, errors.Wrap(err, "remote fetch")
	}
	if len(vals) != len(ids) {
		return nil, errors.Errorf("remote fetch returned %d slots for %d ids", len(vals), len(ids))
	}
	docs := make([]*iface.Document, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("unexpected fetch reply type %T", v)
		}
		doc := new(iface.Document)
		if err := cbor.Unmarshal([]byte(s), doc); err != nil {
			return nil, errors.Wrapf(err, "decode document %s", ids[i])
		}
		docs[i] = doc
	}
	return docs, nil
}

func (r *Resp2Client) UpdateSequence(ctx context.Context) (iface.SequenceNumber, error) {
	seq, err := r.client.Do(ctx, CommandUpdateSeq).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "remote update sequence")
	}
	return iface.SequenceNumber(seq), nil
}

func (r *Resp2Client) GetCheckpoint(ctx context.Context, replicationId string) (iface.SequenceNumber, error) {
	seq, err := r.client.Do(ctx, CommandCheckpointGet, replicationId).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "remote checkpoint get")
	}
	return iface.SequenceNumber(seq), nil
}

func (r *Resp2Client) WriteCheckpoint(ctx context.Context, cp iface.Checkpoint) error {
	dat, err := cbor.Marshal(cp)
	if err != nil {
		return err
	}
	res, err := r.client.Do(ctx, CommandCheckpointPut, dat).Text()
	if err != nil {
		return errors.Wrap(err, "remote checkpoint put")
	}
	if res != replyOK {
		return errors.New("remote checkpoint put got not OK: " + res)
	}
	return nil
}
