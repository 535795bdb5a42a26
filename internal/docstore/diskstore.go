package docstore

import (
	"context"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
	"github.com/meidoworks/nekoq-syncany/internal/storage"
	"github.com/meidoworks/nekoq-syncany/internal/wal"
	"github.com/meidoworks/nekoq-syncany/logging"
)

const reservedPrefix = "__"

var versionKey = []byte("__version__")

var (
	ErrReservedId = errors.New("document id uses the reserved prefix " + reservedPrefix)
	errStopReplay = errors.New("stop replay")
)

var (
	_ iface.Source        = new(DiskStore)
	_ iface.DocumentStore = new(DiskStore)
)

type WalEntry struct {
	ID       iface.DocumentId `cbor:"1,keyasint"`
	Revision int64            `cbor:"2,keyasint"`
	Deleted  bool             `cbor:"3,keyasint,omitempty"`
	Body     []byte           `cbor:"4,keyasint,omitempty"`
}

type docRecord struct {
	Doc     iface.Document `cbor:"1,keyasint"`
	Deleted bool           `cbor:"2,keyasint,omitempty"`
}

// DiskStore keeps the latest body of every document in a KV storage and
// every mutation in a WAL. The WAL doubles as the change feed.
type DiskStore struct {
	sync.Mutex

	wal iface.Wal
	kv  iface.KVStorage

	// latest change sequence per document, rebuilt from the WAL on Initialize
	latest map[iface.DocumentId]iface.SequenceNumber

	config *DiskStoreConfig
}

type DiskStoreConfig struct {
	DataFolder string
	WalFolder  string
}

func NewDiskStore(config *DiskStoreConfig) (*DiskStore, error) {
	kv, err := storage.NewDiskvStorage(&storage.DiskvStorageConfig{Folder: config.DataFolder})
	if err != nil {
		return nil, err
	}
	return NewDiskStoreWith(kv, wal.NewDiskWal(config.WalFolder), config), nil
}

func NewDiskStoreWith(kv iface.KVStorage, w iface.Wal, config *DiskStoreConfig) *DiskStore {
	return &DiskStore{
		wal:    w,
		kv:     kv,
		latest: make(map[iface.DocumentId]iface.SequenceNumber),
		config: config,
	}
}

func (d *DiskStore) Initialize() error {
	d.Lock()
	defer d.Unlock()

	if _, err := d.wal.Initialize(); err != nil {
		return errors.Wrap(err, "initialize wal")
	}
	applied, err := d.readVersion()
	if err != nil {
		return err
	}
	// rebuild the by-sequence index and apply entries the KV storage missed
	if err := d.wal.Replay(iface.LowestSequence, func(seq iface.SequenceNumber, buf []byte) error {
		entry := new(WalEntry)
		if err := cbor.Unmarshal(buf, entry); err != nil {
			return errors.Wrapf(err, "decode wal entry %d", seq)
		}
		d.latest[entry.ID] = seq
		if seq > applied {
			return d.applyEntry(seq, entry)
		}
		return nil
	}); err != nil {
		return err
	}
	current := d.wal.CurrentSequence()
	if current != applied {
		logging.Module("docstore").WithField("from", applied).WithField("to", current).Info("recovered documents from wal")
		return d.writeVersion(current)
	}
	return nil
}

func (d *DiskStore) Close() error {
	return d.wal.Close()
}

func (d *DiskStore) readVersion() (iface.SequenceNumber, error) {
	dat, found, err := d.kv.Get(versionKey)
	if err != nil {
		return 0, err
	}
	if !found {
		return iface.LowestSequence, nil
	}
	var seq iface.SequenceNumber
	if err := cbor.Unmarshal(dat, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (d *DiskStore) writeVersion(seq iface.SequenceNumber) error {
	dat, err := cbor.Marshal(seq)
	if err != nil {
		return err
	}
	return d.kv.Put(versionKey, dat)
}

func (d *DiskStore) applyEntry(seq iface.SequenceNumber, entry *WalEntry) error {
	rec := docRecord{
		Doc: iface.Document{
			ID:       entry.ID,
			Revision: entry.Revision,
			Sequence: seq,
			Body:     entry.Body,
		},
		Deleted: entry.Deleted,
	}
	dat, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	return d.kv.Put([]byte(entry.ID), dat)
}

func (d *DiskStore) readRecord(id iface.DocumentId) (*docRecord, error) {
	dat, found, err := d.kv.Get([]byte(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	rec := new(docRecord)
	if err := cbor.Unmarshal(dat, rec); err != nil {
		return nil, errors.Wrapf(err, "decode document %s", id)
	}
	return rec, nil
}

func checkId(id iface.DocumentId) error {
	if strings.HasPrefix(string(id), reservedPrefix) {
		return ErrReservedId
	}
	if id == "" {
		return errors.New("document id is empty")
	}
	return nil
}

// Put stores a new revision of the document and returns it.
func (d *DiskStore) Put(id iface.DocumentId, body []byte) (*iface.Document, error) {
	return d.mutate(id, body, false)
}

func (d *DiskStore) Delete(id iface.DocumentId) error {
	_, err := d.mutate(id, nil, true)
	return err
}

func (d *DiskStore) mutate(id iface.DocumentId, body []byte, deleted bool) (*iface.Document, error) {
	if err := checkId(id); err != nil {
		return nil, err
	}

	d.Lock()
	defer d.Unlock()

	rec, err := d.readRecord(id)
	if err != nil {
		return nil, err
	}
	if deleted && (rec == nil || rec.Deleted) {
		return nil, iface.ErrStorageNotFound
	}
	entry := &WalEntry{ID: id, Body: body, Deleted: deleted, Revision: 1}
	if rec != nil {
		entry.Revision = rec.Doc.Revision + 1
	}
	dat, err := cbor.Marshal(entry)
	if err != nil {
		return nil, err
	}
	seq, err := d.wal.WriteEntry(dat)
	if err != nil {
		return nil, err
	}
	if err := d.applyEntry(seq, entry); err != nil {
		return nil, err
	}
	d.latest[id] = seq
	if err := d.writeVersion(seq); err != nil {
		return nil, err
	}
	return &iface.Document{ID: id, Revision: entry.Revision, Sequence: seq, Body: body}, nil
}

func (d *DiskStore) Get(id iface.DocumentId) (*iface.Document, error) {
	d.Lock()
	defer d.Unlock()

	rec, err := d.readRecord(id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Deleted {
		return nil, iface.ErrStorageNotFound
	}
	return &rec.Doc, nil
}

// Changes replays the WAL after since and reports only the latest change of
// each document. The store has no conflict branches so MainBranchOnly is
// always satisfied; IncludeDocs is ignored.
func (d *DiskStore) Changes(ctx context.Context, since iface.SequenceNumber, opts iface.FeedOptions, fn iface.ChangeEntryFunc) (iface.FeedPage, error) {
	page := iface.FeedPage{LastSequence: since}
	var entries []iface.ChangeEntry

	d.Lock()
	current := d.wal.CurrentSequence()
	if since > current {
		// the checkpoint is ahead of this store, nothing to deliver
		d.Unlock()
		return page, nil
	}
	err := d.wal.Replay(since, func(seq iface.SequenceNumber, buf []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := new(WalEntry)
		if err := cbor.Unmarshal(buf, entry); err != nil {
			return errors.Wrapf(err, "decode wal entry %d", seq)
		}
		page.LastSequence = seq
		if d.latest[entry.ID] != seq {
			return nil
		}
		entries = append(entries, iface.ChangeEntry{ID: entry.ID, Sequence: seq})
		if opts.Limit > 0 && len(entries) >= opts.Limit {
			return errStopReplay
		}
		return nil
	})
	d.Unlock()
	if err != nil && err != errStopReplay {
		return iface.FeedPage{}, err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return iface.FeedPage{}, err
		}
		if err := fn(e); err != nil {
			return iface.FeedPage{}, err
		}
		page.Entries++
	}
	return page, nil
}

func (d *DiskStore) FetchDocuments(ctx context.Context, ids []iface.DocumentId) ([]*iface.Document, error) {
	d.Lock()
	defer d.Unlock()

	docs := make([]*iface.Document, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := d.readRecord(id)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.Deleted {
			continue
		}
		doc := rec.Doc
		docs[i] = &doc
	}
	return docs, nil
}

func (d *DiskStore) UpdateSequence(ctx context.Context) (iface.SequenceNumber, error) {
	return d.wal.CurrentSequence(), nil
}
