package syncany

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
)

type memDoc struct {
	doc     Document
	deleted bool
}

// MemStore is an in-memory Source. Like a by-sequence index it reports
// only the latest change of every document.
type MemStore struct {
	rwlock sync.RWMutex

	seq  SequenceNumber
	docs map[DocumentId]*memDoc
	// log holds every change in sequence order, superseded ones included
	log []ChangeEntry
}

var (
	_ Source        = new(MemStore)
	_ DocumentStore = new(MemStore)
)

func NewMemStore() *MemStore {
	return &MemStore{
		docs: make(map[DocumentId]*memDoc),
	}
}

// Put stores body as the new revision of id.
func (m *MemStore) Put(id DocumentId, body []byte) (*Document, error) {
	if id == "" {
		return nil, errors.New("document id is empty")
	}
	m.rwlock.Lock()
	defer m.rwlock.Unlock()

	var rev int64 = 1
	if d, ok := m.docs[id]; ok {
		rev = d.doc.Revision + 1
	}
	doc := m.appendChange(id, rev, body, false)
	return &doc, nil
}

// Delete records a deletion of id. It returns iface.ErrStorageNotFound if
// the document does not exist.
func (m *MemStore) Delete(id DocumentId) error {
	m.rwlock.Lock()
	defer m.rwlock.Unlock()

	d, ok := m.docs[id]
	if !ok || d.deleted {
		return iface.ErrStorageNotFound
	}
	m.appendChange(id, d.doc.Revision+1, nil, true)
	return nil
}

func (m *MemStore) appendChange(id DocumentId, rev int64, body []byte, deleted bool) Document {
	m.seq++
	m.docs[id] = &memDoc{
		doc: Document{
			ID:       id,
			Revision: rev,
			Sequence: m.seq,
			Body:     append([]byte(nil), body...),
		},
		deleted: deleted,
	}
	m.log = append(m.log, ChangeEntry{ID: id, Sequence: m.seq})
	return m.docs[id].doc
}

func (m *MemStore) Get(id DocumentId) (*Document, error) {
	m.rwlock.RLock()
	defer m.rwlock.RUnlock()

	d, ok := m.docs[id]
	if !ok || d.deleted {
		return nil, iface.ErrStorageNotFound
	}
	doc := d.doc
	return &doc, nil
}

func (m *MemStore) Changes(ctx context.Context, since SequenceNumber, opts FeedOptions, fn ChangeEntryFunc) (FeedPage, error) {
	m.rwlock.RLock()
	start := sort.Search(len(m.log), func(i int) bool {
		return m.log[i].Sequence > since
	})
	var entries []ChangeEntry
	for _, e := range m.log[start:] {
		if opts.Limit > 0 && len(entries) >= opts.Limit {
			break
		}
		if m.docs[e.ID].doc.Sequence != e.Sequence {
			continue
		}
		entries = append(entries, e)
	}
	m.rwlock.RUnlock()

	page := FeedPage{LastSequence: since}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return page, err
		}
		if err := fn(e); err != nil {
			return page, err
		}
		page.LastSequence = e.Sequence
		page.Entries++
	}
	return page, nil
}

func (m *MemStore) FetchDocuments(ctx context.Context, ids []DocumentId) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.rwlock.RLock()
	defer m.rwlock.RUnlock()

	result := make([]*Document, len(ids))
	for i, id := range ids {
		d, ok := m.docs[id]
		if !ok || d.deleted {
			continue
		}
		doc := d.doc
		doc.Body = append([]byte(nil), d.doc.Body...)
		result[i] = &doc
	}
	return result, nil
}

func (m *MemStore) UpdateSequence(ctx context.Context) (SequenceNumber, error) {
	m.rwlock.RLock()
	defer m.rwlock.RUnlock()
	return m.seq, nil
}
