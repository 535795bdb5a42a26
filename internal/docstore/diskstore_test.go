package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
)

func openStore(t *testing.T, dir string) *DiskStore {
	t.Helper()
	s, err := NewDiskStore(&DiskStoreConfig{
		DataFolder: filepath.Join(dir, "data"),
		WalFolder:  filepath.Join(dir, "wal"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	return s
}

func collect(t *testing.T, s *DiskStore, since iface.SequenceNumber, limit int) ([]iface.ChangeEntry, iface.FeedPage) {
	t.Helper()
	var entries []iface.ChangeEntry
	page, err := s.Changes(context.Background(), since, iface.FeedOptions{Limit: limit, MainBranchOnly: true}, func(e iface.ChangeEntry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return entries, page
}

func TestChangesReportLatestChangeOnly(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	for _, id := range []iface.DocumentId{"a", "b", "c"} {
		if _, err := s.Put(id, []byte(`{"v":1}`)); err != nil {
			t.Fatal(err)
		}
	}
	doc, err := s.Put("a", []byte(`{"v":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Revision != 2 || doc.Sequence != 4 {
		t.Fatal("unexpected revision or sequence:", doc.Revision, doc.Sequence)
	}

	entries, page := collect(t, s, 0, 0)
	if len(entries) != 3 {
		t.Fatal("expect 3 entries, got:", entries)
	}
	if entries[0].ID != "b" || entries[2].ID != "a" || entries[2].Sequence != 4 {
		t.Fatal("unexpected order:", entries)
	}
	if page.LastSequence != 4 || page.Entries != 3 {
		t.Fatal("unexpected page:", page)
	}
}

func TestChangesPaging(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()
	for _, id := range []iface.DocumentId{"d1", "d2", "d3", "d4", "d5"} {
		if _, err := s.Put(id, nil); err != nil {
			t.Fatal(err)
		}
	}
	entries, page := collect(t, s, 0, 2)
	if len(entries) != 2 || page.LastSequence != 2 {
		t.Fatal("first page mismatch:", entries, page)
	}
	entries, page = collect(t, s, page.LastSequence, 2)
	if len(entries) != 2 || entries[0].ID != "d3" || page.LastSequence != 4 {
		t.Fatal("second page mismatch:", entries, page)
	}
	entries, page = collect(t, s, page.LastSequence, 2)
	if len(entries) != 1 || page.LastSequence != 5 {
		t.Fatal("third page mismatch:", entries, page)
	}
	entries, page = collect(t, s, page.LastSequence, 2)
	if len(entries) != 0 || page.LastSequence != 5 {
		t.Fatal("exhausted page mismatch:", entries, page)
	}
	entries, page = collect(t, s, 100, 2)
	if len(entries) != 0 || page.LastSequence != 100 {
		t.Fatal("page ahead of store mismatch:", entries, page)
	}
}

func TestFetchSkipsDeleted(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()
	if _, err := s.Put("keep", []byte("k")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put("gone", []byte("g")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("gone"); err != iface.ErrStorageNotFound {
		t.Fatal("second delete should report not found:", err)
	}
	docs, err := s.FetchDocuments(context.Background(), []iface.DocumentId{"gone", "keep", "never"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 || docs[0] != nil || docs[2] != nil {
		t.Fatal("absent documents should be nil:", docs)
	}
	if docs[1] == nil || string(docs[1].Body) != "k" {
		t.Fatal("kept document mismatch")
	}
	entries, _ := collect(t, s, 0, 0)
	if len(entries) != 2 || entries[1].ID != "gone" {
		t.Fatal("deletion should be part of the feed:", entries)
	}
}

func TestReservedId(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()
	if _, err := s.Put("__version__", nil); err != ErrReservedId {
		t.Fatal("reserved id expected, got:", err)
	}
}

func TestReopenRecoversFromWal(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	if _, err := s.Put("x", []byte("1")); err != nil {
		t.Fatal(err)
	}
	// an entry that reached the WAL but not the document storage
	dat, err := cbor.Marshal(&WalEntry{ID: "y", Revision: 1, Body: []byte("2")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.wal.WriteEntry(dat); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openStore(t, dir)
	defer s.Close()
	doc, err := s.Get("y")
	if err != nil {
		t.Fatal(err)
	}
	if string(doc.Body) != "2" || doc.Sequence != 2 {
		t.Fatal("recovered document mismatch:", doc)
	}
	if seq, _ := s.UpdateSequence(context.Background()); seq != 2 {
		t.Fatal("update sequence mismatch:", seq)
	}
	entries, _ := collect(t, s, 0, 0)
	if len(entries) != 2 {
		t.Fatal("index not rebuilt:", entries)
	}
}
