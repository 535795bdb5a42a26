package syncany

import (
	"context"
	"testing"
)

func TestBatcherSealsFullAndForced(t *testing.T) {
	var sealed []*Batch
	b := NewBatcher(3, func(batch *Batch) {
		sealed = append(sealed, batch)
	})

	for seq := 1; seq <= 7; seq++ {
		b.OnChange(ChangeEntry{ID: "d", Sequence: SequenceNumber(seq)})
	}
	if len(sealed) != 2 {
		t.Fatal("expect 2 full batches, got:", len(sealed))
	}
	if sealed[0].HighWatermark != 3 || sealed[1].HighWatermark != 6 {
		t.Fatal("unexpected watermarks:", sealed[0].HighWatermark, sealed[1].HighWatermark)
	}
	if b.Pending() != 1 {
		t.Fatal("one pending entry expected:", b.Pending())
	}
	if b.SealIfDue(false) {
		t.Fatal("partial batch sealed without force")
	}
	if !b.SealIfDue(true) || len(sealed) != 3 || sealed[2].Len() != 1 || sealed[2].HighWatermark != 7 {
		t.Fatal("forced seal failed")
	}
	if b.SealIfDue(true) {
		t.Fatal("empty batch must not be sealed")
	}
}

func TestBatcherKeepsRepeatedEntries(t *testing.T) {
	var sealed []*Batch
	b := NewBatcher(10, func(batch *Batch) {
		sealed = append(sealed, batch)
	})
	b.OnChange(ChangeEntry{ID: "a", Sequence: 1})
	b.OnChange(ChangeEntry{ID: "b", Sequence: 2})
	b.OnChange(ChangeEntry{ID: "a", Sequence: 3})
	b.SealIfDue(true)

	if sealed[0].Len() != 3 {
		t.Fatal("every change event should be batched:", sealed[0].Len())
	}
	ids := sealed[0].Ids()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatal("unexpected ids:", ids)
	}
}

func TestResolverOmitsAbsentDocuments(t *testing.T) {
	src := NewMemStore()
	src.Put("a", []byte("1"))
	src.Put("b", []byte("2"))
	if err := src.Delete("b"); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(src)
	docs, err := r.Resolve(context.Background(), &Batch{
		Changes: []ChangeEntry{{ID: "a", Sequence: 1}, {ID: "b", Sequence: 3}, {ID: "missing", Sequence: 4}, {ID: "a", Sequence: 5}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != "a" {
		t.Fatal("only document a expected:", docs)
	}

	docs, err = r.Resolve(context.Background(), &Batch{})
	if err != nil || len(docs) != 0 {
		t.Fatal("empty batch should resolve to nothing:", docs, err)
	}
}

func TestMemStoreFeedPaging(t *testing.T) {
	s := NewMemStore()
	s.Put("a", nil)
	s.Put("b", nil)
	s.Put("c", nil)
	s.Put("a", nil)

	var got []ChangeEntry
	collect := func(e ChangeEntry) error {
		got = append(got, e)
		return nil
	}
	page, err := s.Changes(context.Background(), 0, FeedOptions{Limit: 2}, collect)
	if err != nil {
		t.Fatal(err)
	}
	if page.Entries != 2 || page.LastSequence != 3 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected first page: %+v %v", page, got)
	}
	page, err = s.Changes(context.Background(), page.LastSequence, FeedOptions{Limit: 2}, collect)
	if err != nil {
		t.Fatal(err)
	}
	if page.Entries != 1 || page.LastSequence != 4 || got[2].ID != "a" {
		t.Fatalf("unexpected second page: %+v %v", page, got)
	}
	page, err = s.Changes(context.Background(), page.LastSequence, FeedOptions{Limit: 2}, collect)
	if err != nil || page.Entries != 0 || page.LastSequence != 4 {
		t.Fatalf("exhausted feed expected: %+v %v", page, err)
	}
}
