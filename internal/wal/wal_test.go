package wal

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
)

func TestSegmentName(t *testing.T) {
	if segmentName(1) != "0000000000000001" {
		t.Fatal("0000000000000001 failed")
	}
	if segmentName(0x7fffffffffffffff) != "7fffffffffffffff" {
		t.Fatal("7fffffffffffffff failed")
	}
	if v, err := parseSegmentName("00000000000000ff"); err != nil || v != 255 {
		t.Fatal("parse 00000000000000ff failed:", v, err)
	}
	if _, err := parseSegmentName("0000000000000000"); err == nil {
		t.Fatal("segment 0 should be rejected")
	}
	if _, err := parseSegmentName("abc"); err == nil {
		t.Fatal("short name should be rejected")
	}
}

func TestPrepareDataBuf(t *testing.T) {
	w := NewDiskWalOnFs(afero.NewMemMapFs(), "wal")
	buf := w.prepareDataBufByPage([]byte{1, 2, 3, 4}, EntryTypeWhole)
	if len(buf) != int(w.maxPageSize) {
		t.Fatal("page size mismatch:", len(buf))
	}
	typ, dat, err := w.pageRecord(buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != EntryTypeWhole || !bytes.Equal(dat, []byte{1, 2, 3, 4}) {
		t.Fatal("page content mismatch:", typ, dat)
	}

	buf = w.prepareDataBufByPage([]byte{1, 2, 3, 4}, EntryTypeWhole)
	buf[10] = 0xff
	if _, _, err := w.pageRecord(buf); err != ErrPageCorrupted {
		t.Fatal("corrupted page expected, got:", err)
	}
}

func openWal(t *testing.T, afs afero.Fs) *DiskWal {
	t.Helper()
	w := NewDiskWalOnFs(afs, "wal")
	w.SetMaxFileSize(4 * 4 * 1024)
	if _, err := w.Initialize(); err != nil {
		t.Fatal(err)
	}
	return w
}

func replayAll(t *testing.T, w *DiskWal, from iface.SequenceNumber) (seqs []iface.SequenceNumber, entries [][]byte) {
	t.Helper()
	if err := w.Replay(from, func(seq iface.SequenceNumber, entry []byte) error {
		seqs = append(seqs, seq)
		entries = append(entries, append([]byte(nil), entry...))
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return
}

func TestWriteAndReplayAcrossSegments(t *testing.T) {
	afs := afero.NewMemMapFs()
	w := openWal(t, afs)

	for n := 1; n <= 10; n++ {
		seq, err := w.WriteEntry([]byte{byte(n)})
		if err != nil {
			t.Fatal(err)
		}
		if seq != iface.SequenceNumber(n) {
			t.Fatal("sequence mismatch:", seq, n)
		}
	}
	segments, err := w.listSegments()
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 3 {
		t.Fatal("expect 3 segments, got:", segments)
	}

	seqs, entries := replayAll(t, w, 4)
	if len(seqs) != 6 || seqs[0] != 5 || seqs[5] != 10 {
		t.Fatal("replay sequences mismatch:", seqs)
	}
	for i, e := range entries {
		if e[0] != byte(seqs[i]) {
			t.Fatal("replay entry mismatch at", seqs[i])
		}
	}

	seqs, _ = replayAll(t, w, 10)
	if len(seqs) != 0 {
		t.Fatal("replay from the end should be empty:", seqs)
	}
	if err := w.Replay(11, func(iface.SequenceNumber, []byte) error { return nil }); err == nil {
		t.Fatal("replay beyond history should fail")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMultiPageEntryAndReopen(t *testing.T) {
	afs := afero.NewMemMapFs()
	w := openWal(t, afs)

	big := make([]byte, 3*4096)
	for idx := range big {
		big[idx] = byte(idx%100) + 10
	}
	if _, err := w.WriteEntry([]byte("small")); err != nil {
		t.Fatal(err)
	}
	if seq, err := w.WriteEntry(big); err != nil {
		t.Fatal(err)
	} else if seq != 2 {
		t.Fatal("sequence mismatch:", seq)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w = openWal(t, afs)
	defer w.Close()
	if w.CurrentSequence() != 2 {
		t.Fatal("reopened sequence mismatch:", w.CurrentSequence())
	}
	if seq, err := w.WriteEntry([]byte("after")); err != nil || seq != 3 {
		t.Fatal("write after reopen:", seq, err)
	}
	_, entries := replayAll(t, w, 0)
	if len(entries) != 3 {
		t.Fatal("expect 3 entries, got:", len(entries))
	}
	if !bytes.Equal(entries[1], big) {
		t.Fatal("multi page entry mismatch")
	}
	if string(entries[2]) != "after" {
		t.Fatal("entry after reopen mismatch:", string(entries[2]))
	}
}

func TestReplayStopsOnCallbackError(t *testing.T) {
	w := openWal(t, afero.NewMemMapFs())
	defer w.Close()
	for n := 0; n < 5; n++ {
		if _, err := w.WriteEntry([]byte{byte(n)}); err != nil {
			t.Fatal(err)
		}
	}
	stop := iface.ErrStorageNotFound
	var count int
	err := w.Replay(0, func(seq iface.SequenceNumber, entry []byte) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	if err != stop {
		t.Fatal("callback error expected, got:", err)
	}
	if count != 2 {
		t.Fatal("replay should stop after the error:", count)
	}
}
