package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
	"github.com/meidoworks/nekoq-syncany/logging"
)

type EntryType int

const (
	EntryTypeWhole     EntryType = 0b00001001
	EntryTypeStart     EntryType = 0b00001010
	EntryTypeMiddle    EntryType = 0b00001011
	EntryTypeEnd       EntryType = 0b00001100
	EntryTypeBrokenEnd EntryType = 0b00001101

	EntryTypeMask = 0b00001111
)

const (
	EntryHeader      int = 0b10100000
	RecordHeaderSize     = 8

	segmentNameLength = 16
)

var (
	ErrPageCorrupted = errors.New("wal page crc32 mismatch")
	ErrClosed        = errors.New("wal closed")
)

var _ iface.Wal = new(DiskWal)

// DiskWal is an append-only log of entries numbered 1, 2, 3...
//
// Layout: segment files named by the hex sequence of their first entry,
// each a run of 4K pages { header | data | padding(0) }.
// Page header: { EntryHeader|EntryType = 1B, data size = 2B, page crc32 = 4B, reserved = 1B }.
// An entry larger than one page spans Start, Middle..., End pages.
type DiskWal struct {
	lastSeq      int64 // sequence of the last complete entry
	segmentStart int64 // first sequence of the current segment
	pageOccupied int64

	maxFileSize  int64
	maxPageSize  int32
	syncInterval time.Duration
	folder       string
	fs           afero.Fs

	curFile afero.File

	sync.Mutex
	dirty        int32
	closed       bool
	closeChannel chan struct{}
	closeWait    sync.WaitGroup
}

func NewDiskWal(folder string) *DiskWal {
	return NewDiskWalOnFs(afero.NewOsFs(), folder)
}

func NewDiskWalOnFs(afs afero.Fs, folder string) *DiskWal {
	return &DiskWal{
		maxFileSize:  64 * 1024 * 1024,
		maxPageSize:  4 * 1024,
		syncInterval: 200 * time.Millisecond,
		folder:       folder,
		fs:           afs,
		closeChannel: make(chan struct{}),
	}
}

// SetMaxFileSize must be called before Initialize.
func (d *DiskWal) SetMaxFileSize(size int64) {
	d.maxFileSize = size
}

func (d *DiskWal) WriteEntry(bytes []byte) (iface.SequenceNumber, error) {
	d.Lock()
	defer d.Unlock()

	if d.closed {
		return 0, ErrClosed
	}

	var recordMax = int(d.maxPageSize - RecordHeaderSize)
	var pages = (len(bytes) + recordMax - 1) / recordMax
	if pages == 0 {
		pages = 1
	}
	if err := d.guaranteePages(pages); err != nil {
		return 0, err
	}

	if pages == 1 {
		if err := d.writeDataPage(bytes, EntryTypeWhole); err != nil {
			return 0, err
		}
	} else {
		var offset = 0
		var t EntryType
		for offset < len(bytes) {
			n := recordMax
			if offset == 0 {
				t = EntryTypeStart
			} else {
				t = EntryTypeMiddle
			}
			if offset+recordMax >= len(bytes) {
				n = len(bytes) - offset
				t = EntryTypeEnd
			}
			if err := d.writeDataPage(bytes[offset:offset+n], t); err != nil {
				return 0, err
			}
			offset += n
		}
	}

	d.lastSeq++
	atomic.StoreInt32(&d.dirty, 1)
	return iface.SequenceNumber(d.lastSeq), nil
}

func segmentName(firstSeq int64) string {
	return fmt.Sprintf("%016x", firstSeq)
}

func (d *DiskWal) segmentPath(firstSeq int64) string {
	return filepath.Join(d.folder, segmentName(firstSeq))
}

// guaranteePages opens the segment the next entry goes to. An entry never
// spans two segments.
func (d *DiskWal) guaranteePages(pageCnt int) error {
	if d.curFile != nil && (d.pageOccupied+int64(pageCnt))*int64(d.maxPageSize) <= d.maxFileSize {
		return nil
	}
	if d.curFile != nil && d.pageOccupied == 0 {
		// oversized entry in a fresh segment
		return nil
	}
	if d.curFile != nil {
		if err := d.curFile.Sync(); err != nil {
			return err
		}
		if err := d.curFile.Close(); err != nil {
			return err
		}
	}
	d.segmentStart = d.lastSeq + 1
	d.pageOccupied = 0
	f, err := d.fs.OpenFile(d.segmentPath(d.segmentStart), os.O_APPEND|os.O_CREATE|os.O_RDWR, 0664)
	if err != nil {
		return err
	}
	d.curFile = f
	return nil
}

func (d *DiskWal) writeDataPage(dat []byte, entryType EntryType) error {
	buf := d.prepareDataBufByPage(dat, entryType)
	if _, err := d.curFile.Write(buf); err != nil {
		return err
	}
	d.pageOccupied++
	return nil
}

func (d *DiskWal) prepareDataBufByPage(dat []byte, entryType EntryType) []byte {
	buf := make([]byte, d.maxPageSize)
	buf[0] = byte(EntryHeader) | byte(entryType)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(dat)))
	copy(buf[RecordHeaderSize:], dat)
	binary.BigEndian.PutUint32(buf[3:7], crc32.Checksum(buf, crc32.IEEETable))
	return buf
}

func (d *DiskWal) CurrentSequence() iface.SequenceNumber {
	d.Lock()
	defer d.Unlock()

	return iface.SequenceNumber(d.lastSeq)
}

func (d *DiskWal) listSegments() ([]int64, error) {
	var segments []int64
	afs := afero.NewBasePathFs(d.fs, d.folder)
	if err := afero.Walk(afs, "", func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if seq, err := parseSegmentName(info.Name()); err != nil {
			logging.Module("wal").WithField("file", path).WithError(err).Warn("list wal segments - found unknown file")
			return nil
		} else {
			segments = append(segments, seq)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	slices.Sort(segments)
	return segments, nil
}

func parseSegmentName(name string) (int64, error) {
	if len(name) != segmentNameLength {
		return 0, errors.New("file name length mismatch")
	}
	var v int64
	if _, err := fmt.Sscanf(name, "%016x", &v); err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, errors.New("segment sequence less than 1")
	}
	return v, nil
}

func (d *DiskWal) Initialize() (iface.SequenceNumber, error) {
	d.Lock()
	defer d.Unlock()

	if err := d.fs.MkdirAll(d.folder, 0755); err != nil {
		return 0, err
	}
	segments, err := d.listSegments()
	if err != nil {
		return 0, err
	}

	if len(segments) > 0 {
		// 1. count complete entries of the last segment
		//    + terminate an incomplete multi-page entry with EntryTypeBrokenEnd
		last := segments[len(segments)-1]
		info, err := d.readSegmentInfo(last)
		if err != nil {
			return 0, err
		}
		d.segmentStart = last
		d.lastSeq = last + info.entries - 1
		d.pageOccupied = info.pages
		// 2. keep appending to the last segment
		f, err := d.fs.OpenFile(d.segmentPath(last), os.O_APPEND|os.O_CREATE|os.O_RDWR, 0664)
		if err != nil {
			return 0, err
		}
		d.curFile = f
	}

	// 3. background file sync
	d.closeWait.Add(1)
	go d.syncWorker()

	return iface.SequenceNumber(d.lastSeq), nil
}

func (d *DiskWal) syncWorker() {
	defer d.closeWait.Done()
	ticker := time.NewTicker(d.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.closeChannel:
			return
		case <-ticker.C:
			if atomic.CompareAndSwapInt32(&d.dirty, 1, 0) {
				d.Lock()
				if d.curFile != nil {
					if err := d.curFile.Sync(); err != nil {
						logging.Module("wal").WithError(err).Error("wal background file sync failed")
					}
				}
				d.Unlock()
			}
		}
	}
}

type segmentInfo struct {
	pages   int64
	entries int64
}

func (d *DiskWal) readSegmentInfo(firstSeq int64) (result segmentInfo, rerr error) {
	f, err := d.fs.OpenFile(d.segmentPath(firstSeq), os.O_RDWR, 0664)
	if err != nil {
		return result, err
	}
	defer func(f afero.File) {
		_ = f.Close()
	}(f)

	var lastType EntryType = EntryTypeWhole
	pageBuf := make([]byte, d.maxPageSize)
	for {
		_, err := io.ReadFull(f, pageBuf)
		if err == io.EOF {
			break
		} else if err == io.ErrUnexpectedEOF {
			// torn page at the tail
			size := result.pages * int64(d.maxPageSize)
			if err := f.Truncate(size); err != nil {
				return result, err
			}
			if _, err := f.Seek(size, io.SeekStart); err != nil {
				return result, err
			}
			break
		} else if err != nil {
			return result, err
		}
		t, _, err := d.pageRecord(pageBuf)
		if err != nil {
			return result, err
		}
		result.pages++
		if t == EntryTypeWhole || t == EntryTypeEnd {
			result.entries++
		}
		lastType = t
	}
	if lastType == EntryTypeStart || lastType == EntryTypeMiddle {
		if _, err := f.Write(d.prepareDataBufByPage(nil, EntryTypeBrokenEnd)); err != nil {
			return result, err
		}
		result.pages++
	}
	return result, nil
}

func (d *DiskWal) pageRecord(buf []byte) (EntryType, []byte, error) {
	var crc32dat [4]byte
	copy(crc32dat[:], buf[3:7])
	clear(buf[3:7])
	crc32val := binary.BigEndian.Uint32(crc32dat[:])
	crc32nval := crc32.Checksum(buf, crc32.IEEETable)
	if crc32nval != crc32val {
		return 0, nil, ErrPageCorrupted
	}
	if int(buf[0])&^EntryTypeMask != EntryHeader {
		return 0, nil, errors.New("wal page header mismatch")
	}
	length := int(binary.BigEndian.Uint16(buf[1:3]))
	if length+RecordHeaderSize > len(buf) {
		return 0, nil, errors.New("length field exceeded")
	}
	return EntryType(buf[0] & EntryTypeMask), buf[RecordHeaderSize : RecordHeaderSize+length], nil
}

// Replay stops at the first error returned by f and returns it unchanged.
func (d *DiskWal) Replay(from iface.SequenceNumber, f func(seq iface.SequenceNumber, entry []byte) error) error {
	d.Lock()
	defer d.Unlock()

	if int64(from) > d.lastSeq {
		return errors.Errorf("replay failed - request newer wal than history: %d > %d", from, d.lastSeq)
	}
	if int64(from) == d.lastSeq {
		return nil
	}
	segments, err := d.listSegments()
	if err != nil {
		return err
	}
	var idx = -1
	for i, v := range segments {
		if v <= int64(from)+1 {
			idx = i
		}
	}
	if idx == -1 {
		return errors.Errorf("replay failed - insufficient wal history, require: %d", from)
	}
	for i := idx; i < len(segments); i++ {
		if err := d.replaySegment(segments[i], int64(from), f); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiskWal) replaySegment(firstSeq, from int64, fn func(seq iface.SequenceNumber, entry []byte) error) error {
	f, err := d.fs.Open(d.segmentPath(firstSeq))
	if err != nil {
		return err
	}
	defer func(f afero.File) {
		_ = f.Close()
	}(f)

	pageBuf := make([]byte, d.maxPageSize)
	seq := firstSeq
	var pending []byte
	for {
		_, err := io.ReadFull(f, pageBuf)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		t, dat, err := d.pageRecord(pageBuf)
		if err != nil {
			return err
		}
		var entry []byte
		switch t {
		case EntryTypeWhole:
			entry = dat
		case EntryTypeStart:
			pending = append(pending[:0], dat...)
			continue
		case EntryTypeMiddle:
			pending = append(pending, dat...)
			continue
		case EntryTypeEnd:
			entry = append(pending, dat...)
			pending = nil
		case EntryTypeBrokenEnd:
			pending = nil
			continue
		default:
			return errors.Errorf("unknown wal entry type: %d", t)
		}
		if seq > from {
			if err := fn(iface.SequenceNumber(seq), entry); err != nil {
				return err
			}
		}
		seq++
		if seq > d.lastSeq {
			return nil
		}
	}
}

func (d *DiskWal) Close() error {
	d.Lock()
	if d.closed {
		d.Unlock()
		return nil
	}
	d.closed = true
	close(d.closeChannel)
	d.Unlock()

	d.closeWait.Wait()

	d.Lock()
	defer d.Unlock()
	if d.curFile == nil {
		return nil
	}
	if err := d.curFile.Sync(); err != nil {
		return err
	}
	return d.curFile.Close()
}
