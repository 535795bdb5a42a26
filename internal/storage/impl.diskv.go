package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterbourgon/diskv/v3"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
)

var _ iface.KVStorage = new(DiskvStorage)

type DiskvStorage struct {
	diskv *diskv.Diskv
}

type DiskvStorageConfig struct {
	Folder       string
	CacheSizeMax uint64
}

func NewDiskvStorage(config *DiskvStorageConfig) (*DiskvStorage, error) {
	f, err := filepath.Abs(config.Folder)
	if err != nil {
		return nil, err
	}
	cacheSize := config.CacheSizeMax
	if cacheSize == 0 {
		cacheSize = 1024 * 1024
	}
	d := diskv.New(diskv.Options{
		BasePath: f,
		Transform: func(s string) []string {
			return []string{diskvSha256prefix(s)}
		},
		CacheSizeMax: cacheSize,
	})

	return &DiskvStorage{
		diskv: d,
	}, nil
}

func (d *DiskvStorage) Put(k, v []byte) error {
	key := string(k)
	if !validateKeyFormat(key) {
		return ErrKeyFormatInvalid
	}
	return d.diskv.Write(key, v)
}

func (d *DiskvStorage) Get(k []byte) ([]byte, bool, error) {
	key := string(k)
	if !validateKeyFormat(key) {
		return nil, false, ErrKeyFormatInvalid
	}
	dat, err := d.diskv.Read(key)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return dat, true, nil
}

// Delete of a missing key is not an error.
func (d *DiskvStorage) Delete(k []byte) error {
	key := string(k)
	if !validateKeyFormat(key) {
		return ErrKeyFormatInvalid
	}
	if err := d.diskv.Erase(key); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Keys lists every stored key with the given prefix. Keys are spread over
// hashed folders, so the whole store is walked.
func (d *DiskvStorage) Keys(prefix string) []string {
	var keys []string
	for k := range d.diskv.Keys(nil) {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

func diskvSha256prefix(s string) string {
	v := sha256.Sum256([]byte(s))
	return hex.EncodeToString(v[:])[:4]
}
