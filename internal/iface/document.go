package iface

import (
	"context"
	"github.com/pkg/errors"
)

var ErrStorageNotFound = errors.New("not found")

type Document struct {
	ID       DocumentId     `cbor:"1,keyasint" json:"_id"`
	Revision int64          `cbor:"2,keyasint" json:"_rev"`
	Sequence SequenceNumber `cbor:"3,keyasint" json:"_seq"`
	Body     []byte         `cbor:"4,keyasint" json:"body"`
}

type DocumentFetcher interface {
	// FetchDocuments returns one slot per requested id, in request order.
	// Absent or deleted documents are nil.
	FetchDocuments(ctx context.Context, ids []DocumentId) ([]*Document, error)
}

type Source interface {
	ChangeFeed
	DocumentFetcher

	// UpdateSequence is the sequence of the latest change in the source.
	UpdateSequence(ctx context.Context) (SequenceNumber, error)
}

// DocumentStore is the write side of a local source.
type DocumentStore interface {
	Put(id DocumentId, body []byte) (*Document, error)
	Delete(id DocumentId) error
	Get(id DocumentId) (*Document, error)
}
