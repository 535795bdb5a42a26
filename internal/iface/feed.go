package iface

import "context"

// SequenceNumber is a position in the change log of a source.
// Zero is the position before the first change.
type SequenceNumber int64

const LowestSequence SequenceNumber = 0

type DocumentId string

type ChangeEntry struct {
	ID       DocumentId     `cbor:"1,keyasint" json:"id"`
	Sequence SequenceNumber `cbor:"2,keyasint" json:"seq"`
}

type FeedOptions struct {
	// Limit caps the number of entries delivered by one page. Zero means no limit.
	Limit int
	// MainBranchOnly restricts the feed to winning revisions.
	MainBranchOnly bool
	// IncludeDocs asks the feed to resolve bodies itself. The replicator
	// always leaves it off and uses a DocumentFetcher instead.
	IncludeDocs bool
}

type FeedPage struct {
	LastSequence SequenceNumber `cbor:"1,keyasint" json:"last_seq"`
	Entries      int            `cbor:"2,keyasint" json:"entries"`
}

// ChangeEntryFunc receives the entries of a page in sequence order.
// Returning an error stops the page and Changes returns that error.
type ChangeEntryFunc func(entry ChangeEntry) error

type ChangeFeed interface {
	// Changes delivers at most opts.Limit entries with a sequence greater
	// than since. Cancelling ctx cancels the outstanding request.
	Changes(ctx context.Context, since SequenceNumber, opts FeedOptions, fn ChangeEntryFunc) (FeedPage, error)
}
