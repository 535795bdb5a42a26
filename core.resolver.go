package syncany

import (
	"context"

	"github.com/pkg/errors"
)

// Resolver fetches the current bodies of the documents referenced by a
// batch. Absent documents are omitted.
type Resolver struct {
	fetcher DocumentFetcher
}

func NewResolver(fetcher DocumentFetcher) *Resolver {
	return &Resolver{fetcher: fetcher}
}

func (r *Resolver) Resolve(ctx context.Context, batch *Batch) ([]*Document, error) {
	if batch == nil || batch.Len() == 0 {
		return nil, nil
	}
	found, err := r.fetcher.FetchDocuments(ctx, batch.Ids())
	if err != nil {
		return nil, errors.Wrap(err, "fetch documents")
	}
	docs := make([]*Document, 0, len(found))
	for _, d := range found {
		if d != nil {
			docs = append(docs, d)
		}
	}
	return docs, nil
}
