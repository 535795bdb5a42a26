package syncany

// Batch is a group of change entries processed as one sink call plus one
// checkpoint write.
type Batch struct {
	Changes       []ChangeEntry
	HighWatermark SequenceNumber
}

func (b *Batch) Len() int {
	return len(b.Changes)
}

// Ids returns the document ids of the batch in feed order, without duplicates.
func (b *Batch) Ids() []DocumentId {
	seen := make(map[DocumentId]struct{}, len(b.Changes))
	ids := make([]DocumentId, 0, len(b.Changes))
	for _, c := range b.Changes {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		ids = append(ids, c.ID)
	}
	return ids
}

// Batcher turns an ordered stream of change entries into sealed batches.
// Every entry is kept; repeated entries of one document are not coalesced.
type Batcher struct {
	batchSize int
	pending   *Batch
	emit      func(*Batch)
}

func NewBatcher(batchSize int, emit func(*Batch)) *Batcher {
	return &Batcher{
		batchSize: batchSize,
		pending:   &Batch{},
		emit:      emit,
	}
}

func (b *Batcher) OnChange(entry ChangeEntry) {
	b.pending.Changes = append(b.pending.Changes, entry)
	if entry.Sequence > b.pending.HighWatermark {
		b.pending.HighWatermark = entry.Sequence
	}
	b.SealIfDue(false)
}

// SealIfDue hands the pending batch to emit when it is full, or when force
// is set and it is not empty.
func (b *Batcher) SealIfDue(force bool) bool {
	n := b.pending.Len()
	if n == 0 {
		return false
	}
	if n < b.batchSize && !force {
		return false
	}
	sealed := b.pending
	b.pending = &Batch{}
	b.emit(sealed)
	return true
}

func (b *Batcher) Pending() int {
	return b.pending.Len()
}
