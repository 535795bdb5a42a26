package iface

type Wal interface {
	WriteEntry([]byte) (SequenceNumber, error)
	CurrentSequence() SequenceNumber

	Initialize() (SequenceNumber, error)
	// Replay calls f for every entry after from, in order.
	Replay(from SequenceNumber, f func(seq SequenceNumber, entry []byte) error) error
	Close() error
}
