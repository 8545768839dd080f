package core

// Frame is one encoded relay frame as written to the wire.
type Frame []byte

// SignalConnection abstracts the relay transport of a single subscriber.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
