package workq

// Item is one unit of work. It is immutable once created: the queue and the
// workers hand it along by value and never modify Payload.
type Item struct {
	// ID is assigned by Queue.NewItem, starting at 1 and increasing monotonically.
	ID      uint64
	Payload []byte
}
