package workq

import (
	"errors"
	"fmt"
	"time"
)

// Failure records a processing error for one item. The item was still acknowledged.
type Failure struct {
	ItemID   uint64
	WorkerID int
	// Err wraps the error returned by the ProcessFunc; it implements ItemMetaError.
	Err error
	At  time.Time
}

// ItemMetaError exposes correlation metadata for a processing failure.
type ItemMetaError interface {
	error
	Unwrap() error
	ItemID() uint64
	WorkerID() int
}

type itemTaggedError struct {
	err      error
	itemID   uint64
	workerID int
}

func newItemTaggedError(err error, itemID uint64, workerID int) error {
	if err == nil {
		return nil
	}
	return &itemTaggedError{err: err, itemID: itemID, workerID: workerID}
}

func (e *itemTaggedError) Error() string  { return e.err.Error() }
func (e *itemTaggedError) Unwrap() error  { return e.err }
func (e *itemTaggedError) ItemID() uint64 { return e.itemID }
func (e *itemTaggedError) WorkerID() int  { return e.workerID }

func (e *itemTaggedError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(s, "item(id=%d,worker=%d): %+v", e.itemID, e.workerID, e.err)
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// ExtractItemID returns the item id carried by err, if any.
func ExtractItemID(err error) (uint64, bool) {
	var ime ItemMetaError
	if errors.As(err, &ime) {
		return ime.ItemID(), true
	}
	return 0, false
}

// ExtractWorkerID returns the id of the worker that produced err, if any.
func ExtractWorkerID(err error) (int, bool) {
	var ime ItemMetaError
	if errors.As(err, &ime) {
		return ime.WorkerID(), true
	}
	return 0, false
}
