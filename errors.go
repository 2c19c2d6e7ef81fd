package workq

import (
	"errors"

	"code.hybscloud.com/iox"
)

const Namespace = "workq"

var (
	ErrQueueClosed = errors.New(Namespace + ": queue is closed")
	// ErrWouldBlock is returned by TryPut on a full queue and by TryGet on an empty one.
	// It is a control-flow signal, not a failure.
	ErrWouldBlock        = iox.ErrWouldBlock
	ErrProtocolViolation = errors.New(Namespace + ": protocol violation")
	ErrWorkerPanicked    = errors.New(Namespace + ": worker panicked while processing")
	ErrProducerFailed    = errors.New(Namespace + ": producer failed")
	ErrProducerPanicked  = errors.New(Namespace + ": producer panicked while generating")
	ErrRunAborted        = errors.New(Namespace + ": run aborted")
	ErrInvalidState      = errors.New(Namespace + ": invalid coordinator state")
	ErrInvalidConfig     = errors.New(Namespace + ": invalid configuration")
)

// IsWouldBlock reports whether err indicates that a non-blocking operation could not proceed.
func IsWouldBlock(err error) bool { return iox.IsWouldBlock(err) }
