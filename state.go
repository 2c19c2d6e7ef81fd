package workq

// State is the lifecycle state of a Coordinator.
type State uint64

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateShuttingDown
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateShuttingDown:
		return "shutting_down"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// WorkerState is the state of a single worker.
type WorkerState uint64

const (
	// WorkerIdle: waiting in Get.
	WorkerIdle WorkerState = iota
	// WorkerProcessing: holding an item that has not been acknowledged yet.
	WorkerProcessing
	// WorkerCancelled: exited from Get after cancellation or Close.
	WorkerCancelled
	// WorkerFailed: exited after an unexpected fault.
	WorkerFailed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerProcessing:
		return "processing"
	case WorkerCancelled:
		return "cancelled"
	case WorkerFailed:
		return "failed"
	default:
		return "unknown"
	}
}
