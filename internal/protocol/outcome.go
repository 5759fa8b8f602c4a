// Package protocol defines the closed set of messages that cross the
// parent/worker-subprocess boundary: Task frames in the task direction,
// OutcomeMessage frames in the result direction. Nothing outside this
// package inspects payloads; it only ever moves opaque values.
package protocol

// Kind tags which of the six OutcomeMessage variants a message carries.
type Kind int

const (
	KindTaskStarted Kind = iota
	KindTaskSuccess
	KindTaskError
	KindTaskTimeout
	KindSetupFailed
	KindCleanupFailed
)

func (k Kind) String() string {
	switch k {
	case KindTaskStarted:
		return "task_started"
	case KindTaskSuccess:
		return "task_success"
	case KindTaskError:
		return "task_error"
	case KindTaskTimeout:
		return "task_timeout"
	case KindSetupFailed:
		return "setup_failed"
	case KindCleanupFailed:
		return "cleanup_failed"
	default:
		return "unknown"
	}
}

// OutcomeMessage is the wire shape of the six protocol variants in
// spec.md §3. Only the fields relevant to Kind are populated; the rest
// are left zero. Result is carried as an opaque msgpack-encoded value so
// the parent process never needs to know the worker's result type.
type OutcomeMessage struct {
	Kind Kind `msgpack:"kind"`

	TaskID   uint64 `msgpack:"task_id,omitempty"`
	WorkerID int    `msgpack:"worker_id,omitempty"`
	DeviceID int    `msgpack:"device_id,omitempty"`

	Result  any     `msgpack:"result,omitempty"`
	Error   string  `msgpack:"error,omitempty"`
	Timeout float64 `msgpack:"timeout,omitempty"`
}

func TaskStarted(taskID uint64, workerID int) OutcomeMessage {
	return OutcomeMessage{Kind: KindTaskStarted, TaskID: taskID, WorkerID: workerID}
}

func TaskSuccess(taskID uint64, result any, workerID int) OutcomeMessage {
	return OutcomeMessage{Kind: KindTaskSuccess, TaskID: taskID, Result: result, WorkerID: workerID}
}

func TaskError(taskID uint64, errText string, workerID int) OutcomeMessage {
	return OutcomeMessage{Kind: KindTaskError, TaskID: taskID, Error: errText, WorkerID: workerID}
}

func TaskTimeout(taskID uint64, timeoutSeconds float64, workerID int) OutcomeMessage {
	return OutcomeMessage{Kind: KindTaskTimeout, TaskID: taskID, Timeout: timeoutSeconds, WorkerID: workerID}
}

func SetupFailed(deviceID int, errText string) OutcomeMessage {
	return OutcomeMessage{Kind: KindSetupFailed, DeviceID: deviceID, Error: errText}
}

func CleanupFailed(deviceID int, errText string) OutcomeMessage {
	return OutcomeMessage{Kind: KindCleanupFailed, DeviceID: deviceID, Error: errText}
}
