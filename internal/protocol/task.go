package protocol

// TaskFrame is the only shape carried on the Task Queue: either a real
// task (TaskID, Payload) or the distinguished poison sentinel that tells
// a worker to leave its consumption loop (spec.md §4.1).
type TaskFrame struct {
	Poison  bool   `msgpack:"poison,omitempty"`
	TaskID  uint64 `msgpack:"task_id,omitempty"`
	Payload any    `msgpack:"payload,omitempty"`
}

// Task wraps a payload with the dense, monotonically increasing
// identifier the Feeder assigns (spec.md §3).
func Task(taskID uint64, payload any) TaskFrame {
	return TaskFrame{TaskID: taskID, Payload: payload}
}

// PoisonFrame is the one-per-worker shutdown marker (spec.md §4.1, §4.5).
func PoisonFrame() TaskFrame {
	return TaskFrame{Poison: true}
}
