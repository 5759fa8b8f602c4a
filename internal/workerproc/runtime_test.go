package workerproc

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hesic73/gpu-dispatch/internal/protocol"
)

type fakeWorker struct {
	setupErr   error
	cleanupErr error
	process    func(ctx context.Context, payload any) (any, error)
}

func (w *fakeWorker) Setup(deviceID int, seed int64, config map[string]any) error { return w.setupErr }
func (w *fakeWorker) Cleanup() error                                              { return w.cleanupErr }
func (w *fakeWorker) Process(ctx context.Context, payload any) (any, error) {
	return w.process(ctx, payload)
}

func readOutcomes(t *testing.T, buf *bytes.Buffer, n int) []protocol.OutcomeMessage {
	t.Helper()
	out := make([]protocol.OutcomeMessage, 0, n)
	for i := 0; i < n; i++ {
		var msg protocol.OutcomeMessage
		if err := protocol.ReadFrame(buf, &msg); err != nil {
			t.Fatalf("ReadFrame[%d]: %v", i, err)
		}
		out = append(out, msg)
	}
	return out
}

func TestRunHappyPath(t *testing.T) {
	w := &fakeWorker{process: func(ctx context.Context, payload any) (any, error) {
		return payload.(string) + "-done", nil
	}}

	var in bytes.Buffer
	if err := protocol.WriteFrame(&in, protocol.Task(1, "a")); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteFrame(&in, protocol.PoisonFrame()); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	Run(w, Identity{DeviceID: 0, WorkerID: 0}, &in, &out)

	msgs := readOutcomes(t, &out, 2)
	if msgs[0].Kind != protocol.KindTaskStarted || msgs[0].TaskID != 1 {
		t.Fatalf("expected TaskStarted first, got %+v", msgs[0])
	}
	if msgs[1].Kind != protocol.KindTaskSuccess || msgs[1].TaskID != 1 {
		t.Fatalf("expected TaskSuccess second, got %+v", msgs[1])
	}
}

func TestRunSetupFailureSkipsCleanup(t *testing.T) {
	w := &fakeWorker{
		setupErr: errors.New("boom"),
		cleanupErr: errors.New("cleanup should never run"),
	}

	var in, out bytes.Buffer
	Run(w, Identity{DeviceID: 3, WorkerID: 1}, &in, &out)

	msgs := readOutcomes(t, &out, 1)
	if msgs[0].Kind != protocol.KindSetupFailed || msgs[0].DeviceID != 3 {
		t.Fatalf("expected SetupFailed, got %+v", msgs[0])
	}
}

func TestRunProcessError(t *testing.T) {
	w := &fakeWorker{process: func(ctx context.Context, payload any) (any, error) {
		return nil, errors.New("bad payload")
	}}

	var in bytes.Buffer
	if err := protocol.WriteFrame(&in, protocol.Task(9, "x")); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteFrame(&in, protocol.PoisonFrame()); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	Run(w, Identity{}, &in, &out)

	msgs := readOutcomes(t, &out, 2)
	if msgs[1].Kind != protocol.KindTaskError || msgs[1].Error != "bad payload" {
		t.Fatalf("expected TaskError, got %+v", msgs[1])
	}
}

func TestRunTaskTimeout(t *testing.T) {
	release := make(chan struct{})
	w := &fakeWorker{process: func(ctx context.Context, payload any) (any, error) {
		<-release
		return nil, nil
	}}
	defer close(release)

	var in bytes.Buffer
	if err := protocol.WriteFrame(&in, protocol.Task(5, "slow")); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteFrame(&in, protocol.PoisonFrame()); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	Run(w, Identity{TaskTimeout: 10 * time.Millisecond}, &in, &out)

	msgs := readOutcomes(t, &out, 2)
	if msgs[1].Kind != protocol.KindTaskTimeout || msgs[1].TaskID != 5 {
		t.Fatalf("expected TaskTimeout, got %+v", msgs[1])
	}
}

func TestRunCleanupFailure(t *testing.T) {
	w := &fakeWorker{cleanupErr: errors.New("cleanup broke")}

	var in bytes.Buffer
	if err := protocol.WriteFrame(&in, protocol.PoisonFrame()); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	Run(w, Identity{DeviceID: 2}, &in, &out)

	msgs := readOutcomes(t, &out, 1)
	if msgs[0].Kind != protocol.KindCleanupFailed || msgs[0].DeviceID != 2 {
		t.Fatalf("expected CleanupFailed, got %+v", msgs[0])
	}
}
