package protocol

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	want := TaskSuccess(7, map[string]any{"value": int64(42)}, 2)
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var got OutcomeMessage
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	if got.Kind != want.Kind || got.TaskID != want.TaskID || got.WorkerID != want.WorkerID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestReadFrameEOF(t *testing.T) {
	var buf bytes.Buffer
	var got OutcomeMessage
	if err := ReadFrame(&buf, &got); err != io.EOF {
		t.Fatalf("expected io.EOF on empty reader, got %v", err)
	}
}

func TestWriteReadTaskFrame(t *testing.T) {
	var buf bytes.Buffer

	frames := []TaskFrame{
		Task(0, "payload-a"),
		Task(1, 12345),
		PoisonFrame(),
	}

	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	for _, want := range frames {
		var got TaskFrame
		if err := ReadFrame(&buf, &got); err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if got.Poison != want.Poison || got.TaskID != want.TaskID {
			t.Fatalf("task frame mismatch: got %+v, want %+v", got, want)
		}
	}
}
