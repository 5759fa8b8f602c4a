package reexec

import (
	"os"
	"testing"
	"time"
)

func TestReadIdentityRoundTrip(t *testing.T) {
	t.Setenv(envMarker, "1")
	t.Setenv(envKind, "test-kind")
	t.Setenv(envWorkerID, "3")
	t.Setenv(envDeviceID, "2")
	t.Setenv(envSeed, "44")
	t.Setenv(envTimeout, "1.500000")
	t.Setenv(envConfig, `{"precision":"fp16"}`)

	if !IsWorker() {
		t.Fatal("expected IsWorker to report true")
	}

	id, err := ReadIdentity()
	if err != nil {
		t.Fatalf("ReadIdentity: %v", err)
	}
	if id.Kind != "test-kind" || id.WorkerID != 3 || id.DeviceID != 2 || id.Seed != 44 {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.TaskTimeout != 1500*time.Millisecond {
		t.Fatalf("unexpected timeout: %v", id.TaskTimeout)
	}
	if id.Config["precision"] != "fp16" {
		t.Fatalf("unexpected config: %+v", id.Config)
	}
}

func TestIsWorkerFalseWhenUnset(t *testing.T) {
	os.Unsetenv(envMarker)
	if IsWorker() {
		t.Fatal("expected IsWorker to report false without the marker env var")
	}
}
