package localexec_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/localexec"
	"github.com/evalforge/evalforge/store"
	"github.com/evalforge/evalforge/wire"
)

func newExecutor(t *testing.T, backend string) (*localexec.LocalExecutor, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return localexec.New(s, t.TempDir(), backend, 4), s
}

func TestExecuteEchoBackendRoundTrip(t *testing.T) {
	exec, _ := newExecutor(t, "echo")
	resp, err := exec.Execute(wire.Request{ID: "r1", Executable: "/bin/true"}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.RequestID != "r1" {
		t.Fatalf("got request id %q", resp.RequestID)
	}
	if resp.Status != wire.StatusSuccess {
		t.Fatalf("expected success, got %v", resp.Status)
	}
	if len(resp.Output) != 2 {
		t.Fatalf("expected stdout+stderr outputs, got %d", len(resp.Output))
	}
}

func TestExecuteProcessBackendCapturesStdout(t *testing.T) {
	exec, s := newExecutor(t, "process")
	resp, err := exec.Execute(wire.Request{
		ID:         "r2",
		Executable: "/bin/echo",
		Args:       []string{"hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Status != wire.StatusSuccess {
		t.Fatalf("expected success, got %v", resp.Status)
	}
	var stdout wire.FileInfo
	for _, out := range resp.Output {
		if out.Type == wire.FileStdout {
			stdout = out
		}
	}
	if stdout.Contents == nil {
		t.Fatal("expected inlined stdout contents")
	}
	if string(stdout.Contents.Chunk) != "hi\n" {
		t.Fatalf("got stdout %q", stdout.Contents.Chunk)
	}
	if !s.Exists(stdout.Hash) {
		t.Fatal("stdout blob should be ingested into the store")
	}
}

func TestExecuteStagesInlinedInput(t *testing.T) {
	exec, _ := newExecutor(t, "process")
	payload := []byte("#!/bin/sh\ncat \"$1\"\n")
	req := wire.Request{
		ID:         "r3",
		Executable: "/bin/cat",
		Args:       []string{"data.txt"},
		Input: []wire.FileInfo{
			{Name: "data.txt", Hash: hashid.Sum(payload), Contents: &wire.FileContents{Chunk: payload}},
		},
	}
	resp, err := exec.Execute(req, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var stdout wire.FileInfo
	for _, out := range resp.Output {
		if out.Type == wire.FileStdout {
			stdout = out
		}
	}
	if stdout.Contents == nil || !bytes.Equal(stdout.Contents.Chunk, payload) {
		t.Fatalf("expected staged input echoed back, got %+v", stdout.Contents)
	}
}

func TestExecuteRejectsInvalidOutputName(t *testing.T) {
	exec, _ := newExecutor(t, "echo")
	_, err := exec.Execute(wire.Request{
		ID:         "r4",
		Executable: "/bin/true",
		Output:     []wire.FileInfo{{Name: "../escape"}},
	}, nil)
	if err == nil {
		t.Fatal("expected an error for an output name containing invalid characters")
	}
}

func TestExecuteRejectsFifo(t *testing.T) {
	exec, _ := newExecutor(t, "echo")
	_, err := exec.Execute(wire.Request{ID: "r5", Executable: "/bin/true", FifoSize: 1}, nil)
	if err == nil {
		t.Fatal("expected an error for a request declaring a fifo")
	}
}

func TestExecuteFetchesMissingInput(t *testing.T) {
	exec, s := newExecutor(t, "echo")
	payload := []byte("fetched content")
	h := hashid.Sum(payload)
	called := false
	fetch := func(want hashid.H, w io.Writer) error {
		called = true
		if want != h {
			t.Fatalf("fetch called for wrong hash: %s", want)
		}
		_, err := w.Write(payload)
		return err
	}
	_, err := exec.Execute(wire.Request{
		ID:         "r6",
		Executable: "/bin/true",
		Input:      []wire.FileInfo{{Name: "remote.bin", Hash: h}},
	}, fetch)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called {
		t.Fatal("expected fetch to be invoked for a missing input")
	}
	if !s.Exists(h) {
		t.Fatal("fetched blob should be written into the store")
	}
}

func TestThreadGuardExclusiveExcludesShared(t *testing.T) {
	g := localexec.NewThreadGuard(2)
	release, err := g.Acquire(true)
	if err != nil {
		t.Fatalf("Acquire(exclusive): %v", err)
	}
	if _, err := g.Acquire(false); err == nil {
		t.Fatal("expected shared acquire to fail while exclusive is held")
	}
	release()
	release2, err := g.Acquire(false)
	if err != nil {
		t.Fatalf("Acquire(shared) after release: %v", err)
	}
	release2()
}

func TestThreadGuardSharedBudget(t *testing.T) {
	g := localexec.NewThreadGuard(2)
	r1, err := g.Acquire(false)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	r2, err := g.Acquire(false)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if _, err := g.Acquire(false); err == nil {
		t.Fatal("expected third Acquire to exceed the budget")
	}
	r1()
	r2()
}
