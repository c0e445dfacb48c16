// Package localexec runs one wire.Request against a sandbox.Sandbox backend
// on the local machine: stage inputs from the store, invoke the sandbox,
// hash outputs back into the store, build a wire.Response. Grounded on
// executor/local_executor.cpp's LocalExecutor.
package localexec

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/sandbox"
	"github.com/evalforge/evalforge/store"
	"github.com/evalforge/evalforge/wire"
)

// boxDir is the subdirectory of a request's temp dir the sandboxed process
// actually runs in, mirroring the source's kBoxDir (cpp/worker/executor.hpp).
const boxDir = "box"

// Fetch retrieves a blob the local store does not yet have, writing its
// bytes to w; it is how a worker asks its dispatcher/server peer for an
// input file the client never inlined. Grounded on the source's
// RequestFileCallback (local_executor.cpp's MaybeRequestFile).
type Fetch func(h hashid.H, w io.Writer) error

// LocalExecutor runs requests against one named sandbox backend.
type LocalExecutor struct {
	Store       *store.Store
	TempDir     string
	SandboxName string
	Guard       *ThreadGuard

	// Logf, if set, is wired into the "echo" backend's trace output.
	Logf func(format string, args ...any)
}

// New returns a LocalExecutor. maxThreads budgets the ThreadGuard.
func New(s *store.Store, tempDir, sandboxName string, maxThreads int32) *LocalExecutor {
	return &LocalExecutor{
		Store:       s,
		TempDir:     tempDir,
		SandboxName: sandboxName,
		Guard:       NewThreadGuard(maxThreads),
	}
}

// Execute runs req and returns the resulting Response. A non-nil error
// means the worker itself failed to set up or run the sandbox (what the
// source throws std::runtime_error for); a returned Response with a
// non-success Status means the sandboxed process itself misbehaved.
func (e *LocalExecutor) Execute(req wire.Request, fetch Fetch) (wire.Response, error) {
	if req.FifoSize != 0 {
		return wire.Response{}, fmt.Errorf("localexec: FIFOs are not implemented yet")
	}

	for _, in := range req.Input {
		if err := e.maybeFetch(in, fetch); err != nil {
			return wire.Response{}, fmt.Errorf("localexec: preparing input %q: %w", in.Name, err)
		}
	}

	if err := os.MkdirAll(e.TempDir, 0o755); err != nil {
		return wire.Response{}, fmt.Errorf("localexec: could not create temp dir: %w", err)
	}
	tmp, err := os.MkdirTemp(e.TempDir, "evalforge-box-*")
	if err != nil {
		return wire.Response{}, fmt.Errorf("localexec: could not create sandbox tmp dir: %w", err)
	}
	if !req.KeepSandbox {
		defer os.RemoveAll(tmp)
	}

	sandboxDir := filepath.Join(tmp, boxDir)
	if err := os.MkdirAll(sandboxDir, 0o755); err != nil {
		return wire.Response{}, fmt.Errorf("localexec: could not create sandbox dir: %w", err)
	}

	opts := sandbox.Options{
		Root:             sandboxDir,
		Executable:       req.Executable,
		Args:             req.Args,
		StdoutFile:       filepath.Join(tmp, "stdout"),
		StderrFile:       filepath.Join(tmp, "stderr"),
		CPULimitMillis:   int64(req.ResourceLimit.CPUTime * 1000),
		WallLimitMillis:  int64(req.ResourceLimit.WallTime * 1000),
		MemoryLimitKB:    req.ResourceLimit.Memory,
		MaxFiles:         req.ResourceLimit.Files,
		MaxProcs:         req.ResourceLimit.Processes,
		MaxFileSizeKB:    req.ResourceLimit.FileSize,
		MaxMlockKB:       req.ResourceLimit.MLock,
		MaxStackKB:       req.ResourceLimit.Stack,
		ExtraTimeSeconds: req.ResourceLimit.ExtraTime,
		Exclusive:        req.Exclusive,
	}

	for _, in := range req.Input {
		if err := e.prepareFile(in, tmp, &opts); err != nil {
			return wire.Response{}, fmt.Errorf("localexec: staging input %q: %w", in.Name, err)
		}
	}

	// Pre-create stdout/stderr so retrieveFile always has something to
	// hash afterwards, regardless of whether the sandbox backend actually
	// writes to them. process/shell recreate (os.Create, truncating) these
	// same paths themselves; echo never touches the filesystem at all, so
	// without this it would leave nothing behind to retrieve.
	if err := touchEmpty(opts.StdoutFile); err != nil {
		return wire.Response{}, fmt.Errorf("localexec: could not create stdout file: %w", err)
	}
	if err := touchEmpty(opts.StderrFile); err != nil {
		return wire.Response{}, fmt.Errorf("localexec: could not create stderr file: %w", err)
	}

	release, err := e.Guard.Acquire(req.Exclusive)
	if err != nil {
		return wire.Response{}, err
	}
	defer release()

	sb, err := sandbox.New(e.SandboxName)
	if err != nil {
		return wire.Response{}, fmt.Errorf("localexec: %w", err)
	}
	if echo, ok := sb.(*sandbox.Echo); ok {
		echo.Logf = e.Logf
	}

	var info sandbox.Info
	ok, errMsg := sb.Execute(opts, &info)
	if !ok {
		return wire.Response{}, fmt.Errorf("localexec: sandbox failed: %s", errMsg)
	}

	resp := wire.Response{
		RequestID:  req.ID,
		StatusCode: info.StatusCode,
		Signal:     info.Signal,
		ResourceUsage: wire.ResourceUsage{
			CPUTime:  float64(info.CPUTimeMillis) / 1000.0,
			SysTime:  float64(info.SysTimeMillis) / 1000.0,
			WallTime: float64(info.WallTimeMillis) / 1000.0,
			Memory:   info.MemoryUsageKB,
		},
	}
	if info.Signal != 0 {
		resp.Status = wire.StatusSignal
	} else {
		resp.Status = wire.StatusSuccess
	}

	for _, name := range []wire.FileType{wire.FileStdout, wire.FileStderr} {
		out, err := e.retrieveFile(wire.FileInfo{Type: name}, tmp)
		if err != nil {
			return wire.Response{}, fmt.Errorf("localexec: retrieving %v: %w", name, err)
		}
		resp.Output = append(resp.Output, out)
	}
	for _, declared := range req.Output {
		out, err := e.retrieveFile(declared, tmp)
		if err != nil {
			return wire.Response{}, fmt.Errorf("localexec: retrieving output %q: %w", declared.Name, err)
		}
		resp.Output = append(resp.Output, out)
	}

	return resp, nil
}

// touchEmpty creates path if it does not already exist, leaving any
// existing content (and its mtime) alone.
func touchEmpty(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return f.Close()
}

// maybeFetch ensures the store already has the blob an input names,
// downloading it via fetch (or writing its inlined Contents) if not.
// Grounded on local_executor.cpp's MaybeRequestFile.
func (e *LocalExecutor) maybeFetch(in wire.FileInfo, fetch Fetch) error {
	if e.Store.Exists(in.Hash) {
		return nil
	}
	if in.Contents != nil {
		_, err := e.Store.Write(bytes.NewReader(in.Contents.Chunk))
		return err
	}
	if fetch == nil {
		return fmt.Errorf("missing blob %s and no fetch callback available", in.Hash)
	}
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		_, err := e.Store.Write(pr)
		errCh <- err
	}()
	if err := fetch(in.Hash, pw); err != nil {
		pw.CloseWithError(err)
		<-errCh
		return err
	}
	pw.Close()
	return <-errCh
}

// prepareFile copies one input blob from the store into the sandbox's tmp
// dir, validating the declared name. Grounded on PrepareFile.
func (e *LocalExecutor) prepareFile(in wire.FileInfo, tmp string, opts *sandbox.Options) error {
	name := in.Name
	if in.Type == wire.FileStdin {
		name = "stdin"
		opts.StdinFile = filepath.Join(tmp, name)
	} else {
		if !isValidName(name) {
			return fmt.Errorf("invalid file name %q", name)
		}
		name = filepath.Join(boxDir, name)
	}
	dest := filepath.Join(tmp, name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := store.Copy(e.Store.PathFor(in.Hash), dest); err != nil {
		return err
	}
	if in.Executable {
		return os.Chmod(dest, 0o755)
	}
	return nil
}

// retrieveFile hashes a produced file back into the store and builds the
// FileInfo to attach to the response, inlining Contents when the blob is
// small enough. Grounded on RetrieveFile.
func (e *LocalExecutor) retrieveFile(info wire.FileInfo, tmp string) (wire.FileInfo, error) {
	name := info.Name
	switch info.Type {
	case wire.FileStdin:
		name = "stdin"
	case wire.FileStdout:
		name = "stdout"
	case wire.FileStderr:
		name = "stderr"
	default:
		if !isValidName(name) {
			return wire.FileInfo{}, fmt.Errorf("invalid file name %q", name)
		}
		name = filepath.Join(boxDir, name)
	}

	path := filepath.Join(tmp, name)
	h, err := e.Store.Ingest(path)
	if err != nil {
		return wire.FileInfo{}, err
	}

	out := info
	out.Hash = h
	if size := e.Store.Size(h); size >= 0 && size <= wire.ChunkSize {
		data, err := os.ReadFile(e.Store.PathFor(h))
		if err != nil {
			return wire.FileInfo{}, err
		}
		out.Contents = &wire.FileContents{Chunk: data}
	}
	return out, nil
}

// isValidName reports whether name contains only characters legal in a
// sandboxed file name: letters, digits, '.', '-' and '_'. The source's
// IsValidChar/find_if pairing inverted this (treating "found a valid char"
// as the failure condition); this is the corrected, intended semantics.
func isValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		valid := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '.' || c == '-' || c == '_'
		if !valid {
			return false
		}
	}
	return true
}
