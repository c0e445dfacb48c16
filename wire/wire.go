// Package wire defines the messages exchanged between the manager, the
// dispatcher and evaluator workers: requests, responses, file
// metadata and resource limits, plus the canonical request fingerprint used
// as a cache key.
//
// These are plain Go structs with JSON tags rather than a schema-compiler
// generated type, since the RPC transport (rpcserver/rpcclient) carries
// them as JSON over a websocket via go-jsonrpc.
package wire

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/evalforge/evalforge/hashid"
)

// ChunkSize is the maximum size in bytes of a single FileContents chunk:
// 32 KiB. Blobs at or under this size may be inlined directly into a
// FileInfo instead of requiring a follow-up fetch.
const ChunkSize = 32 * 1024

// Status is the outcome of a single execution.
type Status int

// The closed set of execution outcomes.
const (
	StatusSuccess Status = iota
	StatusSignal
	StatusInternalError
	StatusNotExecutable
	StatusInvalidRequest
	StatusMissingFiles
	StatusOverloaded
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusSignal:
		return "SIGNAL"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	case StatusNotExecutable:
		return "NOT_EXECUTABLE"
	case StatusInvalidRequest:
		return "INVALID_REQUEST"
	case StatusMissingFiles:
		return "MISSING_FILES"
	case StatusOverloaded:
		return "OVERLOADED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// FileType distinguishes the role a FileInfo plays in a Request/Response.
type FileType int

// The roles a file can play in an execution.
const (
	FileOther FileType = iota
	FileStdin
	FileStdout
	FileStderr
)

// CachingMode controls whether and how a response may be served from the
// worker's Response Cache instead of re-running the sandbox.
type CachingMode int

// The three caching modes an Execution may declare.
const (
	CachingNever CachingMode = iota
	CachingSameExecutor
	CachingAlways
)

// FileContents is one bounded chunk of a blob as transmitted over the wire;
// a final empty chunk terminates a stream.
type FileContents struct {
	Chunk []byte `json:"chunk"`
}

// FileInfo describes one input or output file attached to a Request or
// Response. Contents is present only when the blob is at most ChunkSize
// bytes.
type FileInfo struct {
	Name       string        `json:"name"`
	Type       FileType      `json:"type"`
	Hash       hashid.H      `json:"hash"`
	Executable bool          `json:"executable"`
	Contents   *FileContents `json:"contents,omitempty"`
}

// ResourceLimit carries the per-execution resource caps.
// Times are in seconds, sizes in KiB, matching the Request encoding (the
// Response's resource usage is reported separately, in ResourceUsage).
type ResourceLimit struct {
	CPUTime   float64 `json:"cpu_time"`
	WallTime  float64 `json:"wall_time"`
	Memory    int64   `json:"memory"`
	Files     int64   `json:"nfiles"`
	Processes int64   `json:"processes"`
	FileSize  int64   `json:"fsize"`
	MLock     int64   `json:"mlock"`
	Stack     int64   `json:"stack"`
	ExtraTime float64 `json:"extra_time"`
}

// Request is one unit of work dispatched to an evaluator.
type Request struct {
	ID            string        `json:"id"`
	Executable    string        `json:"executable"`
	Args          []string      `json:"arg"`
	Input         []FileInfo    `json:"input"`
	Output        []FileInfo    `json:"output"`
	ResourceLimit ResourceLimit `json:"resource_limit"`
	Exclusive     bool          `json:"exclusive"`
	KeepSandbox   bool          `json:"keep_sandbox"`
	FifoSize      int           `json:"fifo_size"`
}

// ResourceUsage is what the sandbox actually measured for a finished run.
type ResourceUsage struct {
	CPUTime  float64 `json:"cpu_time"`
	SysTime  float64 `json:"sys_time"`
	WallTime float64 `json:"wall_time"`
	Memory   int64   `json:"memory"`
}

// Response is the result of running a Request.
type Response struct {
	RequestID     string        `json:"request_id"`
	Status        Status        `json:"status"`
	StatusCode    int           `json:"status_code"`
	Signal        int           `json:"signal"`
	ResourceUsage ResourceUsage `json:"resource_usage"`
	Output        []FileInfo    `json:"output"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Cached        bool          `json:"cached"`
}

// Fingerprint computes the canonical cache key for req: a
// hash over the executable, args, input hashes+executable bits, resource
// limits and exclusivity. Declared output *names* are deliberately
// excluded, so two requests differing only in what they call their outputs
// fingerprint identically. When executorID is non-empty the key is
// extended with it, implementing CachingSameExecutor.
func (r Request) Fingerprint(executorID string) hashid.H {
	// A stable, explicit encoding rather than json.Marshal on the Request
	// itself: map iteration order is undefined and Request.Output must be
	// excluded entirely, so we build a small canonical struct by hand.
	type canonicalInput struct {
		Name       string   `json:"name"`
		Hash       hashid.H `json:"hash"`
		Executable bool     `json:"executable"`
	}
	inputs := make([]canonicalInput, 0, len(r.Input))
	for _, in := range r.Input {
		inputs = append(inputs, canonicalInput{Name: in.Name, Hash: in.Hash, Executable: in.Executable})
	}
	sort.Slice(inputs, func(i, j int) bool {
		return inputs[i].Name < inputs[j].Name
	})

	canonical := struct {
		Executable    string           `json:"executable"`
		Args          []string         `json:"args"`
		Inputs        []canonicalInput `json:"inputs"`
		ResourceLimit ResourceLimit    `json:"resource_limit"`
		Exclusive     bool             `json:"exclusive"`
		ExecutorID    string           `json:"executor_id,omitempty"`
	}{
		Executable:    r.Executable,
		Args:          r.Args,
		Inputs:        inputs,
		ResourceLimit: r.ResourceLimit,
		Exclusive:     r.Exclusive,
		ExecutorID:    executorID,
	}

	// json.Marshal fails only on unsupported types (channels, funcs); the
	// canonical struct above contains none, so the error is always nil.
	encoded, _ := json.Marshal(canonical)
	return hashid.H(sha256.Sum256(encoded))
}
