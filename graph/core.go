// Package graph implements evalforge's execution graph:
// the FileRef lattice, Execution nodes, a DAG keyed by integer ids rather
// than string task names, and the driver that threads hashes through it.
// Generalizes a task runner's Vertex/Graph (parent/child sets,
// InDegree/OutDegree) from `map[string]Vertex` to `map[ExecutionID]*node`,
// and its buildGraph → Sort → run shape to a concurrent, readiness-based
// scheduler.
package graph

import (
	"fmt"
	"sync"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/wire"
)

// FileID is a FileRef's globally unique, monotonically assigned identity
// within one manager process.
type FileID int64

// ExecutionID is an Execution node's identity within one Graph.
type ExecutionID int64

// IDGenerator hands out monotonically increasing ids starting at 1,
// shared by FileIDs and ExecutionIDs alike (design notes: "IDs, not
// pointers, flow through the scheduler").
type IDGenerator struct {
	mu   sync.Mutex
	next int64
}

// NewIDGenerator returns a generator whose first Next() is 1.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{next: 1}
}

// Next returns the next id in sequence.
func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	g.next++
	return id
}

// FileRef is a logical handle to an artifact: an id, a description, an
// immutable executable bit, and a hash that transitions from Unset to
// Set(H) exactly once.
type FileRef struct {
	ID          FileID
	Description string
	Executable  bool

	mu  sync.Mutex
	h   hashid.H
	set bool
}

// NewFileRef returns an unset FileRef.
func NewFileRef(id FileID, description string, executable bool) *FileRef {
	return &FileRef{ID: id, Description: description, Executable: executable}
}

// IsSet reports whether the ref has transitioned to Set(H).
func (r *FileRef) IsSet() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set
}

// Hash returns the ref's hash and whether it is set.
func (r *FileRef) Hash() (hashid.H, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.h, r.set
}

// SetHash transitions the ref to Set(h). It is an error to call this more
// than once on the same ref ("Unset → Set(H) exactly once").
func (r *FileRef) SetHash(h hashid.H) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set {
		return fmt.Errorf("graph: file %d (%s) is already set", r.ID, r.Description)
	}
	r.h = h
	r.set = true
	return nil
}

// Execution is one sandboxed command invocation, immutable after
// construction apart from its FileRefs' own hash transitions.
type Execution struct {
	Executable     string
	Args           []string
	Inputs         map[string]*FileRef // relative path -> input FileRef
	Stdin          *FileRef
	Outputs        map[string]*FileRef // relative path -> declared output FileRef
	Stdout         *FileRef
	Stderr         *FileRef
	ResourceLimits wire.ResourceLimit
	Exclusive      bool
	CachingMode    wire.CachingMode
	DieOnError     bool
}

// Deps returns the FileIDs this execution must wait on before it is
// runnable.
func (e *Execution) Deps() []FileID {
	deps := make([]FileID, 0, len(e.Inputs)+1)
	for _, ref := range e.Inputs {
		deps = append(deps, ref.ID)
	}
	if e.Stdin != nil {
		deps = append(deps, e.Stdin.ID)
	}
	return deps
}

// Produces returns the FileIDs this execution is responsible for setting
// once it completes successfully.
func (e *Execution) Produces() []FileID {
	out := make([]FileID, 0, len(e.Outputs)+2)
	for _, ref := range e.Outputs {
		out = append(out, ref.ID)
	}
	if e.Stdout != nil {
		out = append(out, e.Stdout.ID)
	}
	if e.Stderr != nil {
		out = append(out, e.Stderr.ID)
	}
	return out
}

// Runnable reports whether every dependency of e is currently Set.
func (e *Execution) Runnable() bool {
	for _, ref := range e.Inputs {
		if !ref.IsSet() {
			return false
		}
	}
	if e.Stdin != nil && !e.Stdin.IsSet() {
		return false
	}
	return true
}

// BuildRequest assembles the wire.Request for running e, failing if any
// dependency is not yet Set.
func (e *Execution) BuildRequest(id ExecutionID) (wire.Request, error) {
	req := wire.Request{
		ID:            fmt.Sprintf("%d", id),
		Executable:    e.Executable,
		Args:          e.Args,
		ResourceLimit: e.ResourceLimits,
		Exclusive:     e.Exclusive,
	}

	for name, ref := range e.Inputs {
		h, ok := ref.Hash()
		if !ok {
			return wire.Request{}, fmt.Errorf("graph: input %q (file %d) not yet set", name, ref.ID)
		}
		req.Input = append(req.Input, wire.FileInfo{Name: name, Hash: h, Executable: ref.Executable})
	}
	if e.Stdin != nil {
		h, ok := e.Stdin.Hash()
		if !ok {
			return wire.Request{}, fmt.Errorf("graph: stdin (file %d) not yet set", e.Stdin.ID)
		}
		req.Input = append(req.Input, wire.FileInfo{Name: "stdin", Type: wire.FileStdin, Hash: h})
	}
	for name := range e.Outputs {
		req.Output = append(req.Output, wire.FileInfo{Name: name, Type: wire.FileOther})
	}

	return req, nil
}

// ApplyResponse threads a finished Response's output hashes back through
// e's FileRef lattice. Only called for a StatusSuccess response — callers
// are responsible for leaving outputs unset on a non-success response.
func (e *Execution) ApplyResponse(resp wire.Response) error {
	for _, out := range resp.Output {
		var ref *FileRef
		switch out.Type {
		case wire.FileStdout:
			ref = e.Stdout
		case wire.FileStderr:
			ref = e.Stderr
		default:
			ref = e.Outputs[out.Name]
		}
		if ref == nil {
			continue // an output the caller did not declare interest in
		}
		if err := ref.SetHash(out.Hash); err != nil {
			return err
		}
	}
	return nil
}
