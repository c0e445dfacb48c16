// Package sandbox defines evalforge's pluggable process isolator
// and a registry of named backends.
//
// The source (tmsocial/task-maker) dispatches to concrete isolators through
// a virtual base class with a self-registration trick
// (cpp/sandbox/echo.cpp's `Sandbox::Register<Echo> r`). The Design Notes
// call for expressing that as either a closed set of variants or an
// interface plus a name→factory registry; we use the latter, the same
// shape database/sql uses for drivers, since new backends (a real
// ptrace/seccomp isolator, a namespaces-based one) are expected to be
// registered from outside this package.
package sandbox

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/exp/maps"
)

// Sandbox is a pluggable process isolator. Implementations
// are stateless across calls: all per-run state lives in Options/Info.
type Sandbox interface {
	// Execute runs the process described by opts and reports its resource
	// usage and termination cause in info. A false return means the
	// sandbox itself could not run the process at all (as opposed to the
	// process running and failing); errMsg explains why.
	Execute(opts Options, info *Info) (ok bool, errMsg string)
}

// Options carries everything a Sandbox needs to run one process.
type Options struct {
	Root       string // Absolute sandbox directory the process runs in
	Executable string // Path to the executable, relative to Root or absolute
	Args       []string
	StdinFile  string // Empty means no redirected stdin
	StdoutFile string
	StderrFile string

	CPULimitMillis   int64
	WallLimitMillis  int64
	MemoryLimitKB    int64
	MaxFiles         int64
	MaxProcs         int64
	MaxFileSizeKB    int64
	MaxMlockKB       int64
	MaxStackKB       int64
	ExtraTimeSeconds float64
	Exclusive        bool
}

// Info reports what actually happened to the process.
type Info struct {
	CPUTimeMillis  int64
	SysTimeMillis  int64
	WallTimeMillis int64
	MemoryUsageKB  int64
	StatusCode     int
	Signal         int
}

// Errors surfaced by a Sandbox's failure to even start a process, as
// distinct from the process itself exiting abnormally.
var (
	// ErrExecFormat means the binary is not runnable on this platform. The
	// process backend returns this sentinel's message as its error string
	// when starting the binary fails with an exec format error.
	ErrExecFormat = errors.New("sandbox: exec format error")
	// ErrSetupFailed means the isolator itself could not be constructed
	// (namespace/seccomp/cgroup setup failure in a real backend).
	ErrSetupFailed = errors.New("sandbox: setup failed")
)

// Factory constructs a fresh Sandbox instance.
type Factory func() Sandbox

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a named backend to the registry. Called from each
// backend's init(), mirroring the source's self-registration. Panics on a
// duplicate name, since that can only be a programming error (two backends
// fighting over one name), never a runtime condition.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("sandbox: backend %q already registered", name))
	}
	registry[name] = factory
}

// New constructs a Sandbox by its registered name.
func New(name string) (Sandbox, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		if closest := findClosestName(name); closest != "" {
			return nil, fmt.Errorf("sandbox: no backend registered under name %q, did you mean %q?", name, closest)
		}
		return nil, fmt.Errorf("sandbox: no backend registered under name %q", name)
	}
	return factory(), nil
}

// findClosestName suggests the registered backend name that most closely
// matches a typo'd one, for New's error message.
func findClosestName(name string) string {
	matches := fuzzy.RankFindNormalizedFold(name, Names())
	sort.Sort(matches)
	if len(matches) != 0 {
		return matches[0].Target
	}
	return ""
}

// Names returns the names of every currently registered backend, sorted
// is left to the caller since callers display them in different orders.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return maps.Keys(registry)
}
