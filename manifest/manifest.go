// Package manifest loads a small YAML graph-definition format into a
// graph.Graph: a minimal, generic way to describe a set of executions and
// their dependencies for exercising the engine locally, rather than a
// contest-judging DSL with checker/generator/validator semantics.
//
// Shares its glob expansion (bmatcuk/doublestar/v4) and its "declared
// dependency becomes a concrete node input" shape with a task runner's
// own task-graph builder, but describes a general graph.Execution instead
// of a task bound to an AST.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/evalforge/evalforge/filehash"
	"github.com/evalforge/evalforge/graph"
	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/store"
	"github.com/evalforge/evalforge/wire"
)

// file is the raw YAML document shape.
type file struct {
	Executions []executionSpec `yaml:"executions"`
}

type executionSpec struct {
	Name          string            `yaml:"name"`
	Executable    string            `yaml:"executable"`
	Args          []string          `yaml:"args"`
	Inputs        []inputSpec       `yaml:"inputs"`
	Globs         []string          `yaml:"globs"`
	Stdin         *inputSpec        `yaml:"stdin"`
	Outputs       []string          `yaml:"outputs"`
	ResourceLimit resourceLimitSpec `yaml:"resource_limit"`
	Exclusive     bool              `yaml:"exclusive"`
	CachingMode   string            `yaml:"caching_mode"`
	DieOnError    bool              `yaml:"die_on_error"`
}

// inputSpec names one input of an execution, sourced either from a single
// local file (Path, a literal path relative to the manifest) or from
// another execution's declared output (From,
// "<execution-name>.<output-name>"). Exactly one of Path or From must be
// set. Glob-expanded file inputs are declared separately via
// executionSpec.Globs.
type inputSpec struct {
	Name       string `yaml:"name"`
	Path       string `yaml:"path"`
	From       string `yaml:"from"`
	Executable bool   `yaml:"executable"`
}

type resourceLimitSpec struct {
	CPUTime   float64 `yaml:"cpu_time"`
	WallTime  float64 `yaml:"wall_time"`
	Memory    int64   `yaml:"memory"`
	Files     int64   `yaml:"nfiles"`
	Processes int64   `yaml:"processes"`
	FileSize  int64   `yaml:"fsize"`
	MLock     int64   `yaml:"mlock"`
	Stack     int64   `yaml:"stack"`
	ExtraTime float64 `yaml:"extra_time"`
}

// Result is what Load builds: the graph ready to run, plus enough indexing
// to let a caller look a named execution's outputs back up once the graph
// has finished running.
type Result struct {
	Graph       *graph.Graph
	ExecutionID map[string]graph.ExecutionID // execution name -> id
	Output      map[string]*graph.FileRef    // "<execution>.<output>" -> ref
}

// Load reads the manifest at path and builds a graph.Graph from it. Local
// file inputs are resolved relative to the manifest's directory, ingested
// into s, and their FileRefs are seeded as already Set.
func Load(path string, s *store.Store) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: could not read %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("manifest: could not parse %s: %w", path, err)
	}

	return build(f, filepath.Dir(path), s)
}

func build(f file, root string, s *store.Store) (*Result, error) {
	if err := validateNames(f.Executions); err != nil {
		return nil, err
	}

	ids := graph.NewIDGenerator()

	// Pass 1: create every declared output's FileRef up front, so inputs
	// sourced with `from:` can resolve regardless of declaration order.
	outputs := make(map[string]*graph.FileRef) // "exec.output" -> ref
	for _, spec := range f.Executions {
		for _, name := range spec.Outputs {
			ref := graph.NewFileRef(graph.FileID(ids.Next()), fmt.Sprintf("%s.%s", spec.Name, name), false)
			outputs[spec.Name+"."+name] = ref
		}
	}

	// Collect and ingest every local file this manifest references, so
	// pass 2 can seed input FileRefs with an already-known hash.
	localFiles, err := collectLocalPaths(f.Executions, root)
	if err != nil {
		return nil, err
	}
	hashes, err := filehash.IngestAll(s, localFiles)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	g := graph.New()
	execIDs := make(map[string]graph.ExecutionID)

	for _, spec := range f.Executions {
		exec, err := buildExecution(spec, root, hashes, outputs, ids)
		if err != nil {
			return nil, fmt.Errorf("manifest: execution %q: %w", spec.Name, err)
		}
		id := graph.ExecutionID(ids.Next())
		if err := g.AddExecution(id, exec); err != nil {
			return nil, fmt.Errorf("manifest: execution %q: %w", spec.Name, err)
		}
		execIDs[spec.Name] = id
	}

	return &Result{Graph: g, ExecutionID: execIDs, Output: outputs}, nil
}

func validateNames(specs []executionSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return fmt.Errorf("manifest: execution with empty name")
		}
		if seen[spec.Name] {
			return fmt.Errorf("manifest: duplicate execution name %q", spec.Name)
		}
		seen[spec.Name] = true
	}
	return nil
}

// collectLocalPaths walks every execution's Path-sourced inputs (including
// stdin) and Globs patterns, returning the deduplicated, sorted set of
// absolute paths that need ingesting.
func collectLocalPaths(specs []executionSpec, root string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	addPath := func(relPath string) error {
		abs, err := resolveLiteralPath(root, relPath)
		if err != nil {
			return err
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
		return nil
	}

	for _, spec := range specs {
		for _, in := range spec.Inputs {
			if in.Path == "" {
				continue
			}
			if err := addPath(in.Path); err != nil {
				return nil, err
			}
		}
		if spec.Stdin != nil && spec.Stdin.Path != "" {
			if err := addPath(spec.Stdin.Path); err != nil {
				return nil, err
			}
		}
		for _, pattern := range spec.Globs {
			matches, err := expandGlob(root, pattern)
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				abs, err := resolveLiteralPath(root, m)
				if err != nil {
					return nil, err
				}
				if !seen[abs] {
					seen[abs] = true
					out = append(out, abs)
				}
			}
		}
	}

	sort.Strings(out)
	return out, nil
}

// resolveLiteralPath joins a literal (non-glob) relative path onto root
// and makes it absolute.
func resolveLiteralPath(root, relPath string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(root, relPath))
	if err != nil {
		return "", fmt.Errorf("manifest: could not resolve path %q: %w", relPath, err)
	}
	return abs, nil
}

// expandGlob expands pattern relative to root, returning matches as
// root-relative slash paths.
func expandGlob(root, pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return nil, fmt.Errorf("manifest: could not expand glob %q: %w", pattern, err)
	}
	return matches, nil
}

// buildExecution assembles one graph.Execution from its YAML spec, wiring
// local-file inputs to their already-ingested hashes and from: inputs to
// the producing execution's output FileRef.
func buildExecution(
	spec executionSpec,
	root string,
	hashes map[string]hashid.H,
	outputs map[string]*graph.FileRef,
	ids *graph.IDGenerator,
) (*graph.Execution, error) {
	exec := &graph.Execution{
		Executable: spec.Executable,
		Args:       spec.Args,
		Inputs:     make(map[string]*graph.FileRef),
		Outputs:    make(map[string]*graph.FileRef),
		ResourceLimits: wire.ResourceLimit{
			CPUTime:   spec.ResourceLimit.CPUTime,
			WallTime:  spec.ResourceLimit.WallTime,
			Memory:    spec.ResourceLimit.Memory,
			Files:     spec.ResourceLimit.Files,
			Processes: spec.ResourceLimit.Processes,
			FileSize:  spec.ResourceLimit.FileSize,
			MLock:     spec.ResourceLimit.MLock,
			Stack:     spec.ResourceLimit.Stack,
			ExtraTime: spec.ResourceLimit.ExtraTime,
		},
		Exclusive:   spec.Exclusive,
		DieOnError:  spec.DieOnError,
		CachingMode: cachingMode(spec.CachingMode),
	}

	for _, in := range spec.Inputs {
		ref, err := resolveInput(in, root, hashes, outputs, ids)
		if err != nil {
			return nil, err
		}
		name := in.Name
		if name == "" {
			name = filepath.Base(in.Path)
		}
		exec.Inputs[name] = ref
	}

	for _, pattern := range spec.Globs {
		matches, err := expandGlob(root, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			abs, err := resolveLiteralPath(root, m)
			if err != nil {
				return nil, err
			}
			h, ok := hashes[abs]
			if !ok {
				return nil, fmt.Errorf("glob %q: %s was not ingested", pattern, abs)
			}
			ref := graph.NewFileRef(graph.FileID(ids.Next()), m, false)
			if err := ref.SetHash(h); err != nil {
				return nil, err
			}
			exec.Inputs[filepath.ToSlash(m)] = ref
		}
	}

	if spec.Stdin != nil {
		ref, err := resolveInput(*spec.Stdin, root, hashes, outputs, ids)
		if err != nil {
			return nil, err
		}
		exec.Stdin = ref
	}

	for _, name := range spec.Outputs {
		ref, ok := outputs[spec.Name+"."+name]
		if !ok {
			return nil, fmt.Errorf("output %q not registered", name)
		}
		exec.Outputs[name] = ref
	}

	return exec, nil
}

// resolveInput turns one inputSpec into a FileRef: a Path input is seeded
// as already Set from the ingested hash map; a From input reuses the
// referenced execution's output FileRef directly (same FileID), so the
// graph's edge-derivation in graph.Graph.edges sees the dependency.
func resolveInput(
	in inputSpec,
	root string,
	hashes map[string]hashid.H,
	outputs map[string]*graph.FileRef,
	ids *graph.IDGenerator,
) (*graph.FileRef, error) {
	switch {
	case in.From != "":
		ref, ok := outputs[in.From]
		if !ok {
			return nil, fmt.Errorf("input %q: unknown output reference %q", in.Name, in.From)
		}
		return ref, nil

	case in.Path != "":
		abs, err := resolveLiteralPath(root, in.Path)
		if err != nil {
			return nil, err
		}
		h, ok := hashes[abs]
		if !ok {
			return nil, fmt.Errorf("input %q: %s was not ingested", in.Name, abs)
		}
		ref := graph.NewFileRef(graph.FileID(ids.Next()), in.Path, in.Executable)
		if err := ref.SetHash(h); err != nil {
			return nil, err
		}
		return ref, nil

	default:
		return nil, fmt.Errorf("input %q: neither path nor from is set", in.Name)
	}
}

func cachingMode(s string) wire.CachingMode {
	switch s {
	case "same_executor":
		return wire.CachingSameExecutor
	case "always":
		return wire.CachingAlways
	default:
		return wire.CachingNever
	}
}
