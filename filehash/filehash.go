// Package filehash concurrently ingests a batch of local files into a
// content-addressed store and reports the hash each one settled at.
//
// It is a direct generalization of FollowTheProcess/spok's concurrent file
// hasher (hash/hash.go): the same worker-pool shape (a jobs channel, a
// bounded number of workers, a results channel drained into an
// accumulator), but instead of folding every file into one combined digest
// (spok's use case: "has anything in this set of dependencies changed?"),
// each file keeps its own hash, because the manifest loader needs a
// per-input FileInfo rather than a single cache-key digest.
package filehash

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/store"
)

// result is one file's ingestion outcome, passed around on a channel.
type result struct {
	path string
	hash hashid.H
	err  error
}

// IngestAll ingests every file in paths into s concurrently and returns a
// map of path to the hash it was stored under. If any file fails to
// ingest, the first error encountered is returned and the map is nil.
func IngestAll(s *store.Store, paths []string) (map[string]hashid.H, error) {
	if len(paths) == 0 {
		return map[string]hashid.H{}, nil
	}

	jobs := make(chan string)
	results := make(chan result)

	nWorkers := runtime.NumCPU()
	if nWorkers > len(paths) {
		nWorkers = len(paths)
	}

	var wg sync.WaitGroup
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go worker(s, jobs, results, &wg)
	}

	go func() {
		for _, p := range paths {
			jobs <- p
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]hashid.H, len(paths))
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("filehash: could not ingest %s: %w", r.path, r.err)
			}
			continue
		}
		out[r.path] = r.hash
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// worker pulls paths off jobs, ingests each into s, and pushes the outcome
// onto results, until jobs is closed.
func worker(s *store.Store, jobs <-chan string, results chan<- result, wg *sync.WaitGroup) {
	defer wg.Done()
	for path := range jobs {
		h, err := s.Ingest(path)
		results <- result{path: path, hash: h, err: err}
	}
}
