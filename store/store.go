// Package store implements evalforge's content-addressed file store: a
// stable, deduplicating, hash-indexed blob store on local disk. It
// generalizes the streaming, concurrent hashing idiom a build tool's own
// hash package uses for cache-key computation to the store's own
// primitive: hash one blob and use the hash as its address.
package store

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/wire"
)

// Store is a content-addressed blob store rooted at Dir.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: could not create store dir %s: %w", dir, err)
	}
	return &Store{Dir: dir}, nil
}

// PathFor returns the absolute path at which a blob with hash h would live,
// whether or not it currently exists.
func (s *Store) PathFor(h hashid.H) string {
	return filepath.Join(s.Dir, hashid.PathFor(h))
}

// Size returns the blob's size, or -1 if it is absent. This is the
// canonical existence test.
func (s *Store) Size(h hashid.H) int64 {
	info, err := os.Stat(s.PathFor(h))
	if err != nil {
		return -1
	}
	return info.Size()
}

// Exists reports whether a blob with hash h is present in the store.
func (s *Store) Exists(h hashid.H) bool {
	return s.Size(h) >= 0
}

// ChunkReceiver is a push-style sink for a blob's bytes, delivered in
// ChunkSize pieces. It is the Go shape of the source's ChunkReceiver
// callback (util/file.hpp): a producer/consumer contract over an ordered
// stream rather than a pulled io.Reader, matching how rpcserver streams
// requestFile chunks back over the wire.
type ChunkReceiver func(wire.FileContents) error

// Read streams the blob at h to receiver in ChunkSize pieces and sends no
// empty final chunk itself (the caller of Read owns deciding whether to
// forward a trailing empty chunk over the wire; worker.Worker.RequestFile
// does this explicitly).
func (s *Store) Read(h hashid.H, receiver ChunkReceiver) error {
	f, err := os.Open(s.PathFor(h))
	if err != nil {
		return fmt.Errorf("store: could not open blob %s: %w", h, err)
	}
	defer f.Close()

	buf := make([]byte, wire.ChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := receiver(wire.FileContents{Chunk: chunk}); sendErr != nil {
				return sendErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: error reading blob %s: %w", h, err)
		}
	}
}

// Write consumes chunks from r, hashing them as it writes, atomically makes
// the result visible at PathFor of that hash, and returns the hash. The first writer of a given hash to finish wins; concurrent
// writers of identical content produce identical bytes so a late writer's
// temp file is simply discarded.
func (s *Store) Write(r io.Reader) (hashid.H, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return hashid.H{}, fmt.Errorf("store: could not create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, "blob-*.tmp")
	if err != nil {
		return hashid.H{}, fmt.Errorf("store: could not create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed into place

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), r); err != nil {
		tmp.Close()
		return hashid.H{}, fmt.Errorf("store: error writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return hashid.H{}, fmt.Errorf("store: error closing temp file: %w", err)
	}

	var h hashid.H
	copy(h[:], hasher.Sum(nil))

	dest := s.PathFor(h)
	if s.Exists(h) {
		// Someone else already finished writing this hash; our bytes are
		// identical by construction, discard ours.
		return h, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return hashid.H{}, fmt.Errorf("store: could not create shard dir: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return hashid.H{}, fmt.Errorf("store: could not publish blob %s: %w", h, err)
	}
	return h, nil
}

// WriteChunks drains a channel of chunks (as produced by a requestFile RPC
// stream) into the store, in place of an io.Reader when the source really
// is push-style.
func (s *Store) WriteChunks(chunks <-chan wire.FileContents) (hashid.H, error) {
	pr, pw := io.Pipe()
	done := make(chan struct{})
	var h hashid.H
	var writeErr error
	go func() {
		defer close(done)
		h, writeErr = s.Write(pr)
	}()
	for chunk := range chunks {
		if len(chunk.Chunk) == 0 {
			break
		}
		if _, err := pw.Write(chunk.Chunk); err != nil {
			pw.CloseWithError(err)
			<-done
			return hashid.H{}, err
		}
	}
	pw.Close()
	<-done
	return h, writeErr
}

// Hash computes the content hash of an arbitrary path without loading it
// fully into memory, streaming the read through SHA-256.
func Hash(path string) (hashid.H, error) {
	f, err := os.Open(path)
	if err != nil {
		return hashid.H{}, fmt.Errorf("store: could not open %s: %w", path, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return hashid.H{}, fmt.Errorf("store: error hashing %s: %w", path, err)
	}
	var h hashid.H
	copy(h[:], hasher.Sum(nil))
	return h, nil
}

// Copy copies from -> to; a reflink/hardlink/clone is permitted since
// callers must not rely on independently mutating either side afterwards.
// The stdlib offers no reflink primitive, so this does a plain byte copy,
// which is always correct if never the cheapest option.
func Copy(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("store: could not create dir for %s: %w", to, err)
	}
	src, err := os.Open(from)
	if err != nil {
		return fmt.Errorf("store: could not open %s: %w", from, err)
	}
	defer src.Close()

	dst, err := os.Create(to)
	if err != nil {
		return fmt.Errorf("store: could not create %s: %w", to, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("store: error copying %s to %s: %w", from, to, err)
	}
	return nil
}

// Ingest copies the file at path into the store and returns its hash,
// deduplicating against an existing blob of the same hash.
func (s *Store) Ingest(path string) (hashid.H, error) {
	h, err := Hash(path)
	if err != nil {
		return hashid.H{}, err
	}
	if s.Exists(h) {
		return h, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return hashid.H{}, fmt.Errorf("store: could not open %s: %w", path, err)
	}
	defer f.Close()
	return s.Write(f)
}
