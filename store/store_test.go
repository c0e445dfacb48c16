package store_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/store"
	"github.com/evalforge/evalforge/wire"
)

func TestWriteReadRoundTrip(t *testing.T) {
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := []byte("the quick brown fox jumps over the lazy dog")
	h, err := s.Write(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if want := hashid.Sum(data); h != want {
		t.Fatalf("got hash %s, want %s", h, want)
	}
	if !s.Exists(h) {
		t.Fatal("blob should exist after Write")
	}

	var got bytes.Buffer
	err = s.Read(h, func(c wire.FileContents) error {
		got.Write(c.Chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got.Bytes(), data) {
		t.Fatalf("round trip mismatch: got %q, want %q", got.Bytes(), data)
	}
}

func TestMissingBlobSizeIsNegative(t *testing.T) {
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Size(hashid.Sum([]byte("never written"))) >= 0 {
		t.Fatal("Size of a missing blob must be negative")
	}
}

func TestWriteDedupesIdenticalContent(t *testing.T) {
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h1, err := s.Write(bytes.NewReader([]byte("same bytes")))
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	h2, err := s.Write(bytes.NewReader([]byte("same bytes")))
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("identical content hashed differently: %s vs %s", h1, h2)
	}
}

func TestHashRenameThenRehash(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "original")
	if err := os.WriteFile(original, []byte("payload"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	h1, err := store.Hash(original)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	s, err := store.New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	renamed := s.PathFor(h1)
	if err := os.MkdirAll(filepath.Dir(renamed), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.Rename(original, renamed); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	h2, err := store.Hash(renamed)
	if err != nil {
		t.Fatalf("Hash after rename: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("rename changed the hash: %s vs %s", h1, h2)
	}
}

func TestEmptyStdinHashesEmptyString(t *testing.T) {
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := s.Write(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if h != hashid.Sum(nil) {
		t.Fatalf("empty blob should hash to SHA256(\"\"), got %s", h)
	}
}

func TestWriteChunksDrainsChannel(t *testing.T) {
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch := make(chan wire.FileContents, 3)
	ch <- wire.FileContents{Chunk: []byte("hel")}
	ch <- wire.FileContents{Chunk: []byte("lo")}
	close(ch)

	h, err := s.WriteChunks(ch)
	if err != nil {
		t.Fatalf("WriteChunks: %v", err)
	}
	if h != hashid.Sum([]byte("hello")) {
		t.Fatalf("got %s, want hash of %q", h, "hello")
	}
}
