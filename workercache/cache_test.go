package workercache_test

import (
	"path/filepath"
	"testing"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/wire"
	"github.com/evalforge/evalforge/workercache"
)

func TestResponseCacheRoundTrip(t *testing.T) {
	c, err := workercache.New(workercache.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	fp := hashid.Sum([]byte("fingerprint"))
	resp := wire.Response{RequestID: "r1", Status: wire.StatusSuccess}
	c.PutResponse(fp, resp)

	got, ok := c.GetResponse(fp)
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got.RequestID != "r1" {
		t.Fatalf("got %+v", got)
	}
}

func TestResponseCacheNeverStoresInternalError(t *testing.T) {
	c, err := workercache.New(workercache.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	fp := hashid.Sum([]byte("bad"))
	c.PutResponse(fp, wire.Response{Status: wire.StatusInternalError})
	if _, ok := c.GetResponse(fp); ok {
		t.Fatal("an INTERNAL_ERROR response must never be cached")
	}
}

func TestBlobTrackingAndEviction(t *testing.T) {
	c, err := workercache.New(workercache.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	h1 := hashid.Sum([]byte("one"))
	h2 := hashid.Sum([]byte("two"))
	c.Touch(h1, 10)
	c.Touch(h2, 20)

	if got := c.TotalSize(); got != 30 {
		t.Fatalf("expected total size 30, got %d", got)
	}

	lru := c.LeastRecentlyUsed(1)
	if len(lru) != 1 || lru[0] != h1 {
		t.Fatalf("expected h1 to be least recently used, got %v", lru)
	}

	c.Forget(h1)
	if got := c.TotalSize(); got != 20 {
		t.Fatalf("expected total size 20 after forgetting h1, got %d", got)
	}
}

func TestPersistentCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	h := hashid.Sum([]byte("persisted"))

	c1, err := workercache.New(workercache.Config{Persist: true, BoltPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c1.Touch(h, 42)
	if err := c1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := workercache.New(workercache.Config{Persist: true, BoltPath: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()
	if got := c2.TotalSize(); got != 42 {
		t.Fatalf("expected persisted size 42 after reopen, got %d", got)
	}
}
