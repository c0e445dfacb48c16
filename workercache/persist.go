package workercache

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/evalforge/evalforge/hashid"
)

// encodeBlobMeta/decodeBlobMeta give blobMeta a fixed-width wire form for
// bbolt's byte-slice values: two big-endian int64s, size then last-access.
func encodeBlobMeta(m blobMeta) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.Size))
	binary.BigEndian.PutUint64(buf[8:16], uint64(m.LastAccess))
	return buf
}

func decodeBlobMeta(buf []byte) blobMeta {
	if len(buf) != 16 {
		return blobMeta{}
	}
	return blobMeta{
		Size:       int64(binary.BigEndian.Uint64(buf[0:8])),
		LastAccess: int64(binary.BigEndian.Uint64(buf[8:16])),
	}
}

// loadPersisted populates the in-memory LRU from the bbolt-backed metadata
// left over from a previous run, so a restarted worker does not need to
// re-touch every blob before eviction accounting is meaningful again.
func (c *Cache) loadPersisted() error {
	return c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(blobsBucket)
		return b.ForEach(func(k, v []byte) error {
			h, err := hashid.Parse(string(k))
			if err != nil {
				return nil // skip anything we don't recognize
			}
			c.blobs.Add(h, decodeBlobMeta(v))
			return nil
		})
	})
}
